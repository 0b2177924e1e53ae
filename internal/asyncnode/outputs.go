package asyncnode

import (
	"fmt"
	"net/netip"
	"sort"
)

// Outputs maps each exported name to a machine's public address.
type Outputs map[string]string

// Validate that exactly the exported names are present, each bound to an IP
// address.
func (o Outputs) Validate() error {
	want := make(map[string]struct{}, len(Machines))
	for _, m := range Machines {
		want[m.OutputKey] = struct{}{}
		addr, ok := o[m.OutputKey]
		if !ok {
			return fmt.Errorf("%w: missing %q", InvalidOutputs,
				m.OutputKey)
		}
		if _, err := netip.ParseAddr(addr); err != nil {
			return fmt.Errorf("%w: %q: bad address %q",
				InvalidOutputs, m.OutputKey, addr)
		}
	}
	for k := range o {
		if _, ok := want[k]; !ok {
			return fmt.Errorf("%w: unexpected %q", InvalidOutputs, k)
		}
	}
	return nil
}

// Keys sorted alphabetically.
func (o Outputs) Keys() []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MachineAddr is a machine paired with its published address.
type MachineAddr struct {
	Machine Machine
	Addr    netip.Addr
}

// Addrs pairs every machine with its address. Outputs must be valid.
func (o Outputs) Addrs() ([]MachineAddr, error) {
	if err := o.Validate(); err != nil {
		return nil, fmt.Errorf("validate: %w", err)
	}
	out := make([]MachineAddr, 0, len(Machines))
	for _, m := range Machines {
		addr, err := netip.ParseAddr(o[m.OutputKey])
		if err != nil {
			return nil, fmt.Errorf("parse addr: %w", err)
		}
		out = append(out, MachineAddr{Machine: m, Addr: addr})
	}
	return out, nil
}
