package asyncnode

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sort"
	"strconv"
	"time"

	"github.com/sasha-s/go-deadlock"
	"github.com/sourcegraph/conc/pool"
	"golang.org/x/exp/slog"
)

// Dialer opens a connection to check that a port accepts traffic.
type Dialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// Checker reports whether each machine's service ports accept connections.
type Checker struct {
	timeout time.Duration
	dialer  Dialer

	// ports overrides Role.Ports when set.
	ports map[Role][]int
}

type PortHealth struct {
	Port  int    `json:"port"`
	Open  bool   `json:"open"`
	Error string `json:"error,omitempty"`
}

type Health struct {
	Name    string       `json:"name"`
	Role    Role         `json:"role"`
	Addr    string       `json:"addr"`
	Healthy bool         `json:"healthy"`
	Ports   []PortHealth `json:"ports"`
}

func NewChecker(timeout time.Duration) *Checker {
	return &Checker{
		timeout: timeout,
		dialer:  &net.Dialer{},
	}
}

// WithPorts replaces the ports checked for the given roles.
func (c *Checker) WithPorts(ports map[Role][]int) *Checker {
	c.ports = ports
	return c
}

func (c *Checker) portsFor(r Role) []int {
	if ports, ok := c.ports[r]; ok {
		return ports
	}
	return r.Ports()
}

// Check every machine concurrently. Closed ports are reported in the result
// rather than as an error; an error means the check itself could not run.
func (c *Checker) Check(
	ctx context.Context,
	log *slog.Logger,
	outputs Outputs,
) ([]Health, error) {
	addrs, err := outputs.Addrs()
	if err != nil {
		return nil, fmt.Errorf("addrs: %w", err)
	}

	var (
		mu  deadlock.Mutex
		out = make([]Health, 0, len(addrs))
	)
	p := pool.New().WithErrors()
	for _, ma := range addrs {
		ma := ma
		p.Go(func() error {
			h := c.checkMachine(ctx, ma)
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("check %s: %w", ma.Machine.Name,
					err)
			}
			log.Debug("checked machine",
				slog.String("name", h.Name),
				slog.Bool("healthy", h.Healthy))

			mu.Lock()
			defer mu.Unlock()

			out = append(out, h)
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, fmt.Errorf("wait: %w", err)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (c *Checker) checkMachine(ctx context.Context, ma MachineAddr) Health {
	h := Health{
		Name:    ma.Machine.Name,
		Role:    ma.Machine.Role,
		Addr:    ma.Addr.String(),
		Healthy: true,
	}
	for _, port := range c.portsFor(ma.Machine.Role) {
		ph := PortHealth{Port: port, Open: true}
		if err := c.dial(ctx, ma.Addr, port); err != nil {
			ph.Open = false
			ph.Error = err.Error()
			h.Healthy = false
		}
		h.Ports = append(h.Ports, ph)
	}
	return h
}

func (c *Checker) dial(ctx context.Context, addr netip.Addr, port int) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	hostPort := net.JoinHostPort(addr.String(), strconv.Itoa(port))
	conn, err := c.dialer.DialContext(ctx, "tcp", hostPort)
	if err != nil {
		return fmt.Errorf("dial context: %w", err)
	}
	_ = conn.Close()
	return nil
}
