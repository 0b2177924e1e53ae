package asyncnode

import (
	"context"
	"fmt"
	"time"

	"github.com/thejerf/suture/v4"
	"golang.org/x/exp/slog"
)

// Watcher re-checks every machine on an interval and logs each change in
// health. Every machine has its own prober under a supervisor.
type Watcher struct {
	log        *slog.Logger
	supervisor *suture.Supervisor
}

type WatcherOpts struct {
	Log      *slog.Logger
	Checker  *Checker
	Outputs  Outputs
	Interval time.Duration

	// OnChange is called from the prober's goroutine whenever a machine's
	// health differs from the previous check. The first check always
	// counts as a change.
	OnChange func(Health)
}

func NewWatcher(opts WatcherOpts) (*Watcher, error) {
	addrs, err := opts.Outputs.Addrs()
	if err != nil {
		return nil, fmt.Errorf("addrs: %w", err)
	}
	if opts.Interval <= 0 {
		return nil, fmt.Errorf("bad interval: %s", opts.Interval)
	}

	supervisor := suture.New("watcher", suture.Spec{
		EventHook: func(ev suture.Event) {
			opts.Log.Error("event hook",
				slog.String("event", ev.String()))
		},
	})
	for _, ma := range addrs {
		_ = supervisor.Add(&prober{
			log: opts.Log.With(
				slog.String("task", "prober"),
				slog.String("name", ma.Machine.Name)),
			checker:  opts.Checker,
			machine:  ma,
			interval: opts.Interval,
			onChange: opts.OnChange,
		})
	}
	return &Watcher{log: opts.Log, supervisor: supervisor}, nil
}

// Serve until the context is canceled.
func (w *Watcher) Serve(ctx context.Context) error {
	w.log.Info("watching machines")

	if err := w.supervisor.Serve(ctx); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

type prober struct {
	log      *slog.Logger
	checker  *Checker
	machine  MachineAddr
	interval time.Duration
	onChange func(Health)

	last *Health
}

func (p *prober) Serve(ctx context.Context) error {
	for {
		h := p.checker.checkMachine(ctx, p.machine)
		if err := ctx.Err(); err != nil {
			return err
		}
		if p.changed(h) {
			p.log.Info("health changed",
				slog.String("addr", h.Addr),
				slog.String("from", p.state()),
				slog.Bool("healthy", h.Healthy))
			p.last = &h
			if p.onChange != nil {
				p.onChange(h)
			}
		}

		select {
		case <-time.After(p.interval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *prober) state() string {
	switch {
	case p.last == nil:
		return "unknown"
	case p.last.Healthy:
		return "up"
	default:
		return "down"
	}
}

func (p *prober) changed(h Health) bool {
	if p.last == nil || p.last.Healthy != h.Healthy {
		return true
	}
	if len(p.last.Ports) != len(h.Ports) {
		return true
	}
	for i := range h.Ports {
		if p.last.Ports[i].Open != h.Ports[i].Open {
			return true
		}
	}
	return false
}

func (p *prober) String() string { return "prober " + p.machine.Machine.Name }
