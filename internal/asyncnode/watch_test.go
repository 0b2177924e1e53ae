package asyncnode

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWatcher(t *testing.T) {
	t.Parallel()

	open := listen(t)
	closed := closedPort(t)
	checker := NewChecker(time.Second).WithPorts(map[Role][]int{
		RoleRabbitMQ: {open},
		RoleRedis:    {open},
		RoleAPI:      {open},
		RoleRedisUI:  {open},
		RoleWorker:   {closed},
	})

	logger, closer := log()
	defer closer()

	changes := make(chan Health, 2*len(Machines))
	w, err := NewWatcher(WatcherOpts{
		Log:      logger,
		Checker:  checker,
		Outputs:  localOutputs(),
		Interval: 10 * time.Millisecond,
		OnChange: func(h Health) { changes <- h },
	})
	check(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Serve(ctx) }()

	seen := map[string]bool{}
	timeout := time.After(10 * time.Second)
	for len(seen) < len(Machines) {
		select {
		case h := <-changes:
			if seen[h.Name] {
				t.Fatalf("%s: reported twice without a change",
					h.Name)
			}
			seen[h.Name] = true
			if h.Healthy == (h.Role == RoleWorker) {
				t.Fatalf("%s: unexpected health %+v", h.Name, h)
			}
		case <-timeout:
			t.Fatalf("timed out with %d changes", len(seen))
		}
	}

	// Let a few more intervals pass. Nothing changed, so nothing is
	// reported.
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("watcher did not stop")
	}
	if n := len(changes); n != 0 {
		t.Fatalf("want no further changes, got %d", n)
	}
}

func TestNewWatcherErrors(t *testing.T) {
	t.Parallel()

	logger, closer := log()
	defer closer()

	_, err := NewWatcher(WatcherOpts{
		Log:      logger,
		Checker:  NewChecker(time.Second),
		Outputs:  localOutputs(),
		Interval: 0,
	})
	if err == nil {
		t.Fatal("expected error for zero interval")
	}

	out := localOutputs()
	out[OutputWorker1] = ""
	_, err = NewWatcher(WatcherOpts{
		Log:      logger,
		Checker:  NewChecker(time.Second),
		Outputs:  out,
		Interval: time.Second,
	})
	if !errors.Is(err, InvalidOutputs) {
		t.Fatalf("want invalid outputs, got %v", err)
	}
}

func TestProberChanged(t *testing.T) {
	t.Parallel()

	p := &prober{}
	up := Health{Healthy: true, Ports: []PortHealth{{Port: 1, Open: true}}}
	if !p.changed(up) {
		t.Fatal("first check must count as a change")
	}
	if p.state() != "unknown" {
		t.Fatalf("want unknown, got %s", p.state())
	}
	p.last = &up
	if p.changed(up) {
		t.Fatal("same health reported as a change")
	}
	down := Health{Ports: []PortHealth{{Port: 1}}}
	if !p.changed(down) {
		t.Fatal("missed a change")
	}
	if p.state() != "up" {
		t.Fatalf("want up, got %s", p.state())
	}
}
