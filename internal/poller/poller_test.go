package poller_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/MrWong99/ringer/internal/call"
	"github.com/MrWong99/ringer/internal/poller"
	"github.com/MrWong99/ringer/internal/trigger"
	audiomock "github.com/MrWong99/ringer/pkg/audio/mock"
	"github.com/MrWong99/ringer/pkg/kv"
	"github.com/MrWong99/ringer/pkg/notify"
	notifymock "github.com/MrWong99/ringer/pkg/notify/mock"
)

type fakeEngine struct {
	stopping   atomic.Bool
	triggers   atomic.Int32
	triggerErr error
	panicOn    bool
}

func (e *fakeEngine) TriggerCall(context.Context) error {
	if e.panicOn {
		panic("engine exploded")
	}
	e.triggers.Add(1)
	return e.triggerErr
}

func (e *fakeEngine) IsCallStopping() bool { return e.stopping.Load() }

type fakeDue struct {
	due bool
	err error
}

func (d fakeDue) PollDue(context.Context) (bool, error) { return d.due, d.err }

type fakeHost struct {
	mu          sync.Mutex
	registerErr error
	name        string
	interval    time.Duration
	run         func(context.Context) poller.Result
	unregisters int
}

func (h *fakeHost) RegisterBackgroundTask(name string, minInterval time.Duration, run func(context.Context) poller.Result) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.registerErr != nil {
		return h.registerErr
	}
	h.name, h.interval, h.run = name, minInterval, run
	return nil
}

func (h *fakeHost) UnregisterBackgroundTask(string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unregisters++
	h.run = nil
	return nil
}

func mustNew(t *testing.T, cfg poller.Config) *poller.Poller {
	t.Helper()
	p, err := poller.New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestNew_Validation(t *testing.T) {
	if _, err := poller.New(poller.Config{Engine: &fakeEngine{}}); err == nil {
		t.Error("expected error without trigger store")
	}
	if _, err := poller.New(poller.Config{Due: fakeDue{}}); err == nil {
		t.Error("expected error without engine")
	}
}

func TestRunOnce(t *testing.T) {
	tests := []struct {
		name         string
		due          fakeDue
		stopping     bool
		triggerErr   error
		panicOn      bool
		wantFired    bool
		wantTriggers int32
	}{
		{name: "not due", due: fakeDue{}, wantTriggers: 0},
		{name: "due", due: fakeDue{due: true}, wantFired: true, wantTriggers: 1},
		{name: "store error", due: fakeDue{err: errors.New("io")}, wantTriggers: 0},
		{name: "stopping", due: fakeDue{due: true}, stopping: true, wantTriggers: 0},
		{name: "trigger fails", due: fakeDue{due: true}, triggerErr: errors.New("no audio"), wantTriggers: 1},
		{name: "engine panics", due: fakeDue{due: true}, panicOn: true, wantTriggers: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := &fakeEngine{triggerErr: tt.triggerErr, panicOn: tt.panicOn}
			eng.stopping.Store(tt.stopping)
			p := mustNew(t, poller.Config{Due: tt.due, Engine: eng})

			res := p.RunOnce(context.Background())
			if res.Fired != tt.wantFired {
				t.Errorf("Fired = %v, want %v", res.Fired, tt.wantFired)
			}
			if got := eng.triggers.Load(); got != tt.wantTriggers {
				t.Errorf("TriggerCall calls = %d, want %d", got, tt.wantTriggers)
			}
		})
	}
}

func TestStart_InternalTimerFiresOnce(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewMock()
	store := trigger.New(kv.NewMemStore(), clk)
	eng := &fakeEngine{}
	p := mustNew(t, poller.Config{Due: store, Engine: eng, Clock: clk, Interval: time.Second})

	if _, err := store.Schedule(ctx, 3*time.Second); err != nil {
		t.Fatal(err)
	}
	p.Start(ctx)
	p.Start(ctx)
	defer func() { _ = p.Stop() }()

	for i := 0; i < 6; i++ {
		clk.Add(time.Second)
		time.Sleep(2 * time.Millisecond)
	}
	deadline := time.Now().Add(time.Second)
	for eng.triggers.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := eng.triggers.Load(); got != 1 {
		t.Errorf("TriggerCall calls = %d, want exactly 1", got)
	}
}

func TestRegister(t *testing.T) {
	eng := &fakeEngine{}
	p := mustNew(t, poller.Config{Due: fakeDue{due: true}, Engine: eng})

	t.Run("refused", func(t *testing.T) {
		host := &fakeHost{registerErr: errors.New("not permitted")}
		if err := p.Register(host); err == nil {
			t.Error("expected registration error")
		}
		if !p.Degraded() {
			t.Error("Degraded = false after refused registration")
		}
		if res := p.RunOnce(context.Background()); !res.Fired {
			t.Error("manual RunOnce did not fire in degraded mode")
		}
	})

	t.Run("accepted", func(t *testing.T) {
		host := &fakeHost{}
		if err := p.Register(host); err != nil {
			t.Fatalf("Register: %v", err)
		}
		if p.Degraded() {
			t.Error("Degraded = true after successful registration")
		}
		if host.name != poller.TaskName || host.interval != poller.DefaultHostMinInterval {
			t.Errorf("registered %q every %v", host.name, host.interval)
		}
		if res := host.run(context.Background()); !res.Fired {
			t.Error("host invocation did not fire")
		}
		if err := p.Stop(); err != nil {
			t.Fatalf("Stop: %v", err)
		}
		if host.unregisters != 1 {
			t.Errorf("unregisters = %d, want 1", host.unregisters)
		}
	})
}

func TestScheduledCallScenario(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewMock()
	notifier := &notifymock.Channel{}
	ctl, err := call.New(call.Config{
		Store:    kv.NewMemStore(),
		Backend:  &audiomock.Backend{},
		Notifier: notifier,
	}, call.WithClock(clk))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = ctl.Close(ctx) }()
	p := mustNew(t, poller.Config{Due: ctl.Triggers(), Engine: ctl, Clock: clk})

	if err := ctl.ScheduleCall(ctx, 2*time.Second); err != nil {
		t.Fatal(err)
	}
	if res := p.RunOnce(ctx); res.Fired {
		t.Fatal("fired before the delay elapsed")
	}
	clk.Add(2 * time.Second)
	if res := p.RunOnce(ctx); !res.Fired {
		t.Fatal("did not fire after the delay")
	}
	if res := p.RunOnce(ctx); res.Fired {
		t.Fatal("fired twice for one trigger")
	}

	if !ctl.IsCallActive(ctx) {
		t.Error("call not active")
	}
	var high []notify.Notification
	for _, n := range notifier.Sent() {
		if n.Priority == notify.PriorityHigh {
			high = append(high, n)
		}
	}
	if len(high) != 1 || high[0].Type() != notify.TypeCall {
		t.Errorf("high-priority notifications = %+v, want one of type call", high)
	}
}
