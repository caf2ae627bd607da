package resilience

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

var errTest = errors.New("tier failed to start")

func failN(cb *CircuitBreaker, n int) {
	for range n {
		_ = cb.Execute(func() error { return errTest })
	}
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "quick-beep"})
	if cb.cfg.MaxFailures != DefaultMaxFailures || cb.cfg.ResetTimeout != DefaultResetTimeout {
		t.Errorf("defaults = %d/%v", cb.cfg.MaxFailures, cb.cfg.ResetTimeout)
	}
	if cb.State() != StateClosed {
		t.Errorf("initial state = %v", cb.State())
	}
}

func TestCircuitBreaker_Transitions(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		advance   time.Duration
		trialErr  error
		wantAfter State
	}{
		{name: "below threshold stays closed", failures: 2, wantAfter: StateClosed},
		{name: "threshold opens", failures: 3, wantAfter: StateOpen},
		{name: "open before timeout rejects", failures: 3, advance: 9 * time.Second, wantAfter: StateOpen},
		{name: "successful trial closes", failures: 3, advance: 10 * time.Second, wantAfter: StateClosed},
		{name: "failed trial re-opens", failures: 3, advance: 10 * time.Second, trialErr: errTest, wantAfter: StateOpen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk := clock.NewMock()
			cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "long-ring", Clock: clk})
			failN(cb, tt.failures)

			if tt.advance > 0 {
				clk.Add(tt.advance)
				called := false
				err := cb.Execute(func() error { called = true; return tt.trialErr })
				if tt.advance < cb.cfg.ResetTimeout {
					if called || !errors.Is(err, ErrCircuitOpen) {
						t.Fatalf("call went through an open breaker: called=%v err=%v", called, err)
					}
				} else if !called {
					t.Fatal("trial call not let through after the reset timeout")
				}
			}
			if got := cb.State(); got != tt.wantAfter {
				t.Errorf("state = %v, want %v", got, tt.wantAfter)
			}
		})
	}
}

func TestCircuitBreaker_SuccessResetsCount(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{})
	failN(cb, 2)
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatal(err)
	}
	failN(cb, 2)
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed (success resets the streak)", cb.State())
	}
}

func TestCircuitBreaker_ReturnsFnError(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{})
	if err := cb.Execute(func() error { return errTest }); !errors.Is(err, errTest) {
		t.Errorf("err = %v, want the tier error", err)
	}
}

func TestCircuitBreaker_SingleTrial(t *testing.T) {
	clk := clock.NewMock()
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1, Clock: clk})
	failN(cb, 1)
	clk.Add(DefaultResetTimeout)

	release := make(chan struct{})
	entered := make(chan struct{})
	var trials atomic.Int32
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = cb.Execute(func() error {
			trials.Add(1)
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	if err := cb.Execute(func() error { trials.Add(1); return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second trial err = %v, want ErrCircuitOpen", err)
	}
	close(release)
	wg.Wait()

	if got := trials.Load(); got != 1 {
		t.Errorf("trials = %d, want 1", got)
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %v after successful trial", cb.State())
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1})
	failN(cb, 1)
	if cb.State() != StateOpen {
		t.Fatalf("state = %v", cb.State())
	}
	cb.Reset()
	if cb.State() != StateClosed {
		t.Errorf("state after Reset = %v", cb.State())
	}
}

func TestState_String(t *testing.T) {
	for s, want := range map[State]string{StateClosed: "closed", StateOpen: "open", StateHalfOpen: "half-open", State(9): "unknown"} {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", s, s.String(), want)
		}
	}
}
