package playback_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/MrWong99/ringer/internal/guard"
	"github.com/MrWong99/ringer/internal/playback"
	"github.com/MrWong99/ringer/internal/resilience"
	"github.com/MrWong99/ringer/pkg/audio"
	"github.com/MrWong99/ringer/pkg/audio/mock"
	"github.com/MrWong99/ringer/pkg/tone"
)

func newSession(t *testing.T, backend audio.Backend, g *guard.Guard, tiers []playback.Tier) *playback.Session {
	t.Helper()
	if tiers == nil {
		tiers = playback.CallTiers(tone.RingFrequency)
	}
	s, err := playback.NewSession(playback.Config{
		Name:    "call",
		Backend: backend,
		Tiers:   tiers,
		Guard:   g,
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return s
}

func TestNewSession_Validation(t *testing.T) {
	if _, err := playback.NewSession(playback.Config{Tiers: playback.CallTiers(800)}); err == nil {
		t.Error("expected error without backend")
	}
	if _, err := playback.NewSession(playback.Config{Backend: &mock.Backend{}}); err == nil {
		t.Error("expected error without tiers")
	}
}

func TestSession_StartUsesFirstTier(t *testing.T) {
	ctx := context.Background()
	backend := &mock.Backend{}
	s := newSession(t, backend, nil, nil)

	tier, err := s.Start(ctx, true)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if tier != playback.TierQuickBeep {
		t.Errorf("tier = %q, want %q", tier, playback.TierQuickBeep)
	}
	h := backend.Last()
	if !h.Options.Looping || h.Options.Volume != 1.0 {
		t.Errorf("options = %+v, want looping at volume 1", h.Options)
	}
	wantBytes := tone.HeaderSize + 2*tone.QuickBeep(800).SampleCount()
	if len(h.Data) != wantBytes {
		t.Errorf("loaded %d bytes, want %d", len(h.Data), wantBytes)
	}
	if !s.IsActive(ctx) {
		t.Error("IsActive = false after Start")
	}
}

func TestSession_FallsThroughTiers(t *testing.T) {
	ctx := context.Background()

	t.Run("render failure", func(t *testing.T) {
		backend := &mock.Backend{}
		tiers := playback.CallTiers(800)
		tiers[0].Render = func(tone.Spec) ([]byte, error) { return nil, errors.New("synth broken") }
		s := newSession(t, backend, nil, tiers)

		tier, err := s.Start(ctx, true)
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
		if tier != playback.TierLongRing {
			t.Errorf("tier = %q, want %q", tier, playback.TierLongRing)
		}
	})

	t.Run("load failures", func(t *testing.T) {
		backend := &mock.Backend{}
		backend.FailLoad(playback.TierQuickBeep, errors.New("busy"))
		backend.FailLoad(playback.TierLongRing, errors.New("busy"))
		s := newSession(t, backend, nil, nil)

		tier, err := s.Start(ctx, true)
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
		if tier != playback.TierMinimal {
			t.Errorf("tier = %q, want %q", tier, playback.TierMinimal)
		}
		if v := backend.Last().Options.Volume; v != 0.5 {
			t.Errorf("minimal volume = %v, want 0.5", v)
		}
	})

	t.Run("play failure unloads", func(t *testing.T) {
		backend := &mock.Backend{}
		backend.OnLoad = func(h *mock.Handle) {
			if h.Options.Label == playback.TierQuickBeep {
				h.PlayErr = errors.New("no device")
			}
		}
		s := newSession(t, backend, nil, nil)

		if _, err := s.Start(ctx, false); err != nil {
			t.Fatalf("Start: %v", err)
		}
		first := backend.Handles()[0]
		if first.Loaded() {
			t.Error("handle whose Play failed is still loaded")
		}
	})
}

func TestSession_AllTiersFail(t *testing.T) {
	backend := &mock.Backend{LoadErr: errors.New("no audio")}
	s := newSession(t, backend, nil, nil)

	_, err := s.Start(context.Background(), true)
	if !errors.Is(err, playback.ErrAllTiersFailed) {
		t.Fatalf("err = %v, want ErrAllTiersFailed", err)
	}
	if !errors.Is(err, resilience.ErrAllFailed) {
		t.Errorf("err = %v, want it to wrap resilience.ErrAllFailed", err)
	}
	if got := len(backend.LoadCalls); got != 3 {
		t.Errorf("Load called %d times, want 3", got)
	}
	if s.Held() {
		t.Error("session holds a handle after total failure")
	}
}

func TestSession_StartTearsDownPrevious(t *testing.T) {
	ctx := context.Background()
	backend := &mock.Backend{}
	s := newSession(t, backend, nil, nil)

	if _, err := s.Start(ctx, true); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Start(ctx, true); err != nil {
		t.Fatal(err)
	}
	hs := backend.Handles()
	if len(hs) != 2 {
		t.Fatalf("handles = %d, want 2", len(hs))
	}
	if hs[0].Loaded() || hs[0].Playing() {
		t.Error("first handle still live after second Start")
	}
	if !hs[1].Playing() {
		t.Error("second handle not playing")
	}
}

func TestSession_StopIsIdempotent(t *testing.T) {
	ctx := context.Background()
	backend := &mock.Backend{}
	s := newSession(t, backend, nil, nil)

	if _, err := s.Start(ctx, true); err != nil {
		t.Fatal(err)
	}
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("first Stop: %v", err)
	}
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	_, stops, unloads := backend.Last().Counts()
	if stops != 1 || unloads != 1 {
		t.Errorf("stop/unload = %d/%d, want 1/1", stops, unloads)
	}
	if s.IsActive(ctx) {
		t.Error("IsActive after Stop")
	}
}

func TestSession_StopRunsEveryStep(t *testing.T) {
	ctx := context.Background()
	backend := &mock.Backend{OnLoad: func(h *mock.Handle) {
		h.StopErr = errors.New("stop failed")
		h.UnloadErr = errors.New("unload failed")
	}}
	s := newSession(t, backend, nil, nil)
	if _, err := s.Start(ctx, true); err != nil {
		t.Fatal(err)
	}

	err := s.Stop(ctx)
	if err == nil {
		t.Fatal("expected joined error")
	}
	_, stops, unloads := backend.Last().Counts()
	if stops != 1 || unloads != 1 {
		t.Errorf("stop/unload = %d/%d, want 1/1", stops, unloads)
	}
	if s.Held() {
		t.Error("handle still held after failed Stop")
	}
}

func TestSession_PollResumesPausedHandle(t *testing.T) {
	ctx := context.Background()
	backend := &mock.Backend{}
	s := newSession(t, backend, guard.New(guard.WithClock(clock.NewMock())), nil)
	if _, err := s.Start(ctx, true); err != nil {
		t.Fatal(err)
	}

	resumed, err := s.Poll(ctx)
	if err != nil || resumed {
		t.Fatalf("Poll on playing handle = %v, %v; want false, nil", resumed, err)
	}

	backend.Last().Pause()
	resumed, err = s.Poll(ctx)
	if err != nil || !resumed {
		t.Fatalf("Poll on paused handle = %v, %v; want true, nil", resumed, err)
	}
	if !backend.Last().Playing() {
		t.Error("handle not playing after resume")
	}
}

func TestSession_PollLeavesFinishedHandle(t *testing.T) {
	ctx := context.Background()
	backend := &mock.Backend{}
	s := newSession(t, backend, nil, nil)
	if _, err := s.Start(ctx, false); err != nil {
		t.Fatal(err)
	}
	backend.Last().Finish()

	if resumed, _ := s.Poll(ctx); resumed {
		t.Error("finished non-looping tone was resumed")
	}
}

func TestSession_PollReportsStatusError(t *testing.T) {
	ctx := context.Background()
	backend := &mock.Backend{OnLoad: func(h *mock.Handle) { h.StatusErr = errors.New("gone") }}
	s := newSession(t, backend, nil, nil)
	if _, err := s.Start(ctx, true); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Poll(ctx); err == nil {
		t.Error("expected status error from Poll")
	}
	if s.IsActive(ctx) {
		t.Error("IsActive should be false when status fails")
	}
}

func TestSession_GuardBlocksStartAndPoll(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewMock()
	g := guard.New(guard.WithClock(clk))
	backend := &mock.Backend{}
	s := newSession(t, backend, g, nil)

	if _, err := s.Start(ctx, true); err != nil {
		t.Fatal(err)
	}
	backend.Last().Pause()

	release := g.Arm(guard.ForceWindow)
	release()

	if resumed, err := s.Poll(ctx); resumed || err != nil {
		t.Errorf("Poll under guard = %v, %v; want false, nil", resumed, err)
	}
	if backend.Last().Playing() {
		t.Error("handle resumed while guard active")
	}
	if _, err := s.Start(ctx, true); !errors.Is(err, playback.ErrGuarded) {
		t.Errorf("Start under guard err = %v, want ErrGuarded", err)
	}

	clk.Add(guard.ForceWindow + time.Millisecond)
	if resumed, _ := s.Poll(ctx); !resumed {
		t.Error("Poll did not resume after guard window lapsed")
	}
}

func TestSession_StopKeepsStuckHandle(t *testing.T) {
	ctx := context.Background()
	backend := &mock.Backend{OnLoad: func(h *mock.Handle) {
		h.Stuck = true
		h.StopErr = errors.New("ignored")
	}}
	s := newSession(t, backend, nil, nil)
	if _, err := s.Start(ctx, true); err != nil {
		t.Fatal(err)
	}

	if err := s.Stop(ctx); err == nil {
		t.Fatal("expected error for stuck handle")
	}
	if !s.IsActive(ctx) {
		t.Fatal("IsActive = false while the handle still plays")
	}

	backend.Last().SetStuck(false)
	// StopErr is still set, so the second Stop reports it but drops the handle.
	_ = s.Stop(ctx)
	if s.Held() {
		t.Error("handle still held once it stopped playing")
	}
}
