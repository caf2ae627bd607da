package audio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/MrWong99/ringer/pkg/tone"
)

// Discard is a [Backend] that renders nothing. Its handles track playback
// state against a clock, so a non-looping sound finishes after its encoded
// duration. It serves headless deployments and the test harness.
type Discard struct {
	// Clock measures playback progress. Nil means the wall clock.
	Clock clock.Clock
}

var _ Backend = (*Discard)(nil)

// Load validates data and returns a silent handle.
func (d *Discard) Load(_ context.Context, data []byte, opts LoadOptions) (Handle, error) {
	h, err := tone.ParseHeader(data)
	if err != nil {
		return nil, fmt.Errorf("audio: discard load %q: %w", opts.Label, err)
	}
	clk := d.Clock
	if clk == nil {
		clk = clock.New()
	}
	length := time.Duration(h.DataSize/uint32(h.BlockAlign)) * time.Second / time.Duration(h.SampleRate)
	return &discardHandle{clk: clk, length: length, looping: opts.Looping, loaded: true}, nil
}

type discardHandle struct {
	clk     clock.Clock
	length  time.Duration
	looping bool

	mu       sync.Mutex
	loaded   bool
	playing  bool
	finished bool
	started  time.Time
}

func (h *discardHandle) Play(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.loaded {
		return ErrUnloaded
	}
	h.settle()
	if !h.playing {
		h.playing = true
		h.finished = false
		h.started = h.clk.Now()
	}
	return nil
}

func (h *discardHandle) Stop(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.loaded {
		return ErrUnloaded
	}
	h.playing = false
	return nil
}

func (h *discardHandle) Unload(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.loaded = false
	h.playing = false
	return nil
}

func (h *discardHandle) Status(context.Context) (Status, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.loaded {
		return Status{}, nil
	}
	h.settle()
	return Status{Loaded: true, Playing: h.playing, DidJustFinish: h.finished}, nil
}

// settle marks a non-looping sound finished once its length has elapsed.
// Callers hold h.mu.
func (h *discardHandle) settle() {
	if h.playing && !h.looping && h.clk.Since(h.started) >= h.length {
		h.playing = false
		h.finished = true
	}
}
