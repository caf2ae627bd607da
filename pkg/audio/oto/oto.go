// Package oto implements [audio.Backend] on top of github.com/ebitengine/oto/v3.
//
// oto allows a single output context per process, so [New] creates it once
// and later calls reuse it. Tone headers are validated with [tone.ParseHeader] and converted
// to the device format before a player is created for them.
package oto

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/ebitengine/oto/v3"

	"github.com/MrWong99/ringer/pkg/audio"
	"github.com/MrWong99/ringer/pkg/tone"
)

// DefaultFormat is the device format used when [Options] leaves it empty.
var DefaultFormat = audio.Format{SampleRate: 44100, Channels: 2}

// Options configures [New].
type Options struct {
	// Format of the output device. Zero fields fall back to [DefaultFormat].
	Format audio.Format
}

var (
	ctxOnce   sync.Once
	sharedCtx *oto.Context
	ctxErr    error
	ctxFormat audio.Format
)

// Backend plays tones through the system audio device.
type Backend struct {
	ctx    *oto.Context
	format audio.Format
}

var _ audio.Backend = (*Backend)(nil)

// New opens the audio device (once per process) and waits until it is ready
// or ctx is done.
func New(ctx context.Context, opts Options) (*Backend, error) {
	f := opts.Format
	if f.SampleRate == 0 {
		f.SampleRate = DefaultFormat.SampleRate
	}
	if f.Channels == 0 {
		f.Channels = DefaultFormat.Channels
	}

	var ready chan struct{}
	ctxOnce.Do(func() {
		sharedCtx, ready, ctxErr = oto.NewContext(&oto.NewContextOptions{
			SampleRate:   f.SampleRate,
			ChannelCount: f.Channels,
			Format:       oto.FormatSignedInt16LE,
		})
		ctxFormat = f
	})
	if ctxErr != nil {
		return nil, fmt.Errorf("oto: create context: %w", ctxErr)
	}
	if ready != nil {
		select {
		case <-ready:
		case <-ctx.Done():
			return nil, fmt.Errorf("oto: wait for device: %w", ctx.Err())
		}
	}
	if ctxFormat != f {
		slog.Warn("oto: context already open with a different format, reusing it",
			"requested", f.String(),
			"active", ctxFormat.String(),
		)
	}
	return &Backend{ctx: sharedCtx, format: ctxFormat}, nil
}

// Load implements [audio.Backend].
func (b *Backend) Load(_ context.Context, data []byte, opts audio.LoadOptions) (audio.Handle, error) {
	h, err := tone.ParseHeader(data)
	if err != nil {
		return nil, fmt.Errorf("oto: load %q: %w", opts.Label, err)
	}
	raw := data[tone.HeaderSize:]
	if uint32(len(raw)) != h.DataSize {
		return nil, fmt.Errorf("oto: load %q: %w: payload is %d bytes, header declares %d", opts.Label, tone.ErrMalformed, len(raw), h.DataSize)
	}
	out := audio.Convert(raw, audio.Format{SampleRate: int(h.SampleRate), Channels: 1}, b.format)

	src := &loopReader{data: out, loop: opts.Looping}
	p := b.ctx.NewPlayer(src)
	p.SetVolume(audio.ClampVolume(opts.Volume))
	return &handle{player: p, src: src, label: opts.Label}, nil
}

type handle struct {
	mu       sync.Mutex
	player   *oto.Player
	src      *loopReader
	label    string
	unloaded bool
}

func (h *handle) Play(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.unloaded {
		return audio.ErrUnloaded
	}
	if h.src.exhausted() {
		if err := h.rewind(); err != nil {
			return err
		}
	}
	h.player.Play()
	return h.player.Err()
}

func (h *handle) Stop(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.unloaded {
		return audio.ErrUnloaded
	}
	h.player.Pause()
	return h.rewind()
}

func (h *handle) Unload(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.unloaded {
		return nil
	}
	h.unloaded = true
	h.player.Pause()
	if err := h.player.Close(); err != nil {
		return fmt.Errorf("oto: close player %q: %w", h.label, err)
	}
	return nil
}

func (h *handle) Status(context.Context) (audio.Status, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.unloaded {
		return audio.Status{}, nil
	}
	playing := h.player.IsPlaying()
	return audio.Status{
		Loaded:        true,
		Playing:       playing,
		DidJustFinish: !playing && h.src.exhausted(),
	}, h.player.Err()
}

// rewind seeks the player back to the first sample. Callers hold h.mu.
func (h *handle) rewind() error {
	if _, err := h.player.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("oto: rewind %q: %w", h.label, err)
	}
	return nil
}

// loopReader serves data, wrapping to the start when loop is set.
type loopReader struct {
	mu   sync.Mutex
	data []byte
	pos  int
	loop bool
}

func (r *loopReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := 0
	for n < len(p) {
		if r.pos >= len(r.data) {
			if !r.loop {
				break
			}
			r.pos = 0
		}
		c := copy(p[n:], r.data[r.pos:])
		n += c
		r.pos += c
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (r *loopReader) Seek(offset int64, whence int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(r.pos) + offset
	case io.SeekEnd:
		abs = int64(len(r.data)) + offset
	default:
		return 0, fmt.Errorf("oto: invalid whence %d", whence)
	}
	if abs < 0 {
		return 0, fmt.Errorf("oto: negative position %d", abs)
	}
	r.pos = int(abs)
	return abs, nil
}

func (r *loopReader) exhausted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.loop && r.pos >= len(r.data)
}
