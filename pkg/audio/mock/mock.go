// Package mock provides in-memory mock implementations of [audio.Backend] and
// [audio.Handle] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	backend := &mock.Backend{}
//	backend.FailLoad("quick-beep", errors.New("device busy"))
//	h, err := backend.Load(ctx, data, audio.LoadOptions{Label: "long-ring"})
//	backend.Handles()[0].Pause() // simulate the host silently pausing audio
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/ringer/pkg/audio"
)

// ─── Handle ───────────────────────────────────────────────────────────────────

// Handle is a mock implementation of [audio.Handle].
// Set the exported *Err fields before use; inspect the CallCount* fields after.
type Handle struct {
	mu sync.Mutex

	// Options are the options the handle was loaded with.
	Options audio.LoadOptions

	// Data is the encoded tone the handle was loaded from.
	Data []byte

	// PlayErr is returned by Play. Playback state is unchanged on error.
	PlayErr error

	// StopErr is returned by Stop. Playback still stops.
	StopErr error

	// UnloadErr is returned by Unload. The handle is still unloaded.
	UnloadErr error

	// StatusErr is returned by Status.
	StatusErr error

	// Stuck makes Stop and Unload leave the handle playing, simulating a
	// platform that ignores teardown requests.
	Stuck bool

	// CallCountPlay records how many times Play was called.
	CallCountPlay int

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	// CallCountUnload records how many times Unload was called.
	CallCountUnload int

	// CallCountStatus records how many times Status was called.
	CallCountStatus int

	loaded   bool
	playing  bool
	finished bool
}

var _ audio.Handle = (*Handle)(nil)

// NewHandle returns a loaded, stopped handle.
func NewHandle(opts audio.LoadOptions) *Handle {
	return &Handle{Options: opts, loaded: true}
}

// Play implements [audio.Handle].
func (h *Handle) Play(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.CallCountPlay++
	if h.PlayErr != nil {
		return h.PlayErr
	}
	if !h.loaded {
		return audio.ErrUnloaded
	}
	h.playing = true
	h.finished = false
	return nil
}

// Stop implements [audio.Handle].
func (h *Handle) Stop(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.CallCountStop++
	if !h.Stuck {
		h.playing = false
	}
	if h.StopErr != nil {
		return h.StopErr
	}
	if !h.loaded {
		return audio.ErrUnloaded
	}
	return nil
}

// Unload implements [audio.Handle].
func (h *Handle) Unload(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.CallCountUnload++
	if h.Stuck {
		return h.UnloadErr
	}
	h.loaded = false
	h.playing = false
	return h.UnloadErr
}

// Status implements [audio.Handle].
func (h *Handle) Status(context.Context) (audio.Status, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.CallCountStatus++
	if h.StatusErr != nil {
		return audio.Status{}, h.StatusErr
	}
	if !h.loaded {
		return audio.Status{}, nil
	}
	return audio.Status{Loaded: true, Playing: h.playing, DidJustFinish: h.finished}, nil
}

// Pause simulates the host platform silently pausing playback.
func (h *Handle) Pause() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.playing = false
}

// Finish simulates a non-looping sound reaching its end.
func (h *Handle) Finish() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.playing = false
	h.finished = true
}

// Playing reports the simulated playback state without counting a call.
func (h *Handle) Playing() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.playing
}

// Loaded reports whether Unload has not been called yet.
func (h *Handle) Loaded() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.loaded
}

// Counts returns the Play, Stop and Unload call counts under the lock.
func (h *Handle) Counts() (play, stop, unload int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.CallCountPlay, h.CallCountStop, h.CallCountUnload
}

// SetStuck replaces Stuck under the lock.
func (h *Handle) SetStuck(stuck bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Stuck = stuck
}

// SetPlayErr replaces PlayErr under the lock.
func (h *Handle) SetPlayErr(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.PlayErr = err
}

// ─── Backend ──────────────────────────────────────────────────────────────────

// LoadCall records the arguments of a single [Backend.Load] invocation.
type LoadCall struct {
	// Bytes is the length of the data argument.
	Bytes int

	// Options is the opts argument.
	Options audio.LoadOptions
}

// Backend is a mock implementation of [audio.Backend]. Every successful Load
// creates a new [Handle] that is appended to the handle list.
type Backend struct {
	mu sync.Mutex

	// LoadErr is returned by every Load call when non-nil.
	LoadErr error

	// LoadCalls records all Load invocations.
	LoadCalls []LoadCall

	// OnLoad, if set, is called with each new handle before it is returned.
	// Use it to inject per-handle errors.
	OnLoad func(*Handle)

	failLabels map[string]error
	handles    []*Handle
}

var _ audio.Backend = (*Backend)(nil)

// FailLoad makes Load return err for sounds labelled label.
func (b *Backend) FailLoad(label string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failLabels == nil {
		b.failLabels = make(map[string]error)
	}
	b.failLabels[label] = err
}

// Load implements [audio.Backend].
func (b *Backend) Load(_ context.Context, data []byte, opts audio.LoadOptions) (audio.Handle, error) {
	b.mu.Lock()
	b.LoadCalls = append(b.LoadCalls, LoadCall{Bytes: len(data), Options: opts})
	err := b.LoadErr
	if e, ok := b.failLabels[opts.Label]; ok {
		err = e
	}
	if err != nil {
		b.mu.Unlock()
		return nil, err
	}
	h := NewHandle(opts)
	h.Data = data
	b.handles = append(b.handles, h)
	onLoad := b.OnLoad
	b.mu.Unlock()

	if onLoad != nil {
		onLoad(h)
	}
	return h, nil
}

// Handles returns a snapshot of every handle created so far, in order.
func (b *Backend) Handles() []*Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Handle, len(b.handles))
	copy(out, b.handles)
	return out
}

// Last returns the most recently created handle, or nil.
func (b *Backend) Last() *Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.handles) == 0 {
		return nil
	}
	return b.handles[len(b.handles)-1]
}

// Labels returns the label of every Load call, including failed ones.
func (b *Backend) Labels() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.LoadCalls))
	for i, c := range b.LoadCalls {
		out[i] = c.Options.Label
	}
	return out
}
