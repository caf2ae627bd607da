// Package audio defines the playback abstraction the call engine drives.
//
// The two primary abstractions are:
//
//   - [Backend] — loads an encoded tone and returns a [Handle].
//   - [Handle] — one loaded sound; it can be played, stopped, unloaded and
//     queried for its live [Status].
//
// Host platforms are free to pause a playing handle behind the engine's back
// (for example when the process is backgrounded). Callers detect this through
// [Handle.Status] reporting Loaded && !Playing and resume with [Handle.Play].
//
// This package lives under pkg/ because hosts embedding the engine are
// expected to implement [Backend] for their own audio stack.
package audio

import (
	"context"
	"errors"
)

// ErrUnloaded is returned by [Handle] methods invoked after [Handle.Unload].
var ErrUnloaded = errors.New("audio: handle unloaded")

// Handle is a single loaded sound.
//
// Implementations must be safe for concurrent use. Unload releases the
// underlying resource; every method except Unload and Status returns
// [ErrUnloaded] afterwards. Calling Unload more than once returns nil.
type Handle interface {
	// Play starts or resumes playback. Playing an already playing handle is a
	// no-op.
	Play(ctx context.Context) error

	// Stop halts playback and rewinds. The handle stays loaded.
	Stop(ctx context.Context) error

	// Unload stops playback and frees the handle.
	Unload(ctx context.Context) error

	// Status reports the live playback state. An unloaded handle reports the
	// zero Status and a nil error.
	Status(ctx context.Context) (Status, error)
}

// Backend turns encoded tone bytes into a playable [Handle].
//
// Implementations must be safe for concurrent use.
type Backend interface {
	// Load decodes data (a tone container as produced by package tone) and
	// returns a loaded, not yet playing handle.
	Load(ctx context.Context, data []byte, opts LoadOptions) (Handle, error)
}
