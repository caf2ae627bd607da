package audio

// Status is a snapshot of a [Handle]'s playback state.
type Status struct {
	// Loaded is true until the handle is unloaded.
	Loaded bool

	// Playing is true while audio is being rendered.
	Playing bool

	// DidJustFinish is true once a non-looping sound has played to its end.
	DidJustFinish bool
}

// Paused reports whether the handle is loaded but silent and has not
// finished on its own. This is the state the keep-alive loop resumes from.
func (s Status) Paused() bool {
	return s.Loaded && !s.Playing && !s.DidJustFinish
}

// LoadOptions configures a [Backend.Load] call.
type LoadOptions struct {
	// Looping restarts the sound from the beginning when it ends.
	Looping bool

	// Volume in [0, 1]. Values outside the range are clamped by the backend.
	Volume float64

	// Label names the sound in logs (e.g. the fallback tier name).
	Label string
}

// ClampVolume returns v limited to [0, 1].
func ClampVolume(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
