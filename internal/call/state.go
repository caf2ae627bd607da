package call

import "fmt"

// State is the controller's lifecycle state.
type State int

const (
	// Idle means no call is scheduled or ringing.
	Idle State = iota

	// Scheduled means a trigger is persisted and waiting to become due.
	Scheduled

	// Ringing means the call tone is playing.
	Ringing

	// Stopping means a stop path is tearing the call down.
	Stopping
)

// String implements [fmt.Stringer].
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scheduled:
		return "scheduled"
	case Ringing:
		return "ringing"
	case Stopping:
		return "stopping"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// stopKind describes one of the stop paths.
type stopKind struct {
	name    string
	window  windowKind
	ambient bool
}

type windowKind int

const (
	windowStop windowKind = iota
	windowForce
	windowDisable
)

var (
	kindStop       = stopKind{name: "stop", window: windowStop}
	kindTimeout    = stopKind{name: "timeout", window: windowStop}
	kindForce      = stopKind{name: "force", window: windowForce}
	kindForceAny   = stopKind{name: "force_any", window: windowForce, ambient: true}
	kindDisableAll = stopKind{name: "disable_all", window: windowDisable, ambient: true}
	kindStopAll    = stopKind{name: "stop_all", window: windowForce, ambient: true}
	kindClose      = stopKind{name: "close", window: windowForce, ambient: true}
)

// forced reports whether the kind tolerates every failure silently.
func (k stopKind) forced() bool {
	return k.window != windowStop
}
