package playback

import (
	"github.com/MrWong99/ringer/pkg/tone"
)

// Tier names of the built-in call tones.
const (
	TierQuickBeep = "quick-beep"
	TierLongRing  = "long-ring"
	TierMinimal   = "minimal"
)

// Tier is one synthesis/playback strategy. A session tries its tiers in order
// and uses the first one that renders, loads and starts playing.
type Tier struct {
	// Name identifies the tier in logs, metrics and [audio.LoadOptions.Label].
	Name string

	// Spec is the tone to synthesise.
	Spec tone.Spec

	// Volume in [0, 1].
	Volume float64

	// Render turns Spec into container bytes. Nil means [tone.Encode].
	Render func(tone.Spec) ([]byte, error)
}

func (t Tier) render() ([]byte, error) {
	if t.Render != nil {
		return t.Render(t.Spec)
	}
	return tone.Encode(t.Spec)
}

// CallTiers returns the three call tiers for the given base frequency: a one
// second beep, a five second dual tone, and a quieter minimal fallback.
func CallTiers(freq float64) []Tier {
	return []Tier{
		{Name: TierQuickBeep, Spec: tone.QuickBeep(freq), Volume: 1.0},
		{Name: TierLongRing, Spec: tone.LongRing(freq), Volume: 1.0},
		{Name: TierMinimal, Spec: tone.Minimal(freq), Volume: 0.5},
	}
}
