package tone

import "time"

// RingFrequency is the base frequency of the built-in call tones.
const RingFrequency = 800

// QuickBeep is the first call tier: a one second sine beep.
func QuickBeep(freq float64) Spec {
	return Spec{Frequency: freq, Duration: time.Second, SampleRate: DefaultSampleRate, Waveform: Sine}
}

// LongRing is the second call tier: a five second dual tone.
func LongRing(freq float64) Spec {
	return Spec{Frequency: freq, Duration: 5 * time.Second, SampleRate: DefaultSampleRate, Waveform: DualTone}
}

// Minimal is the last-resort call tier. It is the same sine as [QuickBeep];
// the tier plays it at a lower volume.
func Minimal(freq float64) Spec {
	return Spec{Frequency: freq, Duration: time.Second, SampleRate: DefaultSampleRate, Waveform: Sine}
}

// Short returns a plain sine of the given frequency and length, used for
// the transition chimes.
func Short(freq float64, d time.Duration) Spec {
	return Spec{Frequency: freq, Duration: d, SampleRate: DefaultSampleRate, Waveform: Sine}
}
