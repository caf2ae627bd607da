// Package tone synthesises short procedural tones and encodes them as 16-bit
// mono PCM WAV containers.
//
// Nothing in this package performs I/O or keeps state: [Synthesize] turns a
// [Spec] into float samples, [Quantize] converts them to signed 16-bit PCM and
// [Encode] wraps the result in the fixed 44-byte RIFF/WAVE header described by
// [Header]. The same bytes can be read back with [Decode].
//
// Two waveforms are supported. [Sine] is a single sine at amplitude 0.3.
// [DualTone] adds a second partial at 1.5× the base frequency with amplitude
// 0.1, which gives the longer ring its slightly rougher timbre.
package tone

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// DefaultSampleRate is the sample rate used by every built-in preset.
const DefaultSampleRate = 22050

const (
	primaryAmplitude   = 0.3
	secondaryAmplitude = 0.1
	secondaryRatio     = 1.5
)

// ErrInvalidSpec is returned when a [Spec] has a non-positive frequency,
// duration or sample rate.
var ErrInvalidSpec = errors.New("tone: invalid spec")

// Waveform selects the shape of a synthesised tone.
type Waveform int

const (
	// Sine is a single sine wave: 0.3·sin(2π·f·t).
	Sine Waveform = iota

	// DualTone sums a 0.3 amplitude sine at f and a 0.1 amplitude sine at 1.5·f.
	DualTone
)

// String returns the human-readable name of the waveform.
func (w Waveform) String() string {
	switch w {
	case Sine:
		return "sine"
	case DualTone:
		return "dual"
	default:
		return "unknown"
	}
}

// Spec describes a tone to synthesise. Specs are plain values; build a new
// one per tone.
type Spec struct {
	// Frequency is the base frequency in Hz. Must be > 0.
	Frequency float64

	// Duration is the tone length. Only whole milliseconds count; it must be
	// at least 1ms.
	Duration time.Duration

	// SampleRate in Hz. Zero means [DefaultSampleRate].
	SampleRate int

	// Waveform selects [Sine] or [DualTone].
	Waveform Waveform
}

// Validate reports whether s can be synthesised.
func (s Spec) Validate() error {
	if s.Frequency <= 0 || math.IsNaN(s.Frequency) || math.IsInf(s.Frequency, 0) {
		return fmt.Errorf("%w: frequency %v must be > 0", ErrInvalidSpec, s.Frequency)
	}
	if s.Duration.Milliseconds() <= 0 {
		return fmt.Errorf("%w: duration %v must be at least 1ms", ErrInvalidSpec, s.Duration)
	}
	if s.SampleRate < 0 {
		return fmt.Errorf("%w: sample rate %d must be > 0", ErrInvalidSpec, s.SampleRate)
	}
	if s.Waveform != Sine && s.Waveform != DualTone {
		return fmt.Errorf("%w: unknown waveform %d", ErrInvalidSpec, s.Waveform)
	}
	return nil
}

// rate returns the effective sample rate.
func (s Spec) rate() int {
	if s.SampleRate == 0 {
		return DefaultSampleRate
	}
	return s.SampleRate
}

// SampleCount returns floor(sampleRate·durationMs/1000).
func (s Spec) SampleCount() int {
	return int(int64(s.rate()) * s.Duration.Milliseconds() / 1000)
}

// Synthesize renders s into float samples in the range the waveform produces
// (|x| ≤ 0.4 for the built-in waveforms).
func Synthesize(s Spec) ([]float64, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	rate := float64(s.rate())
	n := s.SampleCount()
	out := make([]float64, n)
	w := 2 * math.Pi * s.Frequency
	for i := range out {
		t := float64(i) / rate
		v := primaryAmplitude * math.Sin(w*t)
		if s.Waveform == DualTone {
			v += secondaryAmplitude * math.Sin(secondaryRatio*w*t)
		}
		out[i] = v
	}
	return out, nil
}

// Quantize clamps each sample to [-1, 1] and converts it to signed 16-bit PCM
// using round(x·32767). The result therefore never leaves [-32767, 32767].
func Quantize(samples []float64) []int16 {
	pcm := make([]int16, len(samples))
	for i, v := range samples {
		pcm[i] = quantize(v)
	}
	return pcm
}

func quantize(v float64) int16 {
	switch {
	case math.IsNaN(v):
		return 0
	case v > 1:
		v = 1
	case v < -1:
		v = -1
	}
	return int16(math.Round(v * math.MaxInt16))
}

// Encode synthesises s and returns the complete WAV container: a 44-byte
// header followed by the little-endian PCM samples.
func Encode(s Spec) ([]byte, error) {
	samples, err := Synthesize(s)
	if err != nil {
		return nil, err
	}
	return EncodePCM(Quantize(samples), s.rate()), nil
}
