package dsp

import "math"

const DefaultCutoff = 300.0

// HighPass is a single-pole RC high-pass stage. It removes DC offset and
// low-frequency rumble before level estimation.
type HighPass struct {
	alpha float64

	prevIn  float64
	prevOut float64
	primed  bool
}

func NewHighPass(sampleRate, cutoff float64) *HighPass {
	if cutoff <= 0 {
		cutoff = DefaultCutoff
	}
	rc := 1 / (2 * math.Pi * cutoff)
	dt := 1 / sampleRate
	return &HighPass{alpha: rc / (rc + dt)}
}

// Apply filters frame into a new slice of the same length. State carries
// over between calls.
func (f *HighPass) Apply(frame []float32) []float32 {
	out := make([]float32, len(frame))
	for i, s := range frame {
		x := float64(s)
		if !f.primed {
			// Start from the first sample so a DC offset does not produce
			// a step at the beginning of a session.
			f.prevIn = x
			f.primed = true
		}
		y := f.alpha * (f.prevOut + x - f.prevIn)
		f.prevIn = x
		f.prevOut = y
		out[i] = float32(y)
	}
	return out
}

func (f *HighPass) Reset() {
	f.prevIn = 0
	f.prevOut = 0
	f.primed = false
}

func (f *HighPass) Alpha() float64 { return f.alpha }
