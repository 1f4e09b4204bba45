package dsp

import "math"

const DefaultWindowSize = 20

// RMS returns sqrt(mean(x^2)) over frame, or 0 for an empty frame.
func RMS(frame []float32) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(frame)))
}

// Window is a bounded FIFO of recent RMS values used as the background
// level estimate.
type Window struct {
	buf  []float64
	head int
	n    int
}

func NewWindow(size int) *Window {
	if size <= 0 {
		size = DefaultWindowSize
	}
	return &Window{buf: make([]float64, size)}
}

// Push appends v, evicting the oldest value once the window is full, and
// returns the mean of the current contents.
func (w *Window) Push(v float64) float64 {
	idx := (w.head + w.n) % len(w.buf)
	if w.n == len(w.buf) {
		w.head = (w.head + 1) % len(w.buf)
	} else {
		w.n++
	}
	w.buf[idx] = v
	return w.Mean()
}

// Mean returns 0 when the window is empty.
func (w *Window) Mean() float64 {
	if w.n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < w.n; i++ {
		sum += w.buf[(w.head+i)%len(w.buf)]
	}
	return sum / float64(w.n)
}

// Values returns the window contents, oldest first.
func (w *Window) Values() []float64 {
	out := make([]float64, w.n)
	for i := range out {
		out[i] = w.buf[(w.head+i)%len(w.buf)]
	}
	return out
}

func (w *Window) Len() int { return w.n }
func (w *Window) Cap() int { return len(w.buf) }

func (w *Window) Reset() {
	w.head = 0
	w.n = 0
	for i := range w.buf {
		w.buf[i] = 0
	}
}

// meterFloorDB is the quietest level a meter shows.
const meterFloorDB = -60.0

// MeterFraction maps an RMS level to [0, 1] on a dBFS scale from -60 dB to
// full scale, for level meters.
func MeterFraction(rms float64) float64 {
	if rms <= 0 {
		return 0
	}
	db := 20 * math.Log10(rms)
	return math.Max(0, math.Min(1, (db-meterFloorDB)/-meterFloorDB))
}
