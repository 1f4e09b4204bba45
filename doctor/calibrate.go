package doctor

import (
	"context"
	"math"
	"time"

	"spike/audio"
	"spike/detector"
	"spike/dsp"
)

// headroom over the measured background for the suggested absolute
// threshold.
const headroom = 2.5

type FrameReader interface {
	ReadFrame(dst []float32)
}

// Calibration is the result of listening to a quiet room.
type Calibration struct {
	Frames     int
	Background float64 // mean filtered RMS
	Peak       float64
	Suggested  float64 // absolute threshold to use
}

// SuggestAbsolute scales the background level by the headroom and keeps it
// inside the accepted absolute-threshold range, at display precision.
func SuggestAbsolute(background float64) float64 {
	v := math.Min(background*headroom, detector.MaxAbsoluteThreshold)
	return math.Round(v*1e4) / 1e4
}

// Measure samples r once per tick for d and reports the background level
// the detector would see.
func Measure(ctx context.Context, r FrameReader, d, tick time.Duration) Calibration {
	filter := dsp.NewHighPass(audio.SampleRate, dsp.DefaultCutoff)
	frame := make([]float32, audio.FrameSize)
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	deadline := time.NewTimer(d)
	defer deadline.Stop()

	var c Calibration
	var sum float64
	for {
		select {
		case <-ctx.Done():
			return c.finish(sum)
		case <-deadline.C:
			return c.finish(sum)
		case <-ticker.C:
			r.ReadFrame(frame)
			rms := dsp.RMS(filter.Apply(frame))
			sum += rms
			c.Peak = math.Max(c.Peak, rms)
			c.Frames++
		}
	}
}

func (c Calibration) finish(sum float64) Calibration {
	if c.Frames > 0 {
		c.Background = sum / float64(c.Frames)
	}
	c.Suggested = SuggestAbsolute(c.Background)
	return c
}
