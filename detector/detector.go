package detector

import (
	"fmt"
	"math"
	"time"
)

type State int

const (
	Armed State = iota
	Cooling
)

func (s State) String() string {
	if s == Cooling {
		return "cooling"
	}
	return "armed"
}

type TriggerEvent struct {
	RMS        float64
	Background float64
	Time       time.Time
}

func (e TriggerEvent) String() string {
	return fmt.Sprintf("rms=%.4f bg=%.4f at %s", e.RMS, e.Background, e.Time.Format("15:04:05.000"))
}

// Detector fires when a frame's RMS exceeds the adaptive threshold and the
// cooldown since the previous trigger has elapsed. Cooling is not a blocking
// state: every frame is still tested against the gate.
type Detector struct {
	settings *Settings

	fired       bool
	lastTrigger time.Time
}

func New(settings *Settings) *Detector {
	return &Detector{settings: settings}
}

// Threshold is max(background*factor, absolute) for the current settings.
func (d *Detector) Threshold(background float64) float64 {
	return d.settings.Snapshot().Threshold(background)
}

// Threshold is the level a frame must exceed against background.
func (c Config) Threshold(background float64) float64 {
	return math.Max(background*c.SensitivityFactor, c.AbsoluteThreshold)
}

func (d *Detector) cooledDown(cfg Config, now time.Time) bool {
	return !d.fired || now.Sub(d.lastTrigger) > cfg.Cooldown
}

// Evaluate tests one frame. Both comparisons are strict: a frame exactly at
// the threshold, or exactly one cooldown after the last trigger, does not fire.
func (d *Detector) Evaluate(rms, background float64, now time.Time) (TriggerEvent, bool) {
	cfg := d.settings.Snapshot()
	if !(rms > cfg.Threshold(background)) {
		return TriggerEvent{}, false
	}
	if !d.cooledDown(cfg, now) {
		return TriggerEvent{}, false
	}
	d.fired = true
	d.lastTrigger = now
	return TriggerEvent{RMS: rms, Background: background, Time: now}, true
}

func (d *Detector) State(now time.Time) State {
	if d.cooledDown(d.settings.Snapshot(), now) {
		return Armed
	}
	return Cooling
}

func (d *Detector) LastTrigger() (time.Time, bool) {
	return d.lastTrigger, d.fired
}

func (d *Detector) Reset() {
	d.fired = false
	d.lastTrigger = time.Time{}
}
