package main

import (
	"sync"
	"sync/atomic"
	"time"

	"spike/beep"
	"spike/clipboard"
	"spike/detector"
	"spike/log"
	"spike/observe"
	"spike/session"
)

const flashDuration = 150 * time.Millisecond

// responder is the audible and visible answer to a trigger. Every beep of
// the alarm sequence is paired with a flash on the active surface.
type responder struct {
	settings *detector.Settings
	alarm    *beep.Alarm
	metrics  *observe.Metrics
	flash    func(time.Duration)

	triggers atomic.Int64
	mu       sync.Mutex
	last     *detector.TriggerEvent
}

func newResponder(settings *detector.Settings, player beep.Player, metrics *observe.Metrics, flash func(time.Duration)) *responder {
	r := &responder{settings: settings, metrics: metrics, flash: flash}
	r.alarm = beep.NewAlarm(player, beep.OnBeep(func() {
		if r.flash != nil {
			r.flash(flashDuration)
		}
	}))
	return r
}

var _ session.Sink = (*responder)(nil)

func (r *responder) Trigger(ev detector.TriggerEvent) {
	r.triggers.Add(1)
	r.mu.Lock()
	r.last = &ev
	r.mu.Unlock()

	log.Trigger(ev.RMS, ev.Background, r.settings.Snapshot().Threshold(ev.Background), ev.Time)
	if !r.alarm.Play() {
		log.Info("trigger_dropped: alarm playing")
		return
	}
	if r.metrics != nil {
		r.metrics.AlarmPlayed("trigger")
	}
}

func (r *responder) Status(st session.Status) {
	switch st.Kind {
	case session.StatusError:
		log.Errorf("session: %v", st.Err)
	case session.StatusTriggered:
	default:
		log.Info("status: " + st.String())
	}
}

func (r *responder) Level(float64, float64) {}

// Test plays the alarm regardless of session state.
func (r *responder) Test() bool {
	if !r.alarm.Play() {
		return false
	}
	log.Info("alarm_test")
	if r.metrics != nil {
		r.metrics.AlarmPlayed("manual")
	}
	return true
}

func (r *responder) Triggers() int { return int(r.triggers.Load()) }

// CopyLast puts a summary of the most recent trigger on the clipboard.
func (r *responder) CopyLast() (string, error) {
	r.mu.Lock()
	last := r.last
	r.mu.Unlock()
	if last == nil {
		return "", nil
	}
	text := clipboard.TriggerSummary(*last, r.settings.Snapshot())
	return text, clipboard.Copy(text)
}

func (r *responder) Close() {
	r.alarm.Cancel()
}
