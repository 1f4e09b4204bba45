package session

import (
	"fmt"

	"spike/detector"
)

type State int

const (
	Idle State = iota
	Listening
)

func (s State) String() string {
	if s == Listening {
		return "listening"
	}
	return "idle"
}

type StatusKind int

const (
	StatusIdle StatusKind = iota
	StatusPending
	StatusListening
	StatusTriggered
	StatusStopped
	StatusError
)

// Status is what the operator sees. RMS is set for StatusTriggered, Err for
// StatusError.
type Status struct {
	Kind StatusKind
	RMS  float64
	Err  error
}

func (s Status) String() string {
	switch s.Kind {
	case StatusPending:
		return "Waiting for capture access..."
	case StatusListening:
		return "Listening"
	case StatusTriggered:
		return fmt.Sprintf("Triggered (rms=%.4f)", s.RMS)
	case StatusStopped:
		return "Stopped"
	case StatusError:
		return "Error: capture access required"
	default:
		return "Idle"
	}
}

// Sink receives everything the session reports. Implementations must not
// block; they are called from the tick goroutine. Level may call Stop, Trigger
// may not.
type Sink interface {
	Trigger(ev detector.TriggerEvent)
	Status(st Status)
	Level(rms, background float64)
}

// Sinks fans every call out to each sink in order.
type Sinks []Sink

func (ss Sinks) Trigger(ev detector.TriggerEvent) {
	for _, s := range ss {
		s.Trigger(ev)
	}
}

func (ss Sinks) Status(st Status) {
	for _, s := range ss {
		s.Status(st)
	}
}

func (ss Sinks) Level(rms, background float64) {
	for _, s := range ss {
		s.Level(rms, background)
	}
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) Trigger(detector.TriggerEvent) {}
func (NopSink) Status(Status)                 {}
func (NopSink) Level(float64, float64)        {}
