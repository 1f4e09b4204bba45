// Package observe records detector metrics through the OpenTelemetry
// metrics API and exports them for Prometheus scraping.
package observe

import (
	"context"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"spike/detector"
	"spike/session"
)

const meterName = "spike"

type Metrics struct {
	Triggers         metric.Int64Counter
	Frames           metric.Int64Counter
	FrameRMS         metric.Float64Histogram
	ConfigRejections metric.Int64Counter
	Alarms           metric.Int64Counter
	ActiveSessions   metric.Int64UpDownCounter

	active atomic.Bool
}

// levelBuckets cover quiet rooms (~0.001) up to clipping.
var levelBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.02, 0.05, 0.1, 0.25, 0.5, 1,
}

func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Triggers, err = m.Int64Counter("spike.triggers",
		metric.WithDescription("Detected sound spikes."),
	); err != nil {
		return nil, err
	}
	if met.Frames, err = m.Int64Counter("spike.frames",
		metric.WithDescription("Frames analysed by the session loop."),
	); err != nil {
		return nil, err
	}
	if met.FrameRMS, err = m.Float64Histogram("spike.frame.rms",
		metric.WithDescription("Filtered RMS level per frame."),
		metric.WithExplicitBucketBoundaries(levelBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ConfigRejections, err = m.Int64Counter("spike.config.rejections",
		metric.WithDescription("Rejected configuration updates by field."),
	); err != nil {
		return nil, err
	}
	if met.Alarms, err = m.Int64Counter("spike.alarms",
		metric.WithDescription("Alarm sequences played, by source."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("spike.sessions.active",
		metric.WithDescription("Listening sessions currently running."),
	); err != nil {
		return nil, err
	}
	return met, nil
}

// Trigger, Status and Level make Metrics a session.Sink.
var _ session.Sink = (*Metrics)(nil)

func (m *Metrics) Trigger(detector.TriggerEvent) {
	m.Triggers.Add(context.Background(), 1)
}

func (m *Metrics) Level(rms, _ float64) {
	ctx := context.Background()
	m.Frames.Add(ctx, 1)
	m.FrameRMS.Record(ctx, rms)
}

func (m *Metrics) Status(st session.Status) {
	switch st.Kind {
	case session.StatusListening:
		if m.active.CompareAndSwap(false, true) {
			m.ActiveSessions.Add(context.Background(), 1)
		}
	case session.StatusStopped, session.StatusError:
		if m.active.CompareAndSwap(true, false) {
			m.ActiveSessions.Add(context.Background(), -1)
		}
	}
}

func (m *Metrics) ConfigRejected(field string) {
	m.ConfigRejections.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("field", field)))
}

// AlarmPlayed counts an alarm sequence; source is "trigger" or "manual".
func (m *Metrics) AlarmPlayed(source string) {
	m.Alarms.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("source", source)))
}
