package main

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"spike/detector"
	"spike/log"
	"spike/observe"
	"spike/session"
)

// monitor is the single control point shared by the TUI, GUI, hotkeys and
// the stdin test driver.
type monitor struct {
	ctx      context.Context
	sess     *session.Session
	settings *detector.Settings
	resp     *responder
	metrics  *observe.Metrics

	// onToggle reports listening state changes made here, e.g. to keep a
	// hotkey toggle in step.
	onToggle func(on bool)

	wg sync.WaitGroup
}

// Start begins listening without blocking the caller; acquisition may wait
// for the operator to grant microphone access.
// Start begins listening in the background. It does nothing while a session
// is already listening or waiting for the microphone.
func (m *monitor) Start() {
	if m.Listening() {
		return
	}
	if m.onToggle != nil {
		m.onToggle(true)
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		err := m.sess.Start(m.ctx)
		switch {
		case err == nil:
			cfg := m.settings.Snapshot()
			log.SessionStart(m.sess.Device(), cfg.SensitivityFactor, cfg.AbsoluteThreshold, cfg.Cooldown)
		case errors.Is(err, session.ErrStartAborted), errors.Is(err, context.Canceled):
		default:
			if m.onToggle != nil {
				m.onToggle(false)
			}
		}
	}()
}

func (m *monitor) Stop() {
	wasListening := m.sess.State() == session.Listening
	m.sess.Stop()
	if m.onToggle != nil {
		m.onToggle(false)
	}
	if wasListening {
		log.SessionEnd(m.resp.Triggers())
	}
}

// Listening is true while a session runs or is waiting for access.
func (m *monitor) Listening() bool {
	return m.sess.State() == session.Listening || m.sess.Pending()
}

func (m *monitor) Toggle() {
	if m.Listening() {
		m.Stop()
	} else {
		m.Start()
	}
}

func (m *monitor) Test() bool {
	return m.resp.Test()
}

// Set applies one field by name. A rejected value is logged and counted and
// the previous value stays in force.
func (m *monitor) Set(field string, v float64) error {
	return m.rejected(m.settings.Set(field, v))
}

func (m *monitor) Nudge(field string, delta float64) error {
	return m.rejected(m.settings.Nudge(field, delta))
}

func (m *monitor) rejected(err error) error {
	if err == nil {
		return nil
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			m.rejected(e)
		}
		return err
	}
	var ce *detector.ConfigError
	if errors.As(err, &ce) {
		log.ConfigRejected(ce.Field, ce.Value, ce.Reason)
		if m.metrics != nil {
			m.metrics.ConfigRejected(ce.Field)
		}
		return err
	}
	log.Warnf("settings: %v", err)
	return err
}

func (m *monitor) Threshold() float64 {
	return m.settings.Snapshot().Threshold(m.sess.Background())
}

func (m *monitor) CopyLast() (string, error) {
	text, err := m.resp.CopyLast()
	if err != nil {
		return "", fmt.Errorf("copy trigger summary: %w", err)
	}
	return text, nil
}

// Close stops listening and waits for pending starts to settle.
func (m *monitor) Close() {
	m.Stop()
	m.wg.Wait()
	// A Start that had not reached the session yet may have won the race.
	m.sess.Stop()
	m.resp.Close()
}
