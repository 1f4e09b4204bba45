package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	"spike/detector"
	"spike/session"
)

// consoleSink prints one line per event for headless runs and test mode.
type consoleSink struct {
	mu sync.Mutex
	w  io.Writer
}

func newConsoleSink(w io.Writer) *consoleSink {
	return &consoleSink{w: w}
}

func (c *consoleSink) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, format+"\n", args...)
}

func (c *consoleSink) Trigger(ev detector.TriggerEvent) {
	c.printf("trigger: %s", ev)
}

func (c *consoleSink) Status(st session.Status) {
	if st.Kind == session.StatusError && st.Err != nil {
		c.printf("status: %s (%v)", st, st.Err)
		return
	}
	c.printf("status: %s", st)
}

func (c *consoleSink) Level(float64, float64) {}

// Flash rings the terminal bell; there is nothing else to light up.
func (c *consoleSink) Flash(time.Duration) {
	c.printf("\a*** alarm ***")
}

func (c *consoleSink) SettingsChanged(cfg detector.Config) {
	c.printf("settings: sensitivity=%.1f abs=%.4f cooldown=%gs",
		cfg.SensitivityFactor, cfg.AbsoluteThreshold, cfg.Cooldown.Seconds())
}
