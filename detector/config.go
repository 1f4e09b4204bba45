package detector

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

const (
	DefaultSensitivity       = 3.0
	DefaultAbsoluteThreshold = 0.01
	DefaultCooldown          = 2 * time.Second

	// Operator-facing ranges. Values outside are rejected rather than clamped.
	MinSensitivity       = 1.0
	MaxSensitivity       = 10.0
	MaxAbsoluteThreshold = 0.05
	MaxCooldown          = 30 * time.Second
)

// Field names used in ConfigError and by the string-based setters.
const (
	FieldSensitivity = "sensitivity"
	FieldAbsolute    = "abs_threshold"
	FieldCooldown    = "cooldown"
)

// Config holds the detection policy. Cooldown is kept as a Duration; the
// operator surface speaks seconds.
type Config struct {
	SensitivityFactor float64
	AbsoluteThreshold float64
	Cooldown          time.Duration
}

func DefaultConfig() Config {
	return Config{
		SensitivityFactor: DefaultSensitivity,
		AbsoluteThreshold: DefaultAbsoluteThreshold,
		Cooldown:          DefaultCooldown,
	}
}

type ConfigError struct {
	Field  string
	Value  float64
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Reason)
}

func validSensitivity(v float64) error {
	switch {
	case math.IsNaN(v) || math.IsInf(v, 0):
		return &ConfigError{Field: FieldSensitivity, Value: v, Reason: "not a number"}
	case v < MinSensitivity || v > MaxSensitivity:
		return &ConfigError{Field: FieldSensitivity, Value: v,
			Reason: fmt.Sprintf("must be between %.1f and %.1f", MinSensitivity, MaxSensitivity)}
	}
	return nil
}

func validAbsolute(v float64) error {
	switch {
	case math.IsNaN(v) || math.IsInf(v, 0):
		return &ConfigError{Field: FieldAbsolute, Value: v, Reason: "not a number"}
	case v < 0 || v > MaxAbsoluteThreshold:
		return &ConfigError{Field: FieldAbsolute, Value: v,
			Reason: fmt.Sprintf("must be between 0 and %.2f", MaxAbsoluteThreshold)}
	}
	return nil
}

func validCooldownSeconds(v float64) error {
	switch {
	case math.IsNaN(v) || math.IsInf(v, 0):
		return &ConfigError{Field: FieldCooldown, Value: v, Reason: "not a number"}
	case v < 0 || v > MaxCooldown.Seconds():
		return &ConfigError{Field: FieldCooldown, Value: v,
			Reason: fmt.Sprintf("must be between 0 and %.0f seconds", MaxCooldown.Seconds())}
	}
	return nil
}

// Validate reports every out-of-domain field, joined.
func (c Config) Validate() error {
	return errors.Join(
		validSensitivity(c.SensitivityFactor),
		validAbsolute(c.AbsoluteThreshold),
		validCooldownSeconds(c.Cooldown.Seconds()),
	)
}

// Settings is the live, concurrently updatable configuration. It only ever
// holds a valid Config: rejected updates leave the last good value in place.
type Settings struct {
	mu  sync.RWMutex
	cfg Config

	onChange func(Config)
}

func NewSettings(cfg Config) (*Settings, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Settings{cfg: cfg}, nil
}

// OnChange registers fn to be called after every accepted update.
func (s *Settings) OnChange(fn func(Config)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

func (s *Settings) Snapshot() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

func (s *Settings) update(check error, apply func(*Config)) error {
	if check != nil {
		return check
	}
	s.mu.Lock()
	apply(&s.cfg)
	cfg, fn := s.cfg, s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn(cfg)
	}
	return nil
}

func (s *Settings) SetSensitivity(v float64) error {
	return s.update(validSensitivity(v), func(c *Config) { c.SensitivityFactor = v })
}

func (s *Settings) SetAbsoluteThreshold(v float64) error {
	return s.update(validAbsolute(v), func(c *Config) { c.AbsoluteThreshold = v })
}

func (s *Settings) SetCooldownSeconds(v float64) error {
	return s.update(validCooldownSeconds(v), func(c *Config) {
		c.Cooldown = time.Duration(v * float64(time.Second))
	})
}

// Set updates a field by name, as used by text-driven control surfaces.
func (s *Settings) Set(field string, v float64) error {
	switch field {
	case FieldSensitivity, "sens":
		return s.SetSensitivity(v)
	case FieldAbsolute, "abs":
		return s.SetAbsoluteThreshold(v)
	case FieldCooldown:
		return s.SetCooldownSeconds(v)
	}
	return fmt.Errorf("unknown setting %q", field)
}

// Nudge adds delta to a field and rounds the result to the field's display
// precision. Out-of-range results are rejected like any other update.
func (s *Settings) Nudge(field string, delta float64) error {
	cur := s.Snapshot()
	switch field {
	case FieldSensitivity:
		return s.SetSensitivity(round(cur.SensitivityFactor+delta, 1))
	case FieldAbsolute:
		return s.SetAbsoluteThreshold(round(cur.AbsoluteThreshold+delta, 4))
	case FieldCooldown:
		return s.SetCooldownSeconds(round(cur.Cooldown.Seconds()+delta, 0))
	}
	return fmt.Errorf("unknown setting %q", field)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
