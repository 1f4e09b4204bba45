// Package config loads the optional start-up file. Values set on the
// command line win over values from the file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"spike/detector"
)

// File mirrors the YAML document. Pointer fields distinguish "absent" from
// a zero value.
type File struct {
	Sensitivity      *float64 `yaml:"sensitivity"`
	AbsThreshold     *float64 `yaml:"abs_threshold"`
	CooldownSeconds  *float64 `yaml:"cooldown_seconds"`
	Device           string   `yaml:"device"`
	FreezeBackground *bool    `yaml:"freeze_background"`
	MetricsAddr      string   `yaml:"metrics_addr"`
	LogPath          string   `yaml:"log_path"`
}

func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	f, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return f, nil
}

// LoadFromReader decodes and validates a YAML document. Unknown keys are an
// error.
func LoadFromReader(r io.Reader) (*File, error) {
	f := &File{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// Validate checks every detector value present in the file and joins all
// failures.
func (f *File) Validate() error {
	_, err := f.Apply(detector.DefaultConfig(), nil)
	return err
}

// Apply overlays the file onto base. Fields named in skip (detector field
// names, typically flags given explicitly) keep base's value.
func (f *File) Apply(base detector.Config, skip map[string]bool) (detector.Config, error) {
	cfg := base
	if f.Sensitivity != nil && !skip[detector.FieldSensitivity] {
		cfg.SensitivityFactor = *f.Sensitivity
	}
	if f.AbsThreshold != nil && !skip[detector.FieldAbsolute] {
		cfg.AbsoluteThreshold = *f.AbsThreshold
	}
	if f.CooldownSeconds != nil && !skip[detector.FieldCooldown] {
		cfg.Cooldown = time.Duration(*f.CooldownSeconds * float64(time.Second))
	}
	if err := cfg.Validate(); err != nil {
		return base, err
	}
	return cfg, nil
}

// ApplyTo pushes the file's detector values into live settings. Each value
// is applied independently; rejected values keep the previous setting.
func (f *File) ApplyTo(s *detector.Settings) error {
	var errs []error
	if f.Sensitivity != nil {
		errs = append(errs, s.SetSensitivity(*f.Sensitivity))
	}
	if f.AbsThreshold != nil {
		errs = append(errs, s.SetAbsoluteThreshold(*f.AbsThreshold))
	}
	if f.CooldownSeconds != nil {
		errs = append(errs, s.SetCooldownSeconds(*f.CooldownSeconds))
	}
	return errors.Join(errs...)
}
