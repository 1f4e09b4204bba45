package clipboard

import (
	"fmt"
	"time"

	cb "github.com/atotto/clipboard"

	"spike/detector"
)

func Read() (string, error) {
	return cb.ReadAll()
}

func Copy(text string) error {
	return cb.WriteAll(text)
}

// TriggerSummary is the text placed on the clipboard for the last trigger.
func TriggerSummary(ev detector.TriggerEvent, cfg detector.Config) string {
	return fmt.Sprintf("spike %s rms=%.4f bg=%.4f threshold=%.4f (sensitivity=%.1f abs=%.4f cooldown=%s)",
		ev.Time.Format(time.RFC3339), ev.RMS, ev.Background,
		cfg.Threshold(ev.Background),
		cfg.SensitivityFactor, cfg.AbsoluteThreshold, cfg.Cooldown)
}

// Flags renders cfg as command-line flags that reproduce it.
func Flags(cfg detector.Config) string {
	return fmt.Sprintf("-sensitivity %.1f -abs %.4f -cooldown %g",
		cfg.SensitivityFactor, cfg.AbsoluteThreshold, cfg.Cooldown.Seconds())
}
