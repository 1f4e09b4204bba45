package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	diagLog     zerolog.Logger
	diagFile    *os.File
	triggerFile *os.File
	logMu       sync.Mutex
	logReady    bool
	pid         int
	dir         string
)

const (
	DiagnosticsFile = "diagnostics_log.txt"
	TriggersFile    = "triggers_log.txt"
	CrashFile       = "crash_log.txt"
)

func ResolveDir(flagPath string) (string, error) {
	// Priority 1: -logpath flag
	if flagPath != "" {
		return absolute(flagPath)
	}

	// Priority 2: SPIKE_LOG_PATH environment variable
	if envPath := os.Getenv("SPIKE_LOG_PATH"); envPath != "" {
		return absolute(envPath)
	}

	// Priority 3: Default OS-specific location
	return getDefaultDir()
}

func absolute(p string) (string, error) {
	if filepath.IsAbs(p) {
		return p, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, p), nil
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}

	pid = os.Getpid()

	var err error

	diagFile, err = os.OpenFile(filepath.Join(dir, DiagnosticsFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	triggerFile, err = os.OpenFile(filepath.Join(dir, TriggersFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		diagFile.Close()
		return err
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        diagFile,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}
	diagLog = zerolog.New(consoleWriter).With().Timestamp().Int("pid", pid).Logger()

	logReady = true
	return nil
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
	if triggerFile != nil {
		triggerFile.Close()
		triggerFile = nil
	}
	logReady = false
}

func Info(msg string) {
	if logReady {
		diagLog.Info().Msg(msg)
	}
}

func Infof(format string, args ...any) {
	if logReady {
		diagLog.Info().Msg(fmt.Sprintf(format, args...))
	}
}

func Error(msg string) {
	if logReady {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if logReady {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if logReady {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if logReady {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

// Trigger records a detection in the diagnostics log and appends a line to
// the trigger journal.
func Trigger(rms, background, threshold float64, at time.Time) {
	if !logReady {
		return
	}
	diagLog.Info().
		Float64("rms", rms).
		Float64("bg", background).
		Float64("threshold", threshold).
		Msg("trigger")

	logMu.Lock()
	defer logMu.Unlock()
	if triggerFile == nil {
		return
	}
	line := fmt.Sprintf("%s\t[%d]\trms=%.4f\tbg=%.4f\n", at.Format("2006-01-02 15:04:05.000"), pid, rms, background)
	triggerFile.WriteString(line)
}

func SessionStart(device string, sensitivity, abs float64, cooldown time.Duration) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("device", device).
		Float64("sensitivity", sensitivity).
		Float64("abs", abs).
		Dur("cooldown", cooldown).
		Msg("session_start")
}

func SessionEnd(triggers int) {
	if !logReady {
		return
	}
	diagLog.Info().
		Int("triggers", triggers).
		Msg("session_end")
}

func ConfigRejected(field string, value float64, reason string) {
	if !logReady {
		return
	}
	diagLog.Warn().
		Str("field", field).
		Float64("value", value).
		Str("reason", reason).
		Msg("config_rejected")
}
