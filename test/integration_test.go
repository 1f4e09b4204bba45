//go:build integration

package test_test

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

const sampleRate = 44100

var testBinary string

func TestMain(m *testing.M) {
	testBinary = os.Getenv("SPIKE_TEST_BIN")
	if testBinary == "" {
		fmt.Fprintln(os.Stderr, "SPIKE_TEST_BIN not set; build with: go build -o /tmp/spike . && SPIKE_TEST_BIN=/tmp/spike")
		os.Exit(1)
	}
	os.Exit(m.Run())
}

// segment is a run of 3 kHz tone at a fixed amplitude.
type segment struct {
	seconds   float64
	amplitude float64
}

func writeClip(t *testing.T, segs ...segment) string {
	t.Helper()
	var samples []int16
	n := 0
	for _, s := range segs {
		count := int(s.seconds * sampleRate)
		for i := 0; i < count; i++ {
			v := s.amplitude * math.Sin(2*math.Pi*3000*float64(n)/sampleRate)
			samples = append(samples, int16(v*32767))
			n++
		}
	}

	const headerSize = 44
	dataSize := len(samples) * 2
	buf := make([]byte, headerSize+dataSize)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(headerSize-8+dataSize))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], 1) // mono
	binary.LittleEndian.PutUint32(buf[24:28], sampleRate)
	binary.LittleEndian.PutUint32(buf[28:32], sampleRate*2)
	binary.LittleEndian.PutUint16(buf[32:34], 2)  // block align
	binary.LittleEndian.PutUint16(buf[34:36], 16) // bits per sample
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[headerSize+2*i:], uint16(s))
	}

	path := filepath.Join(t.TempDir(), "clip.wav")
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func cmds(parts ...string) string {
	return strings.Join(parts, "\n") + "\n"
}

func runSpike(t *testing.T, stdin string, args ...string) (logDir, stdout string) {
	t.Helper()
	logDir = t.TempDir()
	cmdArgs := append([]string{"-logpath", logDir}, args...)

	cmd := exec.Command(testBinary, cmdArgs...)
	cmd.Stdin = strings.NewReader(stdin)
	cmd.Env = os.Environ()

	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("spike exited with error: %v\noutput: %s", err, out)
	}
	return logDir, string(out)
}

func readLog(t *testing.T, logDir, filename string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(logDir, filename))
	if err != nil {
		if os.IsNotExist(err) {
			return ""
		}
		t.Fatalf("failed to read %s: %v", filename, err)
	}
	return string(data)
}

func journalLines(t *testing.T, logDir string) int {
	t.Helper()
	return strings.Count(readLog(t, logDir, "triggers_log.txt"), "\n")
}

func TestSpikeTriggersOnce(t *testing.T) {
	clip := writeClip(t,
		segment{1.5, 0.002},
		segment{0.3, 0.5},
		segment{0.5, 0.002},
	)
	logDir, out := runSpike(t, cmds("START", "WAIT_AUDIO_DONE", "SLEEP 200", "STOP", "QUIT"), "-test", clip)

	if !strings.Contains(out, "status: Listening") {
		t.Errorf("no Listening status in output:\n%s", out)
	}
	if !strings.Contains(out, "status: Triggered (rms=") {
		t.Errorf("no Triggered status in output:\n%s", out)
	}
	if got := journalLines(t, logDir); got != 1 {
		t.Errorf("trigger journal has %d lines, want 1 (cooldown spans the spike)", got)
	}
	diag := readLog(t, logDir, "diagnostics_log.txt")
	for _, want := range []string{"session_start", "trigger", "session_end"} {
		if !strings.Contains(diag, want) {
			t.Errorf("diagnostics missing %q", want)
		}
	}
}

func TestQuietClipDoesNotTrigger(t *testing.T) {
	clip := writeClip(t, segment{1.5, 0.002})
	logDir, out := runSpike(t, cmds("START", "WAIT_AUDIO_DONE", "STOP", "QUIT"), "-test", clip)

	if strings.Contains(out, "Triggered") {
		t.Errorf("quiet clip triggered:\n%s", out)
	}
	if got := journalLines(t, logDir); got != 0 {
		t.Errorf("trigger journal has %d lines, want 0", got)
	}
}

func TestRejectedSetKeepsValue(t *testing.T) {
	clip := writeClip(t, segment{0.5, 0.002})
	logDir, out := runSpike(t, cmds("SET sensitivity 4", "SET abs 0.5", "QUIT"), "-test", clip)

	if !strings.Contains(out, "settings: sensitivity=4.0 abs=0.0100") {
		t.Errorf("accepted SET not reported:\n%s", out)
	}
	if !strings.Contains(out, "rejected: invalid abs_threshold") {
		t.Errorf("rejected SET not reported:\n%s", out)
	}
	if diag := readLog(t, logDir, "diagnostics_log.txt"); !strings.Contains(diag, "config_rejected") {
		t.Error("diagnostics missing config_rejected")
	}
}

func TestInvalidFlagExits(t *testing.T) {
	clip := writeClip(t, segment{0.1, 0})
	cmd := exec.Command(testBinary, "-logpath", t.TempDir(), "-sensitivity", "20", "-test", clip)
	cmd.Stdin = strings.NewReader("QUIT\n")
	out, err := cmd.CombinedOutput()
	if err == nil {
		t.Fatalf("expected non-zero exit, output: %s", out)
	}
	if !strings.Contains(string(out), "invalid sensitivity") {
		t.Errorf("output does not name the bad flag: %s", out)
	}
}

func TestConfigFileFlagWins(t *testing.T) {
	clip := writeClip(t, segment{0.5, 0.002})
	cfg := filepath.Join(t.TempDir(), "spike.yaml")
	if err := os.WriteFile(cfg, []byte("sensitivity: 6\nabs_threshold: 0.02\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, out := runSpike(t, cmds("SET cooldown 3", "QUIT"), "-config", cfg, "-sensitivity", "2", "-test", clip)
	if !strings.Contains(out, "settings: sensitivity=2.0 abs=0.0200 cooldown=3s") {
		t.Errorf("flag and file values not merged:\n%s", out)
	}
}
