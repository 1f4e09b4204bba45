package doctor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"spike/audio"
	"spike/beep"
	"spike/clipboard"
	"spike/detector"
	"spike/hotkey"
	"spike/session"
	"spike/shutdown"
)

const calibrationTime = 3 * time.Second

// Run executes interactive diagnostic checks and returns an exit code (0=all pass, 1=any fail).
func Run(device string) int {
	resetTerminal()

	ctx, stop := shutdown.Context(context.Background())
	defer stop()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			resetTerminal()
			fmt.Println("\nInterrupted")
			os.Exit(1)
		case <-done:
		}
	}()

	fmt.Println("spike doctor - interactive system diagnostics")
	fmt.Println("==============================================")

	allPass := true

	if !checkHotkey() {
		allPass = false
	}
	stream, ok := checkCapture(ctx, device)
	if !ok {
		allPass = false
	} else {
		if !checkCalibration(ctx, stream) {
			allPass = false
		}
		stream.Release()
	}
	if !checkAlarm() {
		allPass = false
	}

	fmt.Println()
	if allPass {
		fmt.Println("All checks passed!")
	} else {
		fmt.Println("Some checks failed. See details above.")
	}

	if allPass {
		return 0
	}
	return 1
}

func checkHotkey() bool {
	fmt.Println()
	fmt.Println("[1/4] Hotkey detection")
	fmt.Printf("Press %s...\n", hotkey.KeySpace)

	hk := hotkey.New(hotkey.KeySpace)
	if err := hk.Register(); err != nil {
		fmt.Printf("  FAIL: could not register hotkey: %v\n", err)
		return false
	}
	defer hk.Unregister()

	select {
	case <-hk.Keydown():
		fmt.Println("  PASS: hotkey detected")
		select {
		case <-hk.Keyup():
		case <-time.After(5 * time.Second):
		}
		// Reset terminal after hotkey - it may leave terminal in raw mode
		resetTerminal()
		return true
	case <-time.After(10 * time.Second):
		fmt.Println("  FAIL: timeout waiting for hotkey")
		return false
	}
}

func checkCapture(ctx context.Context, device string) (*audio.Stream, bool) {
	fmt.Println()
	fmt.Println("[2/4] Microphone capture")

	src := &audio.Source{Device: device}
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	stream, err := src.Acquire(ctx)
	if err != nil {
		switch {
		case errors.Is(err, audio.ErrPermissionDenied):
			fmt.Printf("  FAIL: microphone access denied: %v\n", err)
		case errors.Is(err, audio.ErrNoDevice):
			fmt.Printf("  FAIL: no capture device: %v\n", err)
		default:
			fmt.Printf("  FAIL: %v\n", err)
		}
		return nil, false
	}
	fmt.Printf("  Using device: %s\n", stream.DeviceName())
	if audio.IsBluetooth(stream.DeviceName()) {
		fmt.Println("  Warning: Bluetooth microphones add latency and may switch the headset to a low-quality profile")
	}

	time.Sleep(500 * time.Millisecond)
	if stream.Received() == 0 {
		fmt.Println("  FAIL: device opened but delivered no samples")
		stream.Release()
		return nil, false
	}
	fmt.Printf("  PASS: %d samples received\n", stream.Received())
	return stream, true
}

func checkCalibration(ctx context.Context, stream *audio.Stream) bool {
	fmt.Println()
	fmt.Println("[3/4] Ambient calibration")
	fmt.Printf("Keep the room quiet for %s...\n", calibrationTime)

	c := Measure(ctx, stream, calibrationTime, session.DefaultTickInterval)
	if c.Frames == 0 {
		fmt.Println("  FAIL: no frames measured")
		return false
	}
	fmt.Printf("  Background rms %.4f, peak %.4f over %d frames\n", c.Background, c.Peak, c.Frames)
	if c.Background*headroom > detector.MaxAbsoluteThreshold {
		fmt.Println("  Warning: room is loud; the absolute threshold is capped and the sensitivity factor will do most of the work")
	}

	cfg := detector.DefaultConfig()
	cfg.AbsoluteThreshold = c.Suggested
	flags := clipboard.Flags(cfg)
	fmt.Printf("  Suggested: %s\n", flags)

	done := make(chan error, 1)
	go func() { done <- clipboard.Copy(flags) }()
	select {
	case err := <-done:
		if err != nil {
			fmt.Printf("  Warning: could not copy to clipboard: %v\n", err)
		} else {
			fmt.Println("  (copied to clipboard)")
		}
	case <-time.After(3 * time.Second):
		fmt.Println("  Warning: clipboard timed out")
	}
	fmt.Println("  PASS: calibration complete")
	return true
}

func checkAlarm() bool {
	fmt.Println()
	fmt.Println("[4/4] Alarm playback")
	fmt.Println("Playing the alarm sequence...")

	done := make(chan struct{})
	alarm := beep.NewAlarm(beep.DefaultPlayer())
	alarm.Play()
	go func() {
		for alarm.Playing() {
			time.Sleep(50 * time.Millisecond)
		}
		close(done)
	}()
	<-done

	resetTerminal()
	reader := bufio.NewReader(os.Stdin)
	fmt.Print("Did you hear four beeps? [y/n]: ")
	confirm, _ := reader.ReadString('\n')
	confirm = strings.TrimSpace(strings.ToLower(confirm))

	if confirm == "y" || confirm == "yes" {
		fmt.Println("  PASS: alarm verified by user")
		return true
	}
	fmt.Println("  FAIL: alarm not confirmed")
	return false
}
