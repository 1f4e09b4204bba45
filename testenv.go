package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"spike/audio"
	"spike/beep"
	"spike/detector"
	"spike/log"
	"spike/session"
)

// runTestMode replays a clip in place of the microphone and takes commands
// on stdin, one per line:
//
//	START | STOP | TEST
//	SET <sensitivity|abs|cooldown> <value>
//	WAIT_AUDIO_DONE | SLEEP <ms> | QUIT
func runTestMode(clipPath string, settings *detector.Settings, opts session.Options) int {
	beep.Disable()

	replay, err := audio.NewReplayContext(clipPath, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading clip: %v\n", err)
		return 1
	}
	log.Infof("test_mode: clip=%s duration=%.2fs", clipPath, replay.Clip().Duration())

	clips := &clipTracker{timeout: time.Duration(replay.Clip().Duration()*float64(time.Second)) + 10*time.Second}
	src := &audio.Source{NewContext: func() (audio.Context, error) { return replay, nil }}
	acquire := func(ctx context.Context) (session.Stream, error) {
		st, err := src.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		if rc, ok := st.Capture().(*audio.ReplayCapture); ok {
			clips.opened(rc)
		}
		return st, nil
	}

	console := newConsoleSink(os.Stdout)
	settings.OnChange(console.SettingsChanged)
	resp := newResponder(settings, beep.DefaultPlayer(), nil, console.Flash)
	mon := &monitor{
		ctx:      context.Background(),
		settings: settings,
		resp:     resp,
		sess:     session.New(acquire, settings, session.Sinks{resp, console}, opts),
	}
	defer mon.Close()

	drive(os.Stdin, mon, func() { clips.beforeStart(mon.Listening()) }, func() {
		if err := clips.wait(); err != nil {
			fmt.Fprintf(os.Stderr, "WAIT_AUDIO_DONE: %v\n", err)
		}
	})
	return 0
}

// clipTracker follows the replay capture opened by the latest START so
// WAIT_AUDIO_DONE can block on it.
type clipTracker struct {
	current atomic.Pointer[audio.ReplayCapture]
	timeout time.Duration
}

func (c *clipTracker) opened(rc *audio.ReplayCapture) { c.current.Store(rc) }

// beforeStart forgets the previous capture unless the session is still
// running, in which case START is a no-op and the capture stays current.
func (c *clipTracker) beforeStart(listening bool) {
	if !listening {
		c.current.Store(nil)
	}
}

// wait blocks until the current capture has delivered the whole clip. Start
// is asynchronous, so the capture may not be open yet.
func (c *clipTracker) wait() error {
	deadline := time.After(c.timeout)
	for {
		if rc := c.current.Load(); rc != nil {
			select {
			case <-rc.AudioDone():
				return nil
			case <-deadline:
				return fmt.Errorf("clip still playing after %s", c.timeout)
			}
		}
		select {
		case <-deadline:
			return fmt.Errorf("no capture opened within %s", c.timeout)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// drive executes commands from r until QUIT or end of input.
func drive(r io.Reader, mon *monitor, beforeStart, waitAudio func()) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch strings.ToUpper(fields[0]) {
		case "START":
			beforeStart()
			mon.Start()
		case "STOP":
			mon.Stop()
		case "TEST":
			mon.Test()
		case "SET":
			if len(fields) != 3 {
				fmt.Fprintln(os.Stderr, "usage: SET <field> <value>")
				continue
			}
			v, err := strconv.ParseFloat(fields[2], 64)
			if err != nil {
				fmt.Fprintf(os.Stderr, "SET %s: %v\n", fields[1], err)
				continue
			}
			if err := mon.Set(fields[1], v); err != nil {
				fmt.Printf("rejected: %v\n", err)
			}
		case "WAIT_AUDIO_DONE":
			waitAudio()
		case "SLEEP":
			if len(fields) == 2 {
				if ms, err := strconv.Atoi(fields[1]); err == nil {
					time.Sleep(time.Duration(ms) * time.Millisecond)
				}
			}
		case "QUIT":
			return
		default:
			fmt.Fprintf(os.Stderr, "unknown command %q\n", fields[0])
		}
	}
}
