// Package beep synthesises and plays the audible alarm.
package beep

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

var disabled atomic.Bool

// Disable silences every player created afterwards. Used in test mode.
func Disable() { disabled.Store(true) }

const (
	sampleRate = 44100

	alarmFreq   = 880
	alarmVolume = 0.4
	floorGain   = 0.0001
	attack      = 20 * time.Millisecond
	release     = 500 * time.Millisecond
	toneLength  = 700 * time.Millisecond
)

// DefaultSchedule is the offset of each beep from the start of a sequence.
var DefaultSchedule = []time.Duration{
	0,
	400 * time.Millisecond,
	900 * time.Millisecond,
	1400 * time.Millisecond,
}

// DefaultTail is how long after the last beep the alarm stays busy.
const DefaultTail = 800 * time.Millisecond

// Tone renders one 880 Hz beep: an exponential attack to full volume over
// 20 ms, an exponential release to silence by 500 ms, then silence up to
// 700 ms.
func Tone() []int16 {
	n := int(sampleRate * toneLength.Seconds())
	out := make([]int16, n)
	for i := range out {
		t := float64(i) / sampleRate
		out[i] = int16(math.Sin(2*math.Pi*alarmFreq*t) * 32767 * envelope(t))
	}
	return out
}

func envelope(t float64) float64 {
	a, r := attack.Seconds(), release.Seconds()
	switch {
	case t < a:
		return floorGain * math.Pow(alarmVolume/floorGain, t/a)
	case t < r:
		return alarmVolume * math.Pow(floorGain/alarmVolume, (t-a)/(r-a))
	default:
		return 0
	}
}

// Player plays a mono 44.1 kHz buffer without blocking the caller.
type Player interface {
	Play(samples []int16)
}

// PlayerFunc adapts a function to Player.
type PlayerFunc func(samples []int16)

func (f PlayerFunc) Play(samples []int16) { f(samples) }

var (
	defaultPlayer Player
	playerOnce    sync.Once
)

// DefaultPlayer returns the platform speaker, or a silent player when
// playback is disabled or unavailable.
func DefaultPlayer() Player {
	if disabled.Load() {
		return PlayerFunc(func([]int16) {})
	}
	playerOnce.Do(func() { defaultPlayer = newPlatformPlayer() })
	return defaultPlayer
}

// Alarm plays a beep sequence. While a sequence is running further
// triggers are dropped.
type Alarm struct {
	player   Player
	tone     []int16
	schedule []time.Duration
	tail     time.Duration
	onBeep   func()

	mu      sync.Mutex
	playing bool
	timers  []*time.Timer
	seq     uint64
}

type AlarmOption func(*Alarm)

// WithSchedule overrides the beep offsets and the busy tail after the last
// beep.
func WithSchedule(schedule []time.Duration, tail time.Duration) AlarmOption {
	return func(a *Alarm) {
		a.schedule = schedule
		a.tail = tail
	}
}

// OnBeep registers a callback run alongside every beep, e.g. a screen flash.
func OnBeep(fn func()) AlarmOption {
	return func(a *Alarm) { a.onBeep = fn }
}

func NewAlarm(player Player, opts ...AlarmOption) *Alarm {
	a := &Alarm{
		player:   player,
		tone:     Tone(),
		schedule: DefaultSchedule,
		tail:     DefaultTail,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Play starts a sequence. It returns false if one is already running.
func (a *Alarm) Play() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.playing {
		return false
	}
	a.playing = true
	a.seq++
	seq := a.seq

	var last time.Duration
	for _, at := range a.schedule {
		last = max(last, at)
		a.timers = append(a.timers, time.AfterFunc(at, func() { a.beep(seq) }))
	}
	a.timers = append(a.timers, time.AfterFunc(last+a.tail, func() { a.finish(seq) }))
	return true
}

func (a *Alarm) beep(seq uint64) {
	a.mu.Lock()
	live := a.playing && a.seq == seq
	a.mu.Unlock()
	if !live {
		return
	}
	if a.player != nil {
		a.player.Play(a.tone)
	}
	if a.onBeep != nil {
		a.onBeep()
	}
}

func (a *Alarm) finish(seq uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.seq == seq {
		a.playing = false
		a.timers = nil
	}
}

func (a *Alarm) Playing() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.playing
}

// Cancel stops pending beeps and makes the alarm ready again.
func (a *Alarm) Cancel() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, t := range a.timers {
		t.Stop()
	}
	a.timers = nil
	a.playing = false
	a.seq++
}
