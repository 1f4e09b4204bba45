// Package session runs the capture, filter, level and detection pipeline on
// a fixed tick while the operator has listening switched on.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"spike/audio"
	"spike/detector"
	"spike/dsp"
)

// ErrStartAborted is returned by Start when Stop ran while the microphone
// was still being acquired.
var ErrStartAborted = errors.New("session: start aborted by stop")

// DefaultTickInterval matches a 60 Hz display refresh.
const DefaultTickInterval = time.Second / 60

// Stream is a live capture that can hand out its most recent frame.
type Stream interface {
	ReadFrame(dst []float32)
	Release()
}

// AcquireFunc opens the microphone. It may block until the operator grants
// access and must honour ctx cancellation.
type AcquireFunc func(ctx context.Context) (Stream, error)

// FromSource adapts an audio.Source to AcquireFunc.
func FromSource(src *audio.Source) AcquireFunc {
	return func(ctx context.Context) (Stream, error) {
		st, err := src.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		return st, nil
	}
}

type Options struct {
	SampleRate   float64
	FrameSize    int
	TickInterval time.Duration
	WindowSize   int
	Cutoff       float64
	// FreezeBackground stops the background window from learning while the
	// detector is cooling down.
	FreezeBackground bool

	Clock func() time.Time
	// Ticks returns a tick channel and its stop function.
	Ticks func(d time.Duration) (<-chan time.Time, func())
}

func DefaultOptions() Options {
	return Options{
		SampleRate:   audio.SampleRate,
		FrameSize:    audio.FrameSize,
		TickInterval: DefaultTickInterval,
		WindowSize:   dsp.DefaultWindowSize,
		Cutoff:       dsp.DefaultCutoff,
	}
}

func (o *Options) fill() {
	d := DefaultOptions()
	if o.SampleRate <= 0 {
		o.SampleRate = d.SampleRate
	}
	if o.FrameSize <= 0 {
		o.FrameSize = d.FrameSize
	}
	if o.TickInterval <= 0 {
		o.TickInterval = d.TickInterval
	}
	if o.WindowSize <= 0 {
		o.WindowSize = d.WindowSize
	}
	if o.Cutoff <= 0 {
		o.Cutoff = d.Cutoff
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.Ticks == nil {
		o.Ticks = func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		}
	}
}

type Session struct {
	acquire  AcquireFunc
	settings *detector.Settings
	sink     Sink
	opts     Options

	mu      sync.Mutex
	state   State
	pending bool
	cancel  context.CancelFunc
	gen     uint64
	stream  Stream
	stop    chan struct{}

	// deliver is held while a tick reports a trigger; Stop takes it so no
	// trigger reaches the sink after Stop returns.
	deliver sync.Mutex

	filter *dsp.HighPass
	window *dsp.Window
	det    *detector.Detector
	frame  []float32
}

func New(acquire AcquireFunc, settings *detector.Settings, sink Sink, opts Options) *Session {
	opts.fill()
	if sink == nil {
		sink = NopSink{}
	}
	return &Session{
		acquire:  acquire,
		settings: settings,
		sink:     sink,
		opts:     opts,
		filter:   dsp.NewHighPass(opts.SampleRate, opts.Cutoff),
		window:   dsp.NewWindow(opts.WindowSize),
		det:      detector.New(settings),
		frame:    make([]float32, opts.FrameSize),
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Pending reports whether a Start is waiting on the microphone.
func (s *Session) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Background is the current mean of the background window.
func (s *Session) Background() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.window.Mean()
}

// Device names the capture device in use, or "" while idle.
func (s *Session) Device() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.stream.(interface{ DeviceName() string }); ok {
		return n.DeviceName()
	}
	return ""
}

// Start acquires the microphone and begins ticking. It is a no-op while
// already listening or while another Start is pending.
func (s *Session) Start(ctx context.Context) error {
	if err := s.settings.Snapshot().Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.state == Listening || s.pending {
		s.mu.Unlock()
		return nil
	}
	s.pending = true
	gen := s.gen
	actx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	s.sink.Status(Status{Kind: StatusPending})
	stream, err := s.acquire(actx)
	cancel()

	s.mu.Lock()
	s.pending = false
	s.cancel = nil
	if s.gen != gen {
		s.mu.Unlock()
		if stream != nil {
			stream.Release()
		}
		return ErrStartAborted
	}
	if err != nil {
		s.mu.Unlock()
		s.sink.Status(Status{Kind: StatusError, Err: err})
		return err
	}

	s.filter.Reset()
	s.window.Reset()
	s.det.Reset()
	s.stream = stream
	s.state = Listening
	stop := make(chan struct{})
	s.stop = stop
	ticks, stopTicks := s.opts.Ticks(s.opts.TickInterval)
	s.mu.Unlock()

	s.sink.Status(Status{Kind: StatusListening})
	go s.loop(gen, ticks, stopTicks, stop)
	return nil
}

// Stop releases the microphone and returns to Idle. Safe to call at any
// time, including while Start is still waiting for access. It waits for a
// trigger already being reported, so it must not be called from a sink's
// Trigger or a Triggered Status.
func (s *Session) Stop() {
	s.mu.Lock()
	wasActive := s.state == Listening || s.pending
	s.gen++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
	stream := s.stream
	s.stream = nil
	s.state = Idle
	s.mu.Unlock()

	if stream != nil {
		stream.Release()
	}
	s.deliver.Lock()
	s.deliver.Unlock()
	if wasActive {
		s.sink.Status(Status{Kind: StatusStopped})
	}
}

func (s *Session) loop(gen uint64, ticks <-chan time.Time, stopTicks func(), stop <-chan struct{}) {
	defer stopTicks()
	for {
		select {
		case <-stop:
			return
		case <-ticks:
			if !s.tick(gen) {
				return
			}
		}
	}
}

// tick runs one frame through the pipeline. It reports false once the
// session generation has moved on.
func (s *Session) tick(gen uint64) bool {
	s.mu.Lock()
	if s.gen != gen || s.stream == nil {
		s.mu.Unlock()
		return false
	}
	now := s.opts.Clock()
	s.stream.ReadFrame(s.frame)
	rms := dsp.RMS(s.filter.Apply(s.frame))

	var bg float64
	if s.opts.FreezeBackground && s.det.State(now) == detector.Cooling {
		bg = s.window.Mean()
	} else {
		bg = s.window.Push(rms)
	}
	ev, fired := s.det.Evaluate(rms, bg, now)
	s.mu.Unlock()

	s.sink.Level(rms, bg)
	if !fired {
		return true
	}

	s.deliver.Lock()
	defer s.deliver.Unlock()
	if !s.current(gen) {
		return false
	}
	s.sink.Status(Status{Kind: StatusTriggered, RMS: ev.RMS})
	s.sink.Trigger(ev)
	return true
}

func (s *Session) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen
}
