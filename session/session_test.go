package session

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"spike/audio"
	"spike/detector"
)

type fakeStream struct {
	mu       sync.Mutex
	frame    []float32
	released atomic.Int32
}

func (f *fakeStream) set(frame []float32) {
	f.mu.Lock()
	f.frame = frame
	f.mu.Unlock()
}

func (f *fakeStream) ReadFrame(dst []float32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copy(dst, f.frame)
}

func (f *fakeStream) Release() { f.released.Add(1) }

type level struct{ rms, bg float64 }

type recordingSink struct {
	mu       sync.Mutex
	statuses []Status
	triggers []detector.TriggerEvent
	levels   chan level
}

func newRecordingSink() *recordingSink {
	return &recordingSink{levels: make(chan level, 256)}
}

func (r *recordingSink) Trigger(ev detector.TriggerEvent) {
	r.mu.Lock()
	r.triggers = append(r.triggers, ev)
	r.mu.Unlock()
}

func (r *recordingSink) Status(st Status) {
	r.mu.Lock()
	r.statuses = append(r.statuses, st)
	r.mu.Unlock()
}

func (r *recordingSink) Level(rms, bg float64) { r.levels <- level{rms, bg} }

func (r *recordingSink) kinds() []StatusKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []StatusKind
	for _, s := range r.statuses {
		out = append(out, s.Kind)
	}
	return out
}

func (r *recordingSink) triggerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.triggers)
}

type harness struct {
	t      *testing.T
	sess   *Session
	sink   *recordingSink
	stream *fakeStream
	ticks  chan time.Time
	now    atomic.Int64
	acq    atomic.Int32
}

func newHarness(t *testing.T, cfg detector.Config, freeze bool) *harness {
	t.Helper()
	settings, err := detector.NewSettings(cfg)
	if err != nil {
		t.Fatal(err)
	}
	h := &harness{
		t:      t,
		sink:   newRecordingSink(),
		stream: &fakeStream{frame: sine(0.001)},
		ticks:  make(chan time.Time),
	}
	h.now.Store(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).UnixNano())
	opts := Options{
		FreezeBackground: freeze,
		Clock:            func() time.Time { return time.Unix(0, h.now.Load()) },
		Ticks: func(time.Duration) (<-chan time.Time, func()) {
			return h.ticks, func() {}
		},
	}
	acquire := func(context.Context) (Stream, error) {
		h.acq.Add(1)
		return h.stream, nil
	}
	h.sess = New(acquire, settings, h.sink, opts)
	t.Cleanup(h.sess.Stop)
	return h
}

func (h *harness) advance(d time.Duration) { h.now.Add(int64(d)) }

// waitTriggers waits for the sink to hold n trigger events; Level is reported
// before the trigger of the same frame.
func (h *harness) waitTriggers(n int) {
	h.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.sink.triggerCount() < n {
		if time.Now().After(deadline) {
			h.t.Fatalf("triggers = %d, want %d", h.sink.triggerCount(), n)
		}
		time.Sleep(time.Millisecond)
	}
	if got := h.sink.triggerCount(); got != n {
		h.t.Fatalf("triggers = %d, want %d", got, n)
	}
}

// tick drives one frame and waits for its level report.
func (h *harness) tick() level {
	h.t.Helper()
	select {
	case h.ticks <- time.Now():
	case <-time.After(2 * time.Second):
		h.t.Fatal("tick loop not running")
	}
	select {
	case l := <-h.sink.levels:
		return l
	case <-time.After(2 * time.Second):
		h.t.Fatal("no level reported")
	}
	return level{}
}

func sine(amp float64) []float32 {
	f := make([]float32, audio.FrameSize)
	for i := range f {
		f[i] = float32(amp * math.Sin(2*math.Pi*3000*float64(i)/audio.SampleRate))
	}
	return f
}

func TestStopTwiceIsIdle(t *testing.T) {
	h := newHarness(t, detector.DefaultConfig(), false)
	h.sess.Stop()
	h.sess.Stop()
	if h.sess.State() != Idle {
		t.Fatalf("state = %v, want idle", h.sess.State())
	}
	if len(h.sink.kinds()) != 0 {
		t.Fatalf("stop on idle session reported %v", h.sink.kinds())
	}

	if err := h.sess.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.sess.Stop()
	h.sess.Stop()
	if h.sess.State() != Idle {
		t.Fatalf("state = %v, want idle", h.sess.State())
	}
	if n := h.stream.released.Load(); n != 1 {
		t.Fatalf("stream released %d times, want 1", n)
	}
	want := []StatusKind{StatusPending, StatusListening, StatusStopped}
	got := h.sink.kinds()
	if len(got) != len(want) {
		t.Fatalf("statuses = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("statuses = %v, want %v", got, want)
		}
	}
}

func TestStartWhileListeningIsNoop(t *testing.T) {
	h := newHarness(t, detector.DefaultConfig(), false)
	if err := h.sess.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := h.sess.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if h.sess.State() != Listening {
		t.Fatalf("state = %v, want listening", h.sess.State())
	}
	if n := h.acq.Load(); n != 1 {
		t.Fatalf("acquired %d times, want 1", n)
	}
}

func TestStopDuringPendingAcquisition(t *testing.T) {
	settings, _ := detector.NewSettings(detector.DefaultConfig())
	stream := &fakeStream{}
	gate := make(chan struct{})
	entered := make(chan struct{})
	acquire := func(context.Context) (Stream, error) {
		close(entered)
		<-gate
		return stream, nil
	}
	sink := newRecordingSink()
	sess := New(acquire, settings, sink, Options{})

	errc := make(chan error, 1)
	go func() { errc <- sess.Start(context.Background()) }()
	<-entered
	if !sess.Pending() {
		t.Fatal("expected pending start")
	}
	sess.Stop()
	close(gate)

	if err := <-errc; !errors.Is(err, ErrStartAborted) {
		t.Fatalf("Start = %v, want ErrStartAborted", err)
	}
	if stream.released.Load() != 1 {
		t.Fatal("late stream was not released")
	}
	if sess.State() != Idle || sess.Pending() {
		t.Fatalf("state = %v pending=%v, want idle", sess.State(), sess.Pending())
	}
}

func TestStopCancelsAcquisitionContext(t *testing.T) {
	settings, _ := detector.NewSettings(detector.DefaultConfig())
	entered := make(chan struct{})
	acquire := func(ctx context.Context) (Stream, error) {
		close(entered)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	sess := New(acquire, settings, nil, Options{})
	errc := make(chan error, 1)
	go func() { errc <- sess.Start(context.Background()) }()
	<-entered
	sess.Stop()
	select {
	case err := <-errc:
		if !errors.Is(err, ErrStartAborted) {
			t.Fatalf("Start = %v, want ErrStartAborted", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not cancel the pending acquisition")
	}
}

func TestAcquisitionFailureStaysIdle(t *testing.T) {
	settings, _ := detector.NewSettings(detector.DefaultConfig())
	denied := &audio.AcquisitionError{Op: "start", Kind: audio.ErrPermissionDenied}
	acquire := func(context.Context) (Stream, error) { return nil, denied }
	sink := newRecordingSink()
	sess := New(acquire, settings, sink, Options{})

	err := sess.Start(context.Background())
	if !errors.Is(err, audio.ErrPermissionDenied) {
		t.Fatalf("Start = %v, want ErrPermissionDenied", err)
	}
	if sess.State() != Idle {
		t.Fatalf("state = %v, want idle", sess.State())
	}
	sink.mu.Lock()
	last := sink.statuses[len(sink.statuses)-1]
	sink.mu.Unlock()
	if last.Kind != StatusError || last.String() != "Error: capture access required" {
		t.Fatalf("last status = %v", last)
	}
}

func TestSpikeTriggersOnce(t *testing.T) {
	h := newHarness(t, detector.DefaultConfig(), false)
	if err := h.sess.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		h.advance(DefaultTickInterval)
		if l := h.tick(); l.rms > 0.01 {
			t.Fatalf("quiet frame rms = %v", l.rms)
		}
	}
	if h.sink.triggerCount() != 0 {
		t.Fatal("quiet frames triggered")
	}

	h.stream.set(sine(0.5))
	h.advance(DefaultTickInterval)
	h.tick()
	h.waitTriggers(1)

	// Still loud inside the cooldown.
	for i := 0; i < 5; i++ {
		h.advance(DefaultTickInterval)
		h.tick()
	}
	if h.sink.triggerCount() != 1 {
		t.Fatalf("triggers during cooldown = %d, want 1", h.sink.triggerCount())
	}

	kinds := h.sink.kinds()
	found := false
	for _, k := range kinds {
		if k == StatusTriggered {
			found = true
		}
	}
	if !found {
		t.Fatalf("no triggered status in %v", kinds)
	}
	h.sink.mu.Lock()
	ev := h.sink.triggers[0]
	h.sink.mu.Unlock()
	if ev.RMS < 0.3 || ev.Background >= ev.RMS {
		t.Fatalf("event = %v", ev)
	}
}

func TestFreezeBackgroundWhileCooling(t *testing.T) {
	run := func(freeze bool) float64 {
		h := newHarness(t, detector.DefaultConfig(), freeze)
		if err := h.sess.Start(context.Background()); err != nil {
			t.Fatal(err)
		}
		for i := 0; i < 5; i++ {
			h.advance(DefaultTickInterval)
			h.tick()
		}
		h.stream.set(sine(0.5))
		h.advance(DefaultTickInterval)
		fired := h.tick()
		var last level
		for i := 0; i < 5; i++ {
			h.advance(DefaultTickInterval)
			last = h.tick()
		}
		if freeze && last.bg != fired.bg {
			t.Fatalf("frozen background moved: %v -> %v", fired.bg, last.bg)
		}
		return last.bg
	}
	if frozen, learning := run(true), run(false); !(learning > frozen) {
		t.Fatalf("learning bg %v should exceed frozen bg %v", learning, frozen)
	}
}

func TestTickAfterStopDoesNothing(t *testing.T) {
	h := newHarness(t, detector.DefaultConfig(), false)
	if err := h.sess.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.tick()
	gen := h.sess.gen
	h.sess.Stop()
	if h.sess.tick(gen) {
		t.Fatal("stale tick ran")
	}
}

// stopSink stops the session from its Level callback once armed and records
// the order of everything it sees.
type stopSink struct {
	sess   *Session
	armed  atomic.Bool
	mu     sync.Mutex
	events []string
	levels chan struct{}
}

func (s *stopSink) record(e string) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

func (s *stopSink) Trigger(detector.TriggerEvent) { s.record("trigger") }
func (s *stopSink) Status(st Status)              { s.record("status:" + st.String()) }

func (s *stopSink) Level(float64, float64) {
	if s.armed.Load() {
		s.sess.Stop()
		s.record("stopped")
	}
	s.levels <- struct{}{}
}

func TestStopFromLevelSuppressesTrigger(t *testing.T) {
	settings, _ := detector.NewSettings(detector.DefaultConfig())
	stream := &fakeStream{frame: sine(0.001)}
	ticks := make(chan time.Time)
	done := make(chan struct{})
	sink := &stopSink{levels: make(chan struct{}, 16)}
	sess := New(func(context.Context) (Stream, error) { return stream, nil }, settings, sink, Options{
		Ticks: func(time.Duration) (<-chan time.Time, func()) {
			return ticks, func() { close(done) }
		},
	})
	sink.sess = sess
	if err := sess.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		ticks <- time.Now()
		<-sink.levels
	}

	stream.set(sine(0.5))
	sink.armed.Store(true)
	ticks <- time.Now()
	<-sink.levels
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tick loop kept running after stop")
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	stopped := false
	for _, e := range sink.events {
		if e == "stopped" {
			stopped = true
		}
		if e == "trigger" || strings.HasPrefix(e, "status:Triggered") {
			t.Fatalf("%q delivered for a stopped session: %v", e, sink.events)
		}
	}
	if !stopped {
		t.Fatalf("sink never stopped the session: %v", sink.events)
	}
	if sess.State() != Idle || stream.released.Load() != 1 {
		t.Fatalf("state = %v released = %d", sess.State(), stream.released.Load())
	}
}

func TestStopWaitsForTriggerDelivery(t *testing.T) {
	settings, _ := detector.NewSettings(detector.DefaultConfig())
	stream := &fakeStream{frame: sine(0.001)}
	ticks := make(chan time.Time)
	inTrigger := make(chan struct{})
	release := make(chan struct{})
	sink := &blockingSink{inTrigger: inTrigger, release: release}
	sess := New(func(context.Context) (Stream, error) { return stream, nil }, settings, sink, Options{
		Ticks: func(time.Duration) (<-chan time.Time, func()) { return ticks, func() {} },
	})
	if err := sess.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		ticks <- time.Now()
	}
	stream.set(sine(0.5))
	for fired := false; !fired; {
		select {
		case ticks <- time.Now():
		case <-inTrigger:
			fired = true
		case <-time.After(2 * time.Second):
			t.Fatal("loud frame never triggered")
		}
	}

	stopped := make(chan struct{})
	go func() {
		sess.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
		t.Fatal("Stop returned while a trigger was being delivered")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after delivery finished")
	}
	if sink.afterStop.Load() {
		t.Fatal("stopped status reported before the trigger completed")
	}
}

// blockingSink holds the tick goroutine inside Trigger until released.
type blockingSink struct {
	NopSink
	inTrigger  chan struct{}
	release    chan struct{}
	delivering atomic.Bool
	afterStop  atomic.Bool
}

func (b *blockingSink) Trigger(detector.TriggerEvent) {
	b.delivering.Store(true)
	close(b.inTrigger)
	<-b.release
	b.delivering.Store(false)
}

func (b *blockingSink) Status(st Status) {
	if st.Kind == StatusStopped && b.delivering.Load() {
		b.afterStop.Store(true)
	}
}

func TestRestartRearmsDetector(t *testing.T) {
	h := newHarness(t, detector.DefaultConfig(), false)
	if err := h.sess.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		h.advance(DefaultTickInterval)
		h.tick()
	}
	h.stream.set(sine(0.5))
	h.advance(DefaultTickInterval)
	h.tick()
	h.waitTriggers(1)

	// Restart well inside the cooldown: the new session starts armed.
	h.sess.Stop()
	h.stream.set(sine(0.001))
	if err := h.sess.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		h.advance(DefaultTickInterval)
		h.tick()
	}
	h.stream.set(sine(0.5))
	h.advance(DefaultTickInterval)
	h.tick()
	h.waitTriggers(2)
}

func TestStatusString(t *testing.T) {
	tests := []struct {
		st   Status
		want string
	}{
		{Status{Kind: StatusIdle}, "Idle"},
		{Status{Kind: StatusPending}, "Waiting for capture access..."},
		{Status{Kind: StatusListening}, "Listening"},
		{Status{Kind: StatusTriggered, RMS: 0.05}, "Triggered (rms=0.0500)"},
		{Status{Kind: StatusStopped}, "Stopped"},
		{Status{Kind: StatusError}, "Error: capture access required"},
	}
	for _, tc := range tests {
		if got := tc.st.String(); got != tc.want {
			t.Errorf("%d: got %q, want %q", tc.st.Kind, got, tc.want)
		}
	}
}
