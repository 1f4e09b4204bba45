package audio

import (
	"context"
	"sync"
	"sync/atomic"
)

// Source opens the microphone on demand. Each Acquire creates a fresh
// capture context so a released stream frees every OS resource.
type Source struct {
	// NewContext defaults to the platform backend.
	NewContext func() (Context, error)
	// Device is a device name; empty selects the system default.
	Device string
	Config CaptureConfig
}

// Acquire opens and starts capture. It returns *AcquisitionError when access
// is denied or no device exists. If ctx ends first, the late stream is
// released in the background.
func (s *Source) Acquire(ctx context.Context) (*Stream, error) {
	type result struct {
		st  *Stream
		err error
	}
	ch := make(chan result, 1)
	go func() {
		st, err := s.open()
		ch <- result{st, err}
	}()
	select {
	case r := <-ch:
		return r.st, r.err
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.st != nil {
				r.st.Release()
			}
		}()
		return nil, &AcquisitionError{Op: "acquire", Err: ctx.Err()}
	}
}

func (s *Source) open() (*Stream, error) {
	newCtx := s.NewContext
	if newCtx == nil {
		newCtx = NewContext
	}
	cfg := s.Config
	if cfg.SampleRate == 0 {
		cfg = DefaultCaptureConfig()
	}

	actx, err := newCtx()
	if err != nil {
		return nil, acquisitionError("connect", err)
	}
	dev, err := FindDevice(actx, s.Device)
	if err != nil {
		actx.Close()
		return nil, acquisitionError("device", err)
	}
	capture, err := actx.NewCapture(dev, cfg)
	if err != nil {
		actx.Close()
		return nil, acquisitionError("open", err)
	}

	st := &Stream{ctx: actx, capture: capture, ring: make([]float32, FrameSize)}
	capture.SetCallback(st.write)
	if err := capture.Start(); err != nil {
		capture.ClearCallback()
		capture.Close()
		actx.Close()
		return nil, acquisitionError("start", err)
	}
	return st, nil
}

// Stream is a live capture. It keeps the most recent FrameSize samples.
type Stream struct {
	ctx     Context
	capture CaptureDevice

	mu   sync.Mutex
	ring []float32
	pos  int

	received atomic.Uint64
	released atomic.Bool
}

func (st *Stream) write(samples []float32) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if len(samples) >= len(st.ring) {
		copy(st.ring, samples[len(samples)-len(st.ring):])
		st.pos = 0
	} else {
		n := copy(st.ring[st.pos:], samples)
		copy(st.ring, samples[n:])
		st.pos = (st.pos + len(samples)) % len(st.ring)
	}
	st.received.Add(uint64(len(samples)))
}

// ReadFrame copies the latest samples into dst, oldest first. Before a full
// frame has arrived the leading samples are zero.
func (st *Stream) ReadFrame(dst []float32) {
	st.mu.Lock()
	defer st.mu.Unlock()
	n := len(st.ring)
	if len(dst) < n {
		// Caller asked for a shorter frame: take the newest samples.
		start := (st.pos + n - len(dst)) % n
		for i := range dst {
			dst[i] = st.ring[(start+i)%n]
		}
		return
	}
	k := copy(dst, st.ring[st.pos:])
	copy(dst[k:], st.ring[:st.pos])
}

// Received is the total number of samples delivered by the device.
func (st *Stream) Received() uint64 { return st.received.Load() }

func (st *Stream) DeviceName() string { return st.capture.DeviceName() }

// Capture exposes the underlying device, e.g. a *ReplayCapture in test mode.
func (st *Stream) Capture() CaptureDevice { return st.capture }

// Release stops capture and frees the device. Safe to call repeatedly.
func (st *Stream) Release() {
	if !st.released.CompareAndSwap(false, true) {
		return
	}
	st.capture.Stop()
	st.capture.ClearCallback()
	st.capture.Close()
	st.ctx.Close()
}
