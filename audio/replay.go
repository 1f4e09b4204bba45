package audio

import (
	"sync"
	"time"
)

const replayChunk = 512

// ReplayContext is a capture backend that plays a decoded clip instead of a
// microphone. After the clip ends it keeps delivering silence until stopped.
type ReplayContext struct {
	clip     Clip
	realtime bool
	denied   bool
}

func NewReplayContext(path string, realtime bool) (*ReplayContext, error) {
	clip, err := LoadClip(path)
	if err != nil {
		return nil, err
	}
	return &ReplayContext{clip: clip, realtime: realtime}, nil
}

func NewReplayContextFromClip(clip Clip, realtime bool) *ReplayContext {
	return &ReplayContext{clip: clip, realtime: realtime}
}

// DenyAccess makes Start fail as if the operator refused microphone access.
func (r *ReplayContext) DenyAccess() { r.denied = true }

func (r *ReplayContext) Clip() Clip { return r.clip }

func (r *ReplayContext) Devices() ([]DeviceInfo, error) {
	return []DeviceInfo{{ID: "replay", Name: "replay"}}, nil
}

func (r *ReplayContext) Close() {}

func (r *ReplayContext) NewCapture(_ *DeviceInfo, _ CaptureConfig) (CaptureDevice, error) {
	return &ReplayCapture{
		clip:      r.clip,
		realtime:  r.realtime,
		denied:    r.denied,
		audioDone: make(chan struct{}),
	}, nil
}

type ReplayCapture struct {
	clip     Clip
	realtime bool
	denied   bool

	mu        sync.Mutex
	cb        DataCallback
	audioDone chan struct{}
	stopCh    chan struct{}
	feedDone  chan struct{}
}

// AudioDone is closed once the whole clip has been delivered.
func (f *ReplayCapture) AudioDone() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.audioDone
}

func (f *ReplayCapture) SetCallback(cb DataCallback) {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
}

func (f *ReplayCapture) ClearCallback() {
	f.mu.Lock()
	f.cb = nil
	f.mu.Unlock()
}

func (f *ReplayCapture) DeviceName() string { return "replay" }

func (f *ReplayCapture) callback() DataCallback {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cb
}

func (f *ReplayCapture) Start() error {
	if f.denied {
		return ErrPermissionDenied
	}
	f.mu.Lock()
	f.stopCh = make(chan struct{})
	f.feedDone = make(chan struct{})
	stop, feedDone, audioDone := f.stopCh, f.feedDone, f.audioDone
	f.mu.Unlock()

	interval := time.Millisecond
	if f.realtime && f.clip.SampleRate > 0 {
		interval = time.Duration(replayChunk) * time.Second / time.Duration(f.clip.SampleRate)
	}

	go func() {
		defer close(feedDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		silence := make([]float32, replayChunk)
		pos := 0
		finished := false
		for {
			if cb := f.callback(); cb != nil {
				if pos < len(f.clip.Samples) {
					end := min(pos+replayChunk, len(f.clip.Samples))
					chunk := make([]float32, end-pos)
					copy(chunk, f.clip.Samples[pos:end])
					cb(chunk)
					pos = end
				} else {
					if !finished {
						finished = true
						close(audioDone)
					}
					cb(silence)
				}
			}
			select {
			case <-stop:
				return
			case <-ticker.C:
			}
		}
	}()
	return nil
}

func (f *ReplayCapture) Stop() {
	f.mu.Lock()
	stop, feedDone := f.stopCh, f.feedDone
	f.mu.Unlock()
	if stop == nil {
		return
	}
	select {
	case <-stop:
	default:
		close(stop)
	}
	<-feedDone
}

func (f *ReplayCapture) Close() { f.Stop() }
