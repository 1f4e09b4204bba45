//go:build !linux && !windows

package beep

import (
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

// malgoPlayer keeps one playback device open; the data callback reads the
// current buffer atomically.
type malgoPlayer struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device

	samples atomic.Pointer[[]byte]
	pos     atomic.Uint32
	mu      sync.Mutex
}

func newPlatformPlayer() Player {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return PlayerFunc(func([]int16) {})
	}
	p := &malgoPlayer{ctx: ctx}
	if err := p.initDevice(); err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return PlayerFunc(func([]int16) {})
	}
	return p
}

func (p *malgoPlayer) initDevice() error {
	config := malgo.DefaultDeviceConfig(malgo.Playback)
	config.Playback.Format = malgo.FormatS16
	config.Playback.Channels = 1
	config.SampleRate = sampleRate

	dev, err := malgo.InitDevice(p.ctx.Context, config, malgo.DeviceCallbacks{Data: p.data})
	if err != nil {
		return err
	}
	p.device = dev
	return nil
}

func (p *malgoPlayer) data(out, _ []byte, frameCount uint32) {
	clear(out)
	samples := p.samples.Load()
	if samples == nil {
		return
	}
	pos := p.pos.Load()
	remaining := uint32(len(*samples)) - pos
	if remaining == 0 {
		p.samples.Store(nil)
		return
	}
	n := min(frameCount*2, remaining)
	copy(out[:n], (*samples)[pos:pos+n])
	p.pos.Store(pos + n)
}

func (p *malgoPlayer) Play(samples []int16) {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		buf[i*2] = byte(s)
		buf[i*2+1] = byte(s >> 8)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.device.Stop()
	p.pos.Store(0)
	p.samples.Store(&buf)
	if err := p.device.Start(); err != nil {
		// Device can go stale across sleep/wake.
		p.device.Uninit()
		if err := p.initDevice(); err != nil {
			p.samples.Store(nil)
			return
		}
		if err := p.device.Start(); err != nil {
			p.samples.Store(nil)
		}
	}
}
