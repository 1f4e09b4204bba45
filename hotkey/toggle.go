package hotkey

import (
	"context"
	"sync/atomic"
)

// Toggle turns a momentary chord into an on/off switch. Each completed press
// (down then up) flips the state and publishes the new value on C.
type Toggle struct {
	ch chan bool
	on atomic.Bool
}

func NewToggle(ctx context.Context, hk Hotkey) *Toggle {
	t := &Toggle{ch: make(chan bool, 1)}
	go t.run(ctx, hk)
	return t
}

func (t *Toggle) C() <-chan bool { return t.ch }

func (t *Toggle) On() bool { return t.on.Load() }

// Sync records a state change made through another control, so the next
// press flips from the right position.
func (t *Toggle) Sync(on bool) { t.on.Store(on) }

func (t *Toggle) run(ctx context.Context, hk Hotkey) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-hk.Keydown():
		}
		select {
		case <-ctx.Done():
			return
		case <-hk.Keyup():
		}
		next := !t.on.Load()
		t.on.Store(next)
		// Keep only the newest state if the consumer lags.
		select {
		case <-t.ch:
		default:
		}
		t.ch <- next
	}
}
