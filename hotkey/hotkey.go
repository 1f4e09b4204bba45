package hotkey

import "context"

// Key is the non-modifier key of a Ctrl+Shift chord.
type Key int

const (
	KeySpace Key = iota // toggle listening
	KeyT                // test alarm
)

func (k Key) String() string {
	switch k {
	case KeyT:
		return "Ctrl+Shift+T"
	default:
		return "Ctrl+Shift+Space"
	}
}

type Hotkey interface {
	Register() error
	Unregister()
	Keydown() <-chan struct{}
	Keyup() <-chan struct{}
}

// OnPress calls fn once per press of hk until ctx is done.
func OnPress(ctx context.Context, hk Hotkey, fn func()) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-hk.Keydown():
			fn()
		case <-hk.Keyup():
		}
	}
}
