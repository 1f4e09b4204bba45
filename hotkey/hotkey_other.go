//go:build !linux

package hotkey

import (
	"fmt"

	"golang.design/x/hotkey"
)

type xHotkey struct {
	hk      *hotkey.Hotkey
	keydown chan struct{}
	keyup   chan struct{}
}

func New(key Key) Hotkey {
	k := hotkey.KeySpace
	if key == KeyT {
		k = hotkey.KeyT
	}
	return &xHotkey{
		hk:      hotkey.New([]hotkey.Modifier{hotkey.ModCtrl, hotkey.ModShift}, k),
		keydown: make(chan struct{}, 1),
		keyup:   make(chan struct{}, 1),
	}
}

func (h *xHotkey) Register() error {
	if err := h.hk.Register(); err != nil {
		return err
	}
	go forward(h.hk.Keydown(), h.keydown)
	go forward(h.hk.Keyup(), h.keyup)
	return nil
}

func (h *xHotkey) Unregister() {
	h.hk.Unregister()
}

func (h *xHotkey) Keydown() <-chan struct{} {
	return h.keydown
}

func (h *xHotkey) Keyup() <-chan struct{} {
	return h.keyup
}

// forward relays events until the source closes on Unregister.
func forward(src <-chan hotkey.Event, dst chan struct{}) {
	for range src {
		select {
		case dst <- struct{}{}:
		default:
		}
	}
}

func Diagnose() (string, error) {
	return fmt.Sprintf("hotkey support available (%s, %s)", KeySpace, KeyT), nil
}
