//go:build windows

package beep

// No audio playback on Windows; the alarm is visual only.

func newPlatformPlayer() Player { return PlayerFunc(func([]int16) {}) }
