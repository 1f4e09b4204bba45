//go:build !windows

package doctor

import "os/exec"

// resetTerminal undoes raw mode left behind by hotkey or device-picker code.
func resetTerminal() {
	exec.Command("stty", "sane").Run()
}
