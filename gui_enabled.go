//go:build gui

package main

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"spike/detector"
	"spike/gui"
)

var (
	guiApp  desktopApp
	fyneApp *gui.App
)

func initGUI() {
	// Lock this goroutine to OS thread for Fyne/GLFW
	runtime.LockOSThread()

	fyneApp = gui.NewApp(func() {
		run()
	})
	guiApp = fyneApp
	if err := gui.Run(fyneApp); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	// run() exits the process once shutdown has finished.
	time.Sleep(5 * time.Second)
	os.Exit(0)
}

func attachGUI(mon *monitor, cfg detector.Config, device string) {
	fyneApp.Attach(mon, cfg, device)
}
