//go:build !gui

package main

import "spike/detector"

var guiApp desktopApp

func initGUI() {
	panic("spike: built without GUI support (rebuild with -tags gui)")
}

func attachGUI(*monitor, detector.Config, string) {}
