//go:build gui

// Package gui is the optional desktop window: level meter, status, live
// settings sliders and a tray menu.
package gui

import (
	"fmt"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/driver/desktop"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"

	"spike/detector"
	"spike/session"
)

// Controller is what the window drives.
type Controller interface {
	Toggle()
	Listening() bool
	Test() bool
	Set(field string, v float64) error
	CopyLast() (string, error)
}

type App struct {
	fyneApp fyne.App
	window  fyne.Window
	meter   *MeterWidget
	onReady func()
	done    chan struct{}

	ctl       Controller
	status    *widget.Label
	device    *widget.Label
	notice    *widget.Label
	toggleBtn *widget.Button
	sliders   map[string]*slider

	mu  sync.Mutex
	cfg detector.Config
}

// slider is a labelled setting control.
type slider struct {
	field  string
	format func(float64) string
	label  *widget.Label
	input  *widget.Slider
}

func NewApp(onReady func()) *App {
	return &App{onReady: onReady, done: make(chan struct{})}
}

func Run(a *App) error {
	a.fyneApp = app.NewWithID("io.spike.gui")
	a.fyneApp.Settings().SetTheme(&darkTheme{})

	a.window = a.fyneApp.NewWindow("spike")
	a.meter = NewMeterWidget()
	a.window.SetContent(container.NewVBox(a.meter, widget.NewLabel("Starting...")))
	a.window.Resize(fyne.NewSize(420, 360))

	// Set up system tray using Fyne's built-in support
	if desk, ok := a.fyneApp.(desktop.App); ok {
		icon := fyne.NewStaticResource("tray.png", trayIcon())
		menu := fyne.NewMenu("spike",
			fyne.NewMenuItem("Show", func() { a.window.Show() }),
			fyne.NewMenuItem("Start/Stop listening", func() { a.control(func() error { a.ctl.Toggle(); return nil }) }),
			fyne.NewMenuItem("Test alarm", func() { a.control(a.test) }),
		)
		desk.SetSystemTrayMenu(menu)
		desk.SetSystemTrayIcon(icon)
		a.window.SetCloseIntercept(func() { a.window.Hide() })
	}

	a.window.Show()
	go a.onReady()

	a.fyneApp.Run()
	a.meter.Stop()
	close(a.done)
	return nil
}

// Attach binds the window to a controller and replaces the start-up
// placeholder with the full controls.
func (a *App) Attach(ctl Controller, cfg detector.Config, device string) {
	a.mu.Lock()
	a.ctl = ctl
	a.cfg = cfg
	a.mu.Unlock()

	fyne.Do(func() {
		a.status = widget.NewLabelWithStyle(session.Status{}.String(), fyne.TextAlignLeading, fyne.TextStyle{Bold: true})
		if device == "" {
			device = "system default"
		}
		a.device = widget.NewLabel("mic: " + device)
		a.notice = widget.NewLabel("")
		a.notice.Wrapping = fyne.TextWrapWord

		a.toggleBtn = widget.NewButtonWithIcon("Start", theme.MediaRecordIcon(), func() {
			a.control(func() error { ctl.Toggle(); return nil })
		})
		testBtn := widget.NewButtonWithIcon("Test alarm", theme.VolumeUpIcon(), func() {
			a.control(a.test)
		})
		copyBtn := widget.NewButtonWithIcon("Copy last", theme.ContentCopyIcon(), func() {
			a.control(a.copyLast)
		})

		a.sliders = map[string]*slider{
			detector.FieldSensitivity: a.newSlider(detector.FieldSensitivity, "sensitivity",
				detector.MinSensitivity, detector.MaxSensitivity, 0.1,
				func(v float64) string { return fmt.Sprintf("%.1f", v) }),
			detector.FieldAbsolute: a.newSlider(detector.FieldAbsolute, "abs threshold",
				0, detector.MaxAbsoluteThreshold, 0.0005,
				func(v float64) string { return fmt.Sprintf("%.4f", v) }),
			detector.FieldCooldown: a.newSlider(detector.FieldCooldown, "cooldown",
				0, detector.MaxCooldown.Seconds(), 1,
				func(v float64) string { return fmt.Sprintf("%gs", v) }),
		}
		a.syncSliders(cfg)

		form := container.NewVBox()
		for _, f := range []string{detector.FieldSensitivity, detector.FieldAbsolute, detector.FieldCooldown} {
			s := a.sliders[f]
			form.Add(s.label)
			form.Add(s.input)
		}

		a.window.SetContent(container.NewVBox(
			a.status,
			a.meter,
			container.NewGridWithColumns(3, a.toggleBtn, testBtn, copyBtn),
			form,
			a.device,
			a.notice,
		))
	})
}

func (a *App) newSlider(field, name string, lo, hi, step float64, format func(float64) string) *slider {
	s := &slider{field: field, format: format, label: widget.NewLabel(name)}
	s.input = widget.NewSlider(lo, hi)
	s.input.Step = step
	s.input.OnChanged = func(v float64) {
		s.label.SetText(name + ": " + format(v))
	}
	s.input.OnChangeEnded = func(v float64) {
		a.control(func() error { return a.ctl.Set(field, v) })
	}
	return s
}

func (a *App) syncSliders(cfg detector.Config) {
	values := map[string]float64{
		detector.FieldSensitivity: cfg.SensitivityFactor,
		detector.FieldAbsolute:    cfg.AbsoluteThreshold,
		detector.FieldCooldown:    cfg.Cooldown.Seconds(),
	}
	for field, v := range values {
		if s, ok := a.sliders[field]; ok {
			s.input.SetValue(v)
		}
	}
}

// control runs fn off the UI thread and shows its error, putting the
// sliders back to the settings actually in force.
func (a *App) control(fn func() error) {
	if a.ctl == nil {
		return
	}
	go func() {
		if err := fn(); err != nil {
			a.mu.Lock()
			cfg := a.cfg
			a.mu.Unlock()
			fyne.Do(func() {
				a.syncSliders(cfg)
				if a.notice != nil {
					a.notice.SetText("⚠ " + err.Error())
				}
			})
		}
	}()
}

func (a *App) test() error {
	if !a.ctl.Test() {
		return fmt.Errorf("alarm already playing")
	}
	return nil
}

func (a *App) copyLast() error {
	text, err := a.ctl.CopyLast()
	if err != nil {
		return err
	}
	if text == "" {
		text = "no trigger to copy yet"
	} else {
		text = "copied: " + text
	}
	fyne.Do(func() { a.notice.SetText(text) })
	return nil
}

func (a *App) Quit() {
	if a.fyneApp != nil {
		fyne.Do(a.fyneApp.Quit)
	}
}

// Done is closed once the window's event loop has exited.
func (a *App) Done() <-chan struct{} {
	return a.done
}

// session.Sink implementation - widget updates go through fyne.Do, the
// meter locks internally.
var _ session.Sink = (*App)(nil)

func (a *App) Status(st session.Status) {
	listening := st.Kind == session.StatusListening || st.Kind == session.StatusTriggered ||
		st.Kind == session.StatusPending
	a.meter.SetListening(listening)
	fyne.Do(func() {
		if a.status == nil {
			return
		}
		a.status.SetText(st.String())
		if listening {
			a.toggleBtn.SetText("Stop")
			a.toggleBtn.SetIcon(theme.MediaStopIcon())
		} else {
			a.toggleBtn.SetText("Start")
			a.toggleBtn.SetIcon(theme.MediaRecordIcon())
		}
	})
}

func (a *App) Level(rms, background float64) {
	a.mu.Lock()
	threshold := a.cfg.Threshold(background)
	a.mu.Unlock()
	a.meter.SetLevel(rms, threshold)
}

func (a *App) Trigger(ev detector.TriggerEvent) {
	fyne.Do(func() {
		if a.notice != nil {
			a.notice.SetText("last trigger " + ev.String())
		}
	})
}

func (a *App) Flash(d time.Duration) {
	a.meter.Flash(d)
}

func (a *App) SettingsChanged(cfg detector.Config) {
	a.mu.Lock()
	a.cfg = cfg
	a.mu.Unlock()
	fyne.Do(func() { a.syncSliders(cfg) })
}
