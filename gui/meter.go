//go:build gui

package gui

import (
	"image/color"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/widget"

	"spike/dsp"
)

const segments = 40

var (
	colorOff       = color.RGBA{48, 48, 48, 255}
	colorLow       = color.RGBA{0, 175, 95, 255}
	colorHigh      = color.RGBA{255, 175, 0, 255}
	colorOver      = color.RGBA{255, 0, 0, 255}
	colorThreshold = color.RGBA{255, 255, 255, 255}
	colorFlash     = color.RGBA{255, 40, 40, 255}
)

// MeterWidget shows the filtered level against the current trigger
// threshold. It turns red while a flash is active.
type MeterWidget struct {
	widget.BaseWidget
	mu         sync.Mutex
	level      float64
	threshold  float64
	listening  bool
	flashUntil time.Time
	stopCh     chan struct{}
}

func NewMeterWidget() *MeterWidget {
	m := &MeterWidget{stopCh: make(chan struct{})}
	m.ExtendBaseWidget(m)
	go m.animate()
	return m
}

func (m *MeterWidget) SetListening(on bool) {
	m.mu.Lock()
	m.listening = on
	if !on {
		m.level = 0
	}
	m.mu.Unlock()
}

// SetLevel takes raw RMS values; the display decays slowly so short peaks
// stay visible.
func (m *MeterWidget) SetLevel(rms, threshold float64) {
	m.mu.Lock()
	l := dsp.MeterFraction(rms)
	if l > m.level {
		m.level = l
	} else {
		m.level = m.level*0.85 + l*0.15
	}
	m.threshold = dsp.MeterFraction(threshold)
	m.mu.Unlock()
}

func (m *MeterWidget) Flash(d time.Duration) {
	m.mu.Lock()
	m.flashUntil = time.Now().Add(d)
	m.mu.Unlock()
}

func (m *MeterWidget) Stop() {
	select {
	case <-m.stopCh:
	default:
		close(m.stopCh)
	}
}

func (m *MeterWidget) animate() {
	ticker := time.NewTicker(33 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			fyne.Do(func() {
				m.Refresh()
			})
		}
	}
}

func (m *MeterWidget) MinSize() fyne.Size {
	return fyne.NewSize(segments*8, 48)
}

func (m *MeterWidget) CreateRenderer() fyne.WidgetRenderer {
	r := &meterRenderer{meter: m}
	r.bg = canvas.NewRectangle(color.Black)
	r.cells = make([]*canvas.Rectangle, segments)
	for i := range r.cells {
		r.cells[i] = canvas.NewRectangle(colorOff)
	}
	r.marker = canvas.NewRectangle(colorThreshold)
	return r
}

type meterRenderer struct {
	meter  *MeterWidget
	bg     *canvas.Rectangle
	cells  []*canvas.Rectangle
	marker *canvas.Rectangle
	size   fyne.Size
}

func (r *meterRenderer) Layout(size fyne.Size) {
	r.size = size
	r.bg.Resize(size)
	cellW := size.Width / segments
	for i, c := range r.cells {
		c.Move(fyne.NewPos(float32(i)*cellW+1, 4))
		c.Resize(fyne.NewSize(cellW-2, size.Height-8))
	}
	r.marker.Resize(fyne.NewSize(2, size.Height))
}

func (r *meterRenderer) MinSize() fyne.Size {
	return r.meter.MinSize()
}

func (r *meterRenderer) Refresh() {
	r.meter.mu.Lock()
	level := r.meter.level
	threshold := r.meter.threshold
	listening := r.meter.listening
	flashing := time.Now().Before(r.meter.flashUntil)
	r.meter.mu.Unlock()

	if flashing {
		r.bg.FillColor = colorFlash
	} else {
		r.bg.FillColor = color.Black
	}
	r.bg.Refresh()

	lit := int(level * segments)
	for i, c := range r.cells {
		frac := float64(i) / segments
		switch {
		case !listening || i >= lit:
			c.FillColor = colorOff
		case frac >= threshold:
			c.FillColor = colorOver
		case frac >= threshold*0.75:
			c.FillColor = colorHigh
		default:
			c.FillColor = colorLow
		}
		c.Refresh()
	}

	r.marker.Move(fyne.NewPos(float32(threshold)*r.size.Width, 0))
	r.marker.Hidden = !listening
	r.marker.Refresh()
}

func (r *meterRenderer) Objects() []fyne.CanvasObject {
	objs := make([]fyne.CanvasObject, 0, segments+2)
	objs = append(objs, r.bg)
	for _, c := range r.cells {
		objs = append(objs, c)
	}
	return append(objs, r.marker)
}

func (r *meterRenderer) Destroy() {
	r.meter.Stop()
}
