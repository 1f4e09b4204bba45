package main

import (
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"spike/detector"
	"spike/dsp"
	"spike/hotkey"
	"spike/session"
)

// TUI message types
type StatusMsg struct{ Status session.Status }
type TriggerMsg struct{ Event detector.TriggerEvent }
type FlashMsg struct{ Duration time.Duration }
type SettingsMsg struct{ Config detector.Config }
type NoticeMsg struct {
	Text string
	Warn bool
}
type tickMsg time.Time

const (
	meterWidth = 40
	// Step sizes for the arrow and bracket keys.
	stepSensitivity = 0.1
	stepAbsolute    = 0.0005
	stepCooldown    = 1.0
)

// tuiSink forwards session events to the program. Levels arrive at the
// frame rate and are sampled by the render tick instead of being sent. Other
// events go through a buffered queue so the tick goroutine never waits on
// the event loop; when the queue is full the event is dropped.
type tuiSink struct {
	p      *tea.Program
	rms    atomic.Uint64
	bg     atomic.Uint64
	events chan tea.Msg
}

const tuiQueueSize = 64

func newTUISink() *tuiSink {
	return &tuiSink{events: make(chan tea.Msg, tuiQueueSize)}
}

// pump delivers queued events in order. Send returns once the program has
// exited, so pump never outlives it blocked.
func (s *tuiSink) pump() {
	for msg := range s.events {
		s.p.Send(msg)
	}
}

func (s *tuiSink) post(msg tea.Msg) {
	select {
	case s.events <- msg:
	default:
	}
}

func (s *tuiSink) Trigger(ev detector.TriggerEvent) { s.post(TriggerMsg{Event: ev}) }
func (s *tuiSink) Status(st session.Status)         { s.post(StatusMsg{Status: st}) }
func (s *tuiSink) Flash(d time.Duration)            { s.post(FlashMsg{Duration: d}) }
func (s *tuiSink) SettingsChanged(cfg detector.Config) {
	s.post(SettingsMsg{Config: cfg})
}

func (s *tuiSink) Level(rms, background float64) {
	s.rms.Store(math.Float64bits(rms))
	s.bg.Store(math.Float64bits(background))
}

func (s *tuiSink) levels() (rms, background float64) {
	return math.Float64frombits(s.rms.Load()), math.Float64frombits(s.bg.Load())
}

type tuiModel struct {
	mon  *monitor
	sink *tuiSink

	status     session.Status
	cfg        detector.Config
	rms        float64
	peak       float64
	background float64
	flashUntil time.Time
	triggers   int
	last       *detector.TriggerEvent
	notice     string
	noticeWarn bool
	device     string
	width      int
	height     int
}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("255"))
	idleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	listenStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	trigStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("208")).Bold(true)
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	valueStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	helpKeyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("239")).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	flashStyle   = lipgloss.NewStyle().Background(lipgloss.Color("160"))

	meterOff  = lipgloss.NewStyle().Foreground(lipgloss.Color("236"))
	meterLow  = lipgloss.NewStyle().Foreground(lipgloss.Color("35"))
	meterHigh = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	meterOver = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	meterMark = lipgloss.NewStyle().Foreground(lipgloss.Color("255")).Bold(true)
)

func NewTUIProgram(mon *monitor, cfg detector.Config, device string) (*tea.Program, *tuiSink) {
	sink := newTUISink()
	m := tuiModel{
		mon:    mon,
		sink:   sink,
		cfg:    cfg,
		device: device,
		status: session.Status{Kind: session.StatusIdle},
	}
	p := tea.NewProgram(m, tea.WithAltScreen())
	sink.p = p
	go sink.pump()
	return p, sink
}

func tuiTick() tea.Cmd {
	return tea.Tick(33*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m tuiModel) Init() tea.Cmd {
	return tuiTick()
}

// control runs fn off the event loop; settings callbacks send messages back
// into the program, which would deadlock inside Update.
func (m tuiModel) control(fn func() error) tea.Cmd {
	return func() tea.Msg {
		if err := fn(); err != nil {
			return NoticeMsg{Text: err.Error(), Warn: true}
		}
		return nil
	}
}

func (m tuiModel) nudge(field string, delta float64) tea.Cmd {
	return m.control(func() error { return m.mon.Nudge(field, delta) })
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "s", " ":
			return m, m.control(func() error { m.mon.Toggle(); return nil })
		case "t":
			return m, m.control(func() error {
				if !m.mon.Test() {
					return fmt.Errorf("alarm already playing")
				}
				return nil
			})
		case "c":
			return m, func() tea.Msg {
				text, err := m.mon.CopyLast()
				switch {
				case err != nil:
					return NoticeMsg{Text: err.Error(), Warn: true}
				case text == "":
					return NoticeMsg{Text: "no trigger to copy yet"}
				}
				return NoticeMsg{Text: "copied: " + text}
			}
		case "up", "k":
			return m, m.nudge(detector.FieldSensitivity, stepSensitivity)
		case "down", "j":
			return m, m.nudge(detector.FieldSensitivity, -stepSensitivity)
		case "right", "l":
			return m, m.nudge(detector.FieldAbsolute, stepAbsolute)
		case "left", "h":
			return m, m.nudge(detector.FieldAbsolute, -stepAbsolute)
		case "]":
			return m, m.nudge(detector.FieldCooldown, stepCooldown)
		case "[":
			return m, m.nudge(detector.FieldCooldown, -stepCooldown)
		}

	case tickMsg:
		rms, bg := m.sink.levels()
		if m.status.Kind == session.StatusListening || m.status.Kind == session.StatusTriggered {
			// Fast attack, slow release.
			if rms > m.rms {
				m.rms = rms
			} else {
				m.rms = m.rms*0.8 + rms*0.2
			}
			m.peak = math.Max(m.peak*0.995, rms)
			m.background = bg
		}
		return m, tuiTick()

	case StatusMsg:
		m.status = msg.Status
		switch msg.Status.Kind {
		case session.StatusListening:
			m.rms, m.peak, m.background = 0, 0, 0
			m.sink.Level(0, 0)
		case session.StatusStopped, session.StatusError, session.StatusIdle:
			m.rms, m.peak = 0, 0
		}

	case TriggerMsg:
		m.triggers++
		ev := msg.Event
		m.last = &ev

	case FlashMsg:
		m.flashUntil = time.Now().Add(msg.Duration)

	case SettingsMsg:
		m.cfg = msg.Config

	case NoticeMsg:
		m.notice = msg.Text
		m.noticeWarn = msg.Warn
	}
	return m, nil
}

func (m tuiModel) statusLine() string {
	text := m.status.String()
	switch m.status.Kind {
	case session.StatusListening:
		return listenStyle.Render("● " + text)
	case session.StatusTriggered:
		return trigStyle.Render("● " + text)
	case session.StatusPending:
		return warnStyle.Render("◌ " + text)
	case session.StatusError:
		return errStyle.Render("✖ " + text)
	default:
		return idleStyle.Render("○ " + text)
	}
}

// renderMeter draws the level on a log scale with the trigger threshold
// marked.
func renderMeter(rms, threshold float64, active bool) string {
	lit := int(dsp.MeterFraction(rms) * meterWidth)
	mark := int(dsp.MeterFraction(threshold) * meterWidth)
	mark = min(mark, meterWidth-1)

	var b strings.Builder
	b.WriteString("[")
	for i := 0; i < meterWidth; i++ {
		switch {
		case active && i == mark:
			b.WriteString(meterMark.Render("|"))
		case !active || i >= lit:
			b.WriteString(meterOff.Render("·"))
		case i >= mark:
			b.WriteString(meterOver.Render("█"))
		case float64(i) >= float64(mark)*0.75:
			b.WriteString(meterHigh.Render("█"))
		default:
			b.WriteString(meterLow.Render("█"))
		}
	}
	b.WriteString("]")
	return b.String()
}

func (m tuiModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	active := m.status.Kind == session.StatusListening || m.status.Kind == session.StatusTriggered
	threshold := m.cfg.Threshold(m.background)

	var lines []string
	lines = append(lines, titleStyle.Render("spike")+"  "+m.statusLine())
	lines = append(lines, "")
	lines = append(lines, renderMeter(m.rms, threshold, active))
	if active {
		lines = append(lines, labelStyle.Render(fmt.Sprintf("rms %.4f  peak %.4f  bg %.4f  threshold %.4f",
			m.rms, m.peak, m.background, threshold)))
	} else {
		lines = append(lines, "")
	}
	lines = append(lines, "")

	lines = append(lines,
		labelStyle.Render("sensitivity ")+valueStyle.Render(fmt.Sprintf("%.1f", m.cfg.SensitivityFactor))+
			labelStyle.Render("   abs ")+valueStyle.Render(fmt.Sprintf("%.4f", m.cfg.AbsoluteThreshold))+
			labelStyle.Render("   cooldown ")+valueStyle.Render(fmt.Sprintf("%gs", m.cfg.Cooldown.Seconds())))

	device := m.device
	if device == "" {
		device = "system default"
	}
	lines = append(lines, labelStyle.Render("mic: "+device))

	if m.last != nil {
		lines = append(lines, labelStyle.Render(fmt.Sprintf("triggers: %d  last %s", m.triggers, m.last)))
	} else {
		lines = append(lines, labelStyle.Render("triggers: 0"))
	}

	lines = append(lines, "")
	switch {
	case m.notice == "":
		lines = append(lines, "")
	case m.noticeWarn:
		lines = append(lines, warnStyle.Render("⚠ "+m.notice))
	default:
		lines = append(lines, okStyle.Render(m.notice))
	}

	lines = append(lines, "")
	lines = append(lines,
		helpKeyStyle.Render("s")+helpStyle.Render(" start/stop  ")+
			helpKeyStyle.Render("t")+helpStyle.Render(" test  ")+
			helpKeyStyle.Render("↑↓")+helpStyle.Render(" sensitivity  ")+
			helpKeyStyle.Render("←→")+helpStyle.Render(" abs  ")+
			helpKeyStyle.Render("[ ]")+helpStyle.Render(" cooldown  ")+
			helpKeyStyle.Render("c")+helpStyle.Render(" copy  ")+
			helpKeyStyle.Render("q")+helpStyle.Render(" quit"))
	lines = append(lines, helpStyle.Render(fmt.Sprintf("%s toggles listening, %s tests the alarm", hotkey.KeySpace, hotkey.KeyT)))
	lines = append(lines, helpStyle.Render("spike "+version))

	panel := lipgloss.NewStyle().
		Width(m.width).
		Height(m.height).
		Padding(1, 2)
	if time.Now().Before(m.flashUntil) {
		panel = panel.Inherit(flashStyle)
	}
	return panel.Render(strings.Join(lines, "\n"))
}
