package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sync/errgroup"

	"spike/audio"
	"spike/beep"
	"spike/config"
	"spike/detector"
	"spike/doctor"
	"spike/hotkey"
	"spike/log"
	"spike/observe"
	"spike/session"
	"spike/shutdown"
)

var version = "dev"

// surface is the operator-facing view: it receives session events, flashes
// with every alarm beep and shows live settings.
type surface interface {
	session.Sink
	Flash(d time.Duration)
	SettingsChanged(cfg detector.Config)
}

// desktopApp is the optional window; nil unless built with -tags gui and
// started with -gui.
type desktopApp interface {
	surface
	Quit()
	Done() <-chan struct{}
}

// crashDir is where crash output currently goes.
var crashDir string

// initCrashLog redirects runtime crash output to crash_log.txt in dir. An
// empty dir resolves from -logpath and SPIKE_LOG_PATH as given on the raw
// command line, so it can run before flags are parsed.
func initCrashLog(dir string) {
	if dir == "" {
		var err error
		if dir, err = log.ResolveDir(argValue("logpath")); err != nil {
			return
		}
	}
	if dir == crashDir {
		return
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return
	}
	f, err := os.OpenFile(filepath.Join(dir, log.CrashFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	fmt.Fprintf(f, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
	if err := debug.SetCrashOutput(f, debug.CrashOptions{}); err != nil {
		f.Close()
		return
	}
	f.Close()
	crashDir = dir
}

// argValue finds -name value or -name=value in os.Args.
func argValue(name string) string {
	args := os.Args[1:]
	for i, a := range args {
		a = strings.TrimPrefix(strings.TrimPrefix(a, "-"), "-")
		if v, ok := strings.CutPrefix(a, name+"="); ok {
			return v
		}
		if a == name && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func hasArg(name string) bool {
	for _, a := range os.Args[1:] {
		if a == "-"+name || a == "--"+name || a == "-"+name+"=true" {
			return true
		}
	}
	return false
}

// flagFields maps detector flags to the field names config.File.Apply skips.
var flagFields = map[string]string{
	"sensitivity": detector.FieldSensitivity,
	"abs":         detector.FieldAbsolute,
	"cooldown":    detector.FieldCooldown,
}

func run() {
	sensitivityFlag := flag.Float64("sensitivity", detector.DefaultSensitivity, "Trigger when rms exceeds background times this factor (1.0-10.0)")
	absFlag := flag.Float64("abs", detector.DefaultAbsoluteThreshold, "Absolute rms floor for triggering (0.0-0.05)")
	cooldownFlag := flag.Float64("cooldown", detector.DefaultCooldown.Seconds(), "Seconds between triggers (0-30)")
	configFlag := flag.String("config", "", "YAML settings file, reloaded on change")
	deviceFlag := flag.String("device", "", "Use named microphone device")
	setupFlag := flag.Bool("setup", false, "Select microphone device (otherwise uses system default)")
	freezeFlag := flag.Bool("freeze-background", false, "Do not learn the background level while cooling down")
	logPathFlag := flag.String("logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	metricsFlag := flag.String("metrics", "", "Serve Prometheus metrics on this address (e.g., :9464)")
	profileFlag := flag.String("profile", "", "Enable pprof profiling server (e.g., :6060 or localhost:6060)")
	testFlag := flag.Bool("test", false, "Test mode (headless, stdin-driven, replays a WAV or FLAC file)")
	doctorFlag := flag.Bool("doctor", false, "Run system diagnostics and exit")
	versionFlag := flag.Bool("version", false, "Print version and exit")
	tuiFlag := flag.Bool("tui", true, "Run with terminal UI")
	flag.Bool("gui", false, "Run with desktop window (requires -tags gui)")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("spike %s\n", version)
		os.Exit(0)
	}

	explicit := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	base := detector.Config{
		SensitivityFactor: *sensitivityFlag,
		AbsoluteThreshold: *absFlag,
		Cooldown:          time.Duration(*cooldownFlag * float64(time.Second)),
	}
	if err := base.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	device := *deviceFlag
	freeze := *freezeFlag
	metricsAddr := *metricsFlag
	logPath := *logPathFlag
	cfg := base
	if *configFlag != "" {
		file, err := config.Load(*configFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		skip := map[string]bool{}
		for name, field := range flagFields {
			skip[field] = explicit[name]
		}
		if cfg, err = file.Apply(base, skip); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if !explicit["device"] && file.Device != "" {
			device = file.Device
		}
		if !explicit["freeze-background"] && file.FreezeBackground != nil {
			freeze = *file.FreezeBackground
		}
		if !explicit["metrics"] && file.MetricsAddr != "" {
			metricsAddr = file.MetricsAddr
		}
		if !explicit["logpath"] && file.LogPath != "" {
			logPath = file.LogPath
		}
	}

	// Resolve log directory early
	logDir, err := log.ResolveDir(logPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		os.Exit(1)
	}
	log.SetDir(logDir)
	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}
	initCrashLog(logDir)

	if *profileFlag != "" {
		go func() {
			fmt.Fprintf(os.Stderr, "pprof server listening on http://%s/debug/pprof/\n", *profileFlag)
			if err := http.ListenAndServe(*profileFlag, nil); err != nil {
				fmt.Fprintf(os.Stderr, "pprof server error: %v\n", err)
			}
		}()
	}

	if *doctorFlag {
		os.Exit(doctor.Run(device))
	}

	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}

	settings, err := detector.NewSettings(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	opts := session.DefaultOptions()
	opts.FreezeBackground = freeze

	if *testFlag {
		args := flag.Args()
		if len(args) == 0 {
			fmt.Fprintln(os.Stderr, "Usage: spike -test <wav-or-flac-file>")
			os.Exit(1)
		}
		code := runTestMode(args[0], settings, opts)
		log.Close()
		os.Exit(code)
	}

	// Resolve -setup into a device name
	if *setupFlag && device == "" {
		actx, err := audio.NewContext()
		if err != nil {
			fmt.Printf("Error initializing audio: %v\n", err)
			os.Exit(1)
		}
		dev, err := audio.SelectDevice(actx, device)
		actx.Close()
		if err != nil {
			log.Warnf("device selection failed: %v", err)
			fmt.Printf("Warning: device selection failed: %v\n", err)
			fmt.Println("Falling back to default device")
		} else if dev != nil {
			device = dev.Name
		}
	}
	if audio.IsBluetooth(device) {
		log.Warnf("bluetooth microphone selected: %s", device)
	}

	code := serve(settings, opts, device, metricsAddr, *configFlag, *tuiFlag)
	log.Close()
	os.Exit(code)
}

// serve runs the interactive detector until the operator quits or a signal
// arrives, and returns the exit status.
func serve(settings *detector.Settings, opts session.Options, device, metricsAddr, configPath string, useTUI bool) int {
	ctx, cancel := shutdown.Context(context.Background())
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	var metrics *observe.Metrics
	if metricsAddr != "" {
		provider, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: metrics: %v\n", err)
			return 1
		}
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer scancel()
			_ = provider.Shutdown(sctx)
		}()
		if metrics, err = observe.NewMetrics(provider.MeterProvider); err != nil {
			fmt.Fprintf(os.Stderr, "Error: metrics: %v\n", err)
			return 1
		}
		g.Go(func() error {
			if err := provider.Serve(ctx, metricsAddr); err != nil {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		log.Infof("metrics listening on %s", metricsAddr)
	}

	mon := &monitor{ctx: ctx, settings: settings, metrics: metrics}

	var (
		surf      surface
		program   *tea.Program
		autoStart bool
	)
	switch {
	case guiApp != nil:
		surf = guiApp
	case useTUI:
		p, sink := NewTUIProgram(mon, settings.Snapshot(), device)
		surf = sink
		program = p
	default:
		surf = newConsoleSink(os.Stdout)
		autoStart = true
	}
	settings.OnChange(surf.SettingsChanged)

	mon.resp = newResponder(settings, beep.DefaultPlayer(), metrics, surf.Flash)
	sinks := session.Sinks{mon.resp, surf}
	if metrics != nil {
		sinks = append(sinks, metrics)
	}
	mon.sess = session.New(session.FromSource(&audio.Source{Device: device}), settings, sinks, opts)
	defer mon.Close()

	startHotkeys(ctx, g, mon)

	if configPath != "" {
		w, err := config.Watch(configPath, func(f *config.File) {
			if err := mon.rejected(f.ApplyTo(settings)); err == nil {
				log.Info("config reloaded: " + configPath)
			}
		}, func(err error) {
			log.Warnf("config reload: %v", err)
		})
		if err != nil {
			log.Warnf("config watch: %v", err)
		} else {
			defer w.Stop()
		}
	}

	if guiApp != nil {
		attachGUI(mon, settings.Snapshot(), device)
		g.Go(func() error {
			select {
			case <-ctx.Done():
				guiApp.Quit()
			case <-guiApp.Done():
				cancel()
			}
			return nil
		})
	}

	if program != nil {
		g.Go(func() error {
			defer cancel()
			if _, err := program.Run(); err != nil {
				return fmt.Errorf("tui: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			program.Quit()
			return nil
		})
	}

	if autoStart {
		mon.Start()
	}

	if guiApp == nil && program == nil {
		g.Go(func() error {
			<-ctx.Done()
			return nil
		})
	}

	err := g.Wait()
	log.Info("shutdown")
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Errorf("%v", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// startHotkeys binds Ctrl+Shift+Space to the listening toggle and
// Ctrl+Shift+T to the alarm test. Failing to register is not fatal: the
// other controls still work.
func startHotkeys(ctx context.Context, g *errgroup.Group, mon *monitor) {
	toggleKey := hotkey.New(hotkey.KeySpace)
	if err := toggleKey.Register(); err != nil {
		log.Warnf("hotkey %s: %v", hotkey.KeySpace, err)
	} else {
		toggle := hotkey.NewToggle(ctx, toggleKey)
		mon.onToggle = toggle.Sync
		g.Go(func() error {
			defer toggleKey.Unregister()
			for {
				select {
				case <-ctx.Done():
					return nil
				case on := <-toggle.C():
					if on {
						mon.Start()
					} else {
						mon.Stop()
					}
				}
			}
		})
	}

	testKey := hotkey.New(hotkey.KeyT)
	if err := testKey.Register(); err != nil {
		log.Warnf("hotkey %s: %v", hotkey.KeyT, err)
		return
	}
	g.Go(func() error {
		defer testKey.Unregister()
		hotkey.OnPress(ctx, testKey, func() { mon.Test() })
		return nil
	})
}
