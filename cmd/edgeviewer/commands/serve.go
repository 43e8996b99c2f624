package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bryanchriswhite/EdgeViewer/internal/api"
	"github.com/bryanchriswhite/EdgeViewer/internal/capture"
	"github.com/bryanchriswhite/EdgeViewer/internal/config"
	"github.com/bryanchriswhite/EdgeViewer/internal/display"
	"github.com/bryanchriswhite/EdgeViewer/internal/export"
	"github.com/bryanchriswhite/EdgeViewer/internal/logger"
	"github.com/bryanchriswhite/EdgeViewer/internal/mailbox"
	"github.com/bryanchriswhite/EdgeViewer/internal/metrics"
	"github.com/bryanchriswhite/EdgeViewer/internal/output"
	"github.com/bryanchriswhite/EdgeViewer/internal/overlay"
	"github.com/bryanchriswhite/EdgeViewer/internal/pipeline"
	"github.com/bryanchriswhite/EdgeViewer/internal/processing"
	"github.com/bryanchriswhite/EdgeViewer/internal/render"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the capture, processing and render pipeline",
	Long: `Start EdgeViewer: capture frames from the configured camera source, run
them through the edge detection routine, render them with the selected effect
and serve the result over HTTP.

The config file is watched; processing, effect, export, overlay and log level
changes apply without a restart.`,
	Example: `  # Start with defaults (auto-detected camera, port 8080)
  edgeviewer serve

  # Use the synthetic test pattern
  edgeviewer config set capture.source pattern && edgeviewer serve

  # Start with debug logging on a custom port
  edgeviewer serve --port 9090 --log-level debug`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to initialize config manager: %w", err)
	}
	cfg := configMgr.Get()
	flagOverrides(&cfg.ServerPort, &cfg.LogLevel)

	logger.Init(cfg.LogLevel, cfg.LogPretty)
	logger.WithComponent("serve").Info().Str("config", configMgr.GetConfigPath()).Msg("Configuration loaded")

	a, err := newApp(cfg, configMgr)
	if err != nil {
		return err
	}
	defer a.close()

	watchConfig(configMgr, configMgr.Get(), a.live())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.run(ctx)
}

// app is the wired set of components behind `serve`
type app struct {
	cfg *config.Config
	log *zerolog.Logger

	gateway  *processing.Gateway
	tracker  *metrics.Tracker
	exporter *export.Exporter
	renderer *render.Renderer
	driver   *render.Driver
	pipe     *pipeline.Pipeline
	hud      *overlay.Manager
	mjpeg    *output.MJPEGOutput
	display  *display.Manager
	server   *api.Server

	// src is nil when no camera could be opened
	src capture.Source
}

// newApp wires every component. A missing camera or X11 server leaves the
// app running without that piece; configMgr may be nil.
func newApp(cfg *config.Config, configMgr *config.Manager) (*app, error) {
	a := &app{cfg: cfg, log: logger.WithComponent("serve")}
	log := a.log

	// Processing
	proc, err := processing.New(cfg.Processing.Backend)
	if err != nil {
		if !errors.Is(err, processing.ErrUnavailable) {
			return nil, err
		}
		log.Warn().Err(err).
			Str("backend", cfg.Processing.Backend).
			Msg("Processing routine unavailable, no frames will be displayed (set processing.backend to passthrough to view unprocessed frames)")
	}
	a.gateway = processing.NewGateway(proc, processing.WithProbePixels(cfg.Processing.AnomalyProbe))

	mb := mailbox.New()
	a.tracker = metrics.NewTracker()
	a.exporter = export.New(export.Config{
		Enabled:  cfg.Export.Enabled,
		Endpoint: cfg.Export.Endpoint,
		Timeout:  time.Duration(cfg.Export.TimeoutMs) * time.Millisecond,
		Interval: cfg.Export.Interval,
	})

	// Rendering
	a.renderer = render.New(mb)
	if effect, err := render.ParseEffect(cfg.Render.Effect); err == nil {
		a.renderer.SetEffect(effect)
	}
	a.driver = render.NewDriver(a.renderer, render.DriverConfig{
		Mode:      render.Mode(cfg.Render.Mode),
		RefreshHz: cfg.Render.RefreshHz,
		Width:     cfg.Render.Width,
		Height:    cfg.Render.Height,
	})

	a.pipe = pipeline.New(a.gateway, mb, a.tracker,
		pipeline.WithExporter(a.exporter),
		pipeline.WithRenderRequest(a.driver.RequestRender),
		pipeline.WithProcessingEnabled(cfg.Processing.Enabled),
	)

	a.hud = overlay.NewHUD(overlay.Anchor(cfg.Render.Overlay.Position), func() overlay.Status {
		snap := a.tracker.Snapshot()
		return overlay.Status{
			FPS:          snap.FPS,
			Width:        snap.Width,
			Height:       snap.Height,
			ProcessingMs: snap.LastProcessingTimeMs,
			Processing:   a.pipe.ProcessingEnabled(),
			Effect:       a.renderer.Effect().String(),
		}
	})
	a.hud.SetEnabled(cfg.Render.Overlay.Enabled)
	a.driver.SetOverlay(a.hud)

	// Surfaces
	a.mjpeg = output.NewMJPEGOutput(output.Config{
		Width:   cfg.Render.Width,
		Height:  cfg.Render.Height,
		FPS:     cfg.Render.RefreshHz,
		Quality: cfg.Render.JPEGQuality,
	})
	if err := a.mjpeg.Start(); err != nil {
		return nil, fmt.Errorf("failed to start MJPEG output: %w", err)
	}
	a.driver.AddSurface(a.mjpeg)

	if cfg.Render.X11.Enabled {
		displayMgr, err := display.NewManager(cfg.Render.X11)
		if err == nil {
			err = displayMgr.Start()
		}
		if err != nil {
			log.Warn().Err(err).Msg("X11 window unavailable, continuing with the web viewer only")
		} else {
			a.display = displayMgr
			a.driver.AddSurface(displayMgr)
		}
	}

	// Capture
	src, err := capture.Open(capture.Config{
		Source:  cfg.Capture.Source,
		Device:  cfg.Capture.Device,
		Width:   cfg.Capture.Width,
		Height:  cfg.Capture.Height,
		FPS:     cfg.Capture.FPS,
		Pattern: cfg.Capture.Pattern,
	})
	if err != nil {
		log.Warn().Err(err).Msg("No camera available, showing the placeholder until restart")
	} else {
		a.src = src
	}

	a.server = api.NewServer(api.Components{
		Pipeline:   a.pipe,
		Gateway:    a.gateway,
		Mailbox:    mb,
		Renderer:   a.renderer,
		Driver:     a.driver,
		Tracker:    a.tracker,
		Exporter:   a.exporter,
		Config:     configMgr,
		Stream:     a.mjpeg,
		SourceName: a.sourceName(),
	})
	return a, nil
}

func (a *app) sourceName() string {
	if a.src == nil {
		return "none"
	}
	return a.src.Name()
}

func (a *app) live() *liveTargets {
	return &liveTargets{
		pipeline: a.pipe,
		renderer: a.renderer,
		exporter: a.exporter,
		overlay:  a.hud,
	}
}

// run serves until ctx is cancelled. Capture failures only degrade the app;
// a failing render driver or HTTP server stops it.
func (a *app) run(ctx context.Context) error {
	log := a.log
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	var wg sync.WaitGroup
	errCh := make(chan error, 2)
	run := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				errCh <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}
	run("render", func() error { return a.driver.Run(ctx) })
	run("api", func() error { return a.server.Start(a.cfg.ServerPort) })

	if a.src != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.pipe.Run(ctx, a.src); err != nil {
				log.Warn().Err(err).Msg("Capture stopped, showing the last frame until restart")
			}
		}()
	}

	log.Info().
		Int("port", a.cfg.ServerPort).
		Str("source", a.sourceName()).
		Str("processor", a.gateway.ProcessorName()).
		Str("render_mode", a.cfg.Render.Mode).
		Msgf("EdgeViewer is running, open http://localhost:%d", a.cfg.ServerPort)

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down gracefully...")
	case runErr = <-errCh:
		log.Error().Err(runErr).Msg("Component failed, shutting down")
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP server shutdown")
	}
	wg.Wait()
	if err := a.exporter.Wait(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Pending exports abandoned")
	}
	return runErr
}

// close releases the presentation surfaces
func (a *app) close() {
	if a.display != nil {
		a.display.Stop()
	}
	a.mjpeg.Stop()
}

// watchConfig re-applies live settings whenever the config file changes
func watchConfig(configMgr *config.Manager, initial *config.Config, live *liveTargets) {
	log := logger.WithComponent("config")

	var mu sync.Mutex
	current := initial

	viper.SetConfigFile(configMgr.GetConfigPath())
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		log.Warn().Err(err).Msg("Config watch disabled")
		return
	}
	viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		next, err := configMgr.Reload()
		if err != nil {
			log.Warn().Err(err).Str("file", e.Name).Msg("Ignoring invalid config change")
			return
		}

		mu.Lock()
		restart := live.apply(current, next)
		current = next
		mu.Unlock()

		if len(restart) > 0 {
			log.Warn().Strs("keys", restart).Msg("Changed settings take effect after a restart")
		}
	})
	viper.WatchConfig()
}
