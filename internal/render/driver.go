package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/EdgeViewer/internal/gpu"
	"github.com/bryanchriswhite/EdgeViewer/internal/logger"
)

// Mode decides when the driver runs a draw tick
type Mode string

const (
	// ModeContinuous draws at a fixed refresh rate
	ModeContinuous Mode = "continuous"

	// ModeWhenDirty draws only after RequestRender
	ModeWhenDirty Mode = "when_dirty"
)

const DefaultRefreshHz = 30

// Surface receives the framebuffer after each draw tick
type Surface interface {
	Name() string
	Present(img *image.RGBA) error
}

// Overlay draws on top of the read-back framebuffer before it is presented
type Overlay interface {
	Render(img *image.RGBA) error
}

// DriverConfig configures the render driver
type DriverConfig struct {
	Mode      Mode
	RefreshHz int
	Width     int
	Height    int
}

// Driver owns the render goroutine: it creates the GPU device, runs the
// renderer's draw ticks and hands the result to the registered surfaces.
type Driver struct {
	renderer  *Renderer
	cfg       DriverConfig
	newDevice func() gpu.Device

	mu       sync.RWMutex
	surfaces []Surface
	overlay  Overlay

	dirty   chan struct{}
	paused  atomic.Bool
	running atomic.Bool
	frames  atomic.Uint64

	presentLog *zerolog.Logger
}

// DriverOption configures a Driver
type DriverOption func(*Driver)

// WithDevice overrides the GPU device constructor
func WithDevice(fn func() gpu.Device) DriverOption {
	return func(d *Driver) {
		d.newDevice = fn
	}
}

// NewDriver creates a driver for r
func NewDriver(r *Renderer, cfg DriverConfig, opts ...DriverOption) *Driver {
	if cfg.Mode == "" {
		cfg.Mode = ModeContinuous
	}
	if cfg.RefreshHz <= 0 {
		cfg.RefreshHz = DefaultRefreshHz
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		cfg.Width, cfg.Height = PlaceholderWidth, PlaceholderHeight
	}

	d := &Driver{
		renderer:  r,
		cfg:       cfg,
		newDevice: func() gpu.Device { return gpu.NewSoftware() },
		dirty:     make(chan struct{}, 1),

		presentLog: logger.Sampled("render-driver", 30),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// AddSurface registers a surface for presented frames
func (d *Driver) AddSurface(s Surface) {
	d.mu.Lock()
	d.surfaces = append(d.surfaces, s)
	d.mu.Unlock()
	logger.WithComponent("render-driver").Info().Str("surface", s.Name()).Msg("Surface attached")
}

// SetOverlay sets the overlay drawn before presenting
func (d *Driver) SetOverlay(o Overlay) {
	d.mu.Lock()
	d.overlay = o
	d.mu.Unlock()
}

// RequestRender marks the surface dirty. Requests made before the next tick
// coalesce into one. In continuous mode it is a no-op.
func (d *Driver) RequestRender() {
	select {
	case d.dirty <- struct{}{}:
	default:
	}
}

// Pause stops draw ticks without releasing GPU resources
func (d *Driver) Pause() {
	if !d.paused.Swap(true) {
		logger.WithComponent("render-driver").Info().Msg("Rendering paused")
	}
}

// Resume restarts draw ticks and redraws once
func (d *Driver) Resume() {
	if d.paused.Swap(false) {
		logger.WithComponent("render-driver").Info().Msg("Rendering resumed")
		d.RequestRender()
	}
}

// Paused reports whether ticks are suspended
func (d *Driver) Paused() bool {
	return d.paused.Load()
}

// Mode returns the configured render mode
func (d *Driver) Mode() Mode {
	return d.cfg.Mode
}

// FramesPresented returns the number of completed draw ticks
func (d *Driver) FramesPresented() uint64 {
	return d.frames.Load()
}

// Run drives the renderer until ctx is cancelled. GPU resources are created
// on entry and released on return.
func (d *Driver) Run(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return errors.New("render driver already running")
	}
	defer d.running.Store(false)

	log := logger.WithComponent("render-driver")

	dev := d.newDevice()
	defer dev.Release()

	if err := d.renderer.SurfaceCreated(dev); err != nil {
		return fmt.Errorf("surface setup failed: %w", err)
	}
	defer d.renderer.Release()
	d.renderer.SurfaceChanged(d.cfg.Width, d.cfg.Height)
	d.renderer.OnEffectChange(func(EffectMode) { d.RequestRender() })
	defer d.renderer.OnEffectChange(nil)

	log.Info().
		Str("mode", string(d.cfg.Mode)).
		Int("refresh_hz", d.cfg.RefreshHz).
		Int("width", d.cfg.Width).
		Int("height", d.cfg.Height).
		Msg("Render driver started")

	var tick <-chan time.Time
	if d.cfg.Mode == ModeContinuous {
		ticker := time.NewTicker(time.Second / time.Duration(d.cfg.RefreshHz))
		defer ticker.Stop()
		tick = ticker.C
	}

	// first frame shows the placeholder
	if err := d.tick(dev); err != nil {
		return err
	}

	for {
		var wake <-chan struct{}
		if d.cfg.Mode == ModeWhenDirty {
			wake = d.dirty
		}

		select {
		case <-ctx.Done():
			log.Info().Uint64("frames", d.frames.Load()).Msg("Render driver stopped")
			return nil
		case <-tick:
		case <-wake:
		}

		if d.paused.Load() {
			continue
		}
		if err := d.tick(dev); err != nil {
			return err
		}
	}
}

func (d *Driver) tick(dev gpu.Device) error {
	if err := d.renderer.DrawFrame(); err != nil {
		return err
	}
	d.frames.Add(1)

	d.mu.RLock()
	surfaces := d.surfaces
	overlay := d.overlay
	d.mu.RUnlock()

	if len(surfaces) == 0 {
		return nil
	}

	img := dev.ReadPixels()
	if overlay != nil {
		if err := overlay.Render(img); err != nil {
			logger.WithComponent("render-driver").Debug().Err(err).Msg("Overlay render failed")
		}
	}
	for _, s := range surfaces {
		if err := s.Present(img); err != nil {
			d.presentLog.Warn().Err(err).Str("surface", s.Name()).Msg("Present failed")
		}
	}
	return nil
}
