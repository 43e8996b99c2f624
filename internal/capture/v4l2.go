//go:build linux && cgo

package capture

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/vladimirvivien/go4vl/device"
	"github.com/vladimirvivien/go4vl/v4l2"

	"github.com/bryanchriswhite/EdgeViewer/internal/frame"
	"github.com/bryanchriswhite/EdgeViewer/internal/logger"
)

// V4L2Source captures YUYV frames from a V4L2 device and exposes them as
// strided 4:2:0 plane views.
type V4L2Source struct {
	cfg    Config
	frames chan *frame.RawFrame

	mu      sync.Mutex
	dev     *device.Device
	width   int
	height  int
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewV4L2Source creates a V4L2 source for cfg.Device (default /dev/video0)
func NewV4L2Source(cfg Config) Source {
	cfg = cfg.withDefaults()
	if cfg.Device == "" {
		cfg.Device = DefaultDevice
	}
	return &V4L2Source{
		cfg:    cfg,
		frames: make(chan *frame.RawFrame),
		done:   make(chan struct{}),
	}
}

func (s *V4L2Source) Name() string {
	return "v4l2:" + s.cfg.Device
}

func (s *V4L2Source) IsAvailable() bool {
	_, err := os.Stat(s.cfg.Device)
	return err == nil
}

func (s *V4L2Source) Frames() <-chan *frame.RawFrame {
	return s.frames
}

func (s *V4L2Source) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errAlreadyStarted
	}

	log := logger.WithComponent("capture")

	dev, err := device.Open(
		s.cfg.Device,
		device.WithPixFormat(v4l2.PixFormat{
			PixelFormat: v4l2.PixelFmtYUYV,
			Width:       uint32(s.cfg.Width),
			Height:      uint32(s.cfg.Height),
			Field:       v4l2.FieldNone,
		}),
		device.WithFPS(uint32(s.cfg.FPS)),
	)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", s.cfg.Device, err)
	}

	// the driver may pick a different size than requested
	pix, err := dev.GetPixFormat()
	if err != nil {
		dev.Close()
		return fmt.Errorf("failed to read pixel format: %w", err)
	}
	if pix.PixelFormat != v4l2.PixelFmtYUYV {
		dev.Close()
		return fmt.Errorf("device %s does not support YUYV", s.cfg.Device)
	}
	s.width, s.height = int(pix.Width)&^1, int(pix.Height)&^1

	ctx, cancel := context.WithCancel(ctx)
	if err := dev.Start(ctx); err != nil {
		cancel()
		dev.Close()
		return fmt.Errorf("failed to start stream: %w", err)
	}

	s.dev = dev
	s.cancel = cancel
	s.started = true
	go s.run(ctx, dev.GetOutput())

	log.Info().
		Str("device", s.cfg.Device).
		Int("width", s.width).
		Int("height", s.height).
		Int("fps", s.cfg.FPS).
		Msg("V4L2 capture started")
	return nil
}

func (s *V4L2Source) run(ctx context.Context, output <-chan []byte) {
	defer close(s.done)
	defer close(s.frames)

	log := logger.Sampled("capture", 30)
	released := make(chan struct{}, 1)

	for {
		var buf []byte
		var ok bool
		select {
		case <-ctx.Done():
			return
		case buf, ok = <-output:
			if !ok {
				return
			}
		}

		f, err := frame.FromYUYV(buf, s.width, s.height, func() { released <- struct{}{} })
		if err != nil {
			log.Warn().Err(err).Msg("Dropping malformed V4L2 buffer")
			continue
		}

		select {
		case s.frames <- f:
		case <-ctx.Done():
			return
		}

		select {
		case <-released:
		case <-ctx.Done():
			return
		}
	}
}

func (s *V4L2Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started || s.stopped {
		return nil
	}
	s.stopped = true

	s.cancel()
	<-s.done
	if err := s.dev.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", s.cfg.Device, err)
	}
	logger.WithComponent("capture").Info().Str("device", s.cfg.Device).Msg("V4L2 capture stopped")
	return nil
}
