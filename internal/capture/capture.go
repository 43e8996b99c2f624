package capture

import (
	"context"

	"github.com/bryanchriswhite/EdgeViewer/internal/frame"
)

// Source is a camera backend delivering planar YUV 4:2:0 frames
type Source interface {
	// Name returns a human-readable name for this source
	Name() string

	// IsAvailable checks if this source can be used in the current environment
	IsAvailable() bool

	// Start begins acquisition. Frames are delivered on Frames() until ctx is
	// cancelled or Stop is called, after which the channel is closed.
	Start(ctx context.Context) error

	// Frames returns the frame channel. The consumer must Close each frame
	// before receiving the next one; the source may reuse its memory afterwards.
	Frames() <-chan *frame.RawFrame

	// Stop releases the device and any background processes
	Stop() error
}

// Config selects and sizes a source
type Config struct {
	Source  string // auto, v4l2, gstreamer, x11, pattern
	Device  string
	Width   int
	Height  int
	FPS     int
	Pattern string // gstreamer videotestsrc pattern or synthetic pattern name
}

const (
	SourceAuto      = "auto"
	SourceV4L2      = "v4l2"
	SourceGStreamer = "gstreamer"
	SourceX11       = "x11"
	SourcePattern   = "pattern"
)

const (
	DefaultDevice = "/dev/video0"
	DefaultWidth  = 640
	DefaultHeight = 480
	DefaultFPS    = 30
)

func (c Config) withDefaults() Config {
	if c.Source == "" {
		c.Source = SourceAuto
	}
	if c.Width <= 0 || c.Height <= 0 {
		c.Width, c.Height = DefaultWidth, DefaultHeight
	}
	// 4:2:0 chroma needs even dimensions
	c.Width &^= 1
	c.Height &^= 1
	if c.FPS <= 0 {
		c.FPS = DefaultFPS
	}
	return c
}
