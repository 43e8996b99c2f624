package output

import (
	"image"
)

// Output is a presentation surface for rendered frames:
// - MJPEG HTTP stream
// - X11 window (see internal/display)
//
// Outputs satisfy render.Surface through Name and Present.
type Output interface {
	// Start initializes the output mechanism
	Start() error

	// Stop cleanly shuts down the output
	Stop() error

	// Present sends a rendered frame to the output. The frame is shared with
	// other outputs and must not be modified.
	Present(frame *image.RGBA) error

	// Name returns a human-readable name for this output type
	Name() string

	// IsRunning returns true if the output is currently active
	IsRunning() bool
}

// Config holds common configuration for all output types
type Config struct {
	Width   int
	Height  int
	FPS     int
	Quality int // JPEG quality, 1-100
}
