//go:build !linux || !cgo

package capture

import (
	"context"
	"errors"

	"github.com/bryanchriswhite/EdgeViewer/internal/frame"
)

var errNoV4L2 = errors.New("v4l2 capture is only supported on linux")

type unsupportedV4L2 struct{}

// NewV4L2Source returns a source that is never available on this platform
func NewV4L2Source(Config) Source {
	return unsupportedV4L2{}
}

func (unsupportedV4L2) Name() string                   { return "v4l2" }
func (unsupportedV4L2) IsAvailable() bool              { return false }
func (unsupportedV4L2) Start(context.Context) error    { return errNoV4L2 }
func (unsupportedV4L2) Frames() <-chan *frame.RawFrame { return nil }
func (unsupportedV4L2) Stop() error                    { return nil }
