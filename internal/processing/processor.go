package processing

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnavailable is returned when the native processing routine cannot be loaded
var ErrUnavailable = errors.New("native processing routine unavailable")

// Processor is the external frame-processing routine. It receives an NV21 packed
// frame and returns width*height pixels packed as 0xAARRGGBB. enableEffect selects
// the edge-detected output; otherwise the frame is returned converted but untouched.
type Processor interface {
	Process(nv21 []byte, width, height int, enableEffect bool) ([]uint32, error)

	// Name returns a human-readable name for this processor
	Name() string
}

// Backend names accepted by New
const (
	BackendOpenCV      = "opencv"
	BackendPassthrough = "passthrough"
)

// New returns the processor for a configured backend name
func New(backend string) (Processor, error) {
	switch strings.ToLower(backend) {
	case "", BackendOpenCV:
		return LoadNative()
	case BackendPassthrough:
		return Passthrough{}, nil
	default:
		return nil, fmt.Errorf("unknown processing backend %q", backend)
	}
}
