package processing

import (
	"fmt"

	"github.com/bryanchriswhite/EdgeViewer/internal/frame"
)

// Passthrough converts NV21 to ARGB in pure Go and ignores the effect flag.
// It keeps the viewer usable on builds without the native routine.
type Passthrough struct{}

// Name returns the processor name
func (Passthrough) Name() string {
	return BackendPassthrough
}

// Process converts an NV21 frame using BT.601 integer coefficients
func (Passthrough) Process(nv21 []byte, width, height int, _ bool) ([]uint32, error) {
	if need := frame.PackedSize(width, height); len(nv21) < need {
		return nil, fmt.Errorf("nv21 buffer has %d bytes, need %d", len(nv21), need)
	}

	out := make([]uint32, width*height)
	uv := nv21[width*height:]
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			c := int(nv21[y*width+x]) - 16
			o := (y/2)*width + (x/2)*2
			v := int(uv[o]) - 128
			u := int(uv[o+1]) - 128

			if c < 0 {
				c = 0
			}
			r := (298*c + 409*v + 128) >> 8
			g := (298*c - 100*u - 208*v + 128) >> 8
			b := (298*c + 516*u + 128) >> 8
			out[y*width+x] = frame.PackARGB(0xFF, clamp(r), clamp(g), clamp(b))
		}
	}
	return out, nil
}

func clamp(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
