//go:build gocv

package processing

import (
	"fmt"

	"gocv.io/x/gocv"

	"github.com/bryanchriswhite/EdgeViewer/internal/frame"
)

const (
	cannyLow  = 50
	cannyHigh = 150
)

// OpenCV runs NV21 -> RGB conversion and optional gray + Canny edge detection
type OpenCV struct{}

// LoadNative returns the OpenCV-backed processor
func LoadNative() (Processor, error) {
	return OpenCV{}, nil
}

// Name returns the processor name
func (OpenCV) Name() string {
	return BackendOpenCV
}

// Process implements Processor
func (OpenCV) Process(nv21 []byte, width, height int, enableEffect bool) ([]uint32, error) {
	if need := frame.PackedSize(width, height); len(nv21) < need {
		return nil, fmt.Errorf("nv21 buffer has %d bytes, need %d", len(nv21), need)
	}

	yuv, err := gocv.NewMatFromBytes(height+height/2, width, gocv.MatTypeCV8UC1, nv21[:frame.PackedSize(width, height)])
	if err != nil {
		return nil, fmt.Errorf("failed to wrap nv21 frame: %w", err)
	}
	defer yuv.Close()

	rgb := gocv.NewMat()
	defer rgb.Close()
	gocv.CvtColor(yuv, &rgb, gocv.ColorYUVToRGBNV21)

	result := rgb
	if enableEffect {
		gray := gocv.NewMat()
		defer gray.Close()
		edges := gocv.NewMat()
		defer edges.Close()
		out := gocv.NewMat()
		defer out.Close()

		gocv.CvtColor(rgb, &gray, gocv.ColorRGBToGray)
		gocv.Canny(gray, &edges, cannyLow, cannyHigh)
		gocv.CvtColor(edges, &out, gocv.ColorGrayToRGB)
		result = out
	}

	if result.Rows() != height || result.Cols() != width {
		return nil, fmt.Errorf("size mismatch: mat %dx%d, expected %dx%d", result.Cols(), result.Rows(), width, height)
	}

	data := result.ToBytes()
	pixels := make([]uint32, width*height)
	for i := range pixels {
		o := i * 3
		if o+2 >= len(data) {
			break
		}
		pixels[i] = frame.PackARGB(0xFF, data[o], data[o+1], data[o+2])
	}
	return pixels, nil
}
