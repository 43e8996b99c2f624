package frame

import (
	"errors"
	"fmt"
	"image"
	"time"
)

var (
	// ErrInvalidFrame is returned for frames with non-positive dimensions or missing planes
	ErrInvalidFrame = errors.New("invalid frame")

	// ErrOddDimensions is returned when width or height cannot be chroma-subsampled by 2
	ErrOddDimensions = errors.New("frame dimensions must be even")
)

// Plane is one plane of a planar capture. Data may be a view into a larger
// buffer; RowStride and PixelStride describe how samples are laid out in it.
type Plane struct {
	Data        []byte
	RowStride   int
	PixelStride int
}

// RawFrame is a planar chroma-subsampled capture (luma plus two half-resolution
// chroma planes). It is only valid for the duration of one capture callback.
type RawFrame struct {
	Width     int
	Height    int
	Y         Plane
	U         Plane // primary chroma channel (Cb)
	V         Plane // secondary chroma channel (Cr)
	Timestamp time.Time

	release func()
}

// NewRawFrame wraps three planes. release, if non-nil, is invoked exactly once by Close.
func NewRawFrame(width, height int, y, u, v Plane, release func()) *RawFrame {
	return &RawFrame{
		Width:     width,
		Height:    height,
		Y:         y,
		U:         u,
		V:         v,
		Timestamp: time.Now(),
		release:   release,
	}
}

// Close acknowledges the frame back to its source. Safe to call more than once.
func (f *RawFrame) Close() {
	if f == nil || f.release == nil {
		return
	}
	r := f.release
	f.release = nil
	r()
}

// Validate checks the dimension constraints the converter relies on
func (f *RawFrame) Validate() error {
	if f == nil || f.Width <= 0 || f.Height <= 0 {
		return ErrInvalidFrame
	}
	if f.Width%2 != 0 || f.Height%2 != 0 {
		return fmt.Errorf("%w: %dx%d", ErrOddDimensions, f.Width, f.Height)
	}
	return nil
}

// PackedFrame is a luma plane followed by an interleaved (V,U) chroma plane at
// half resolution. It must not be mutated once handed to the processor.
type PackedFrame struct {
	Data   []byte
	Width  int
	Height int
}

// PackedSize returns the byte length of a packed frame of the given dimensions
func PackedSize(width, height int) int {
	return width*height + width*height/2
}

// PixelBuffer holds one 0xAARRGGBB value per pixel, row-major.
// A published buffer is never edited in place.
type PixelBuffer struct {
	Pixels []uint32
	Width  int
	Height int
}

// NewPixelBuffer allocates a zeroed buffer of width*height pixels
func NewPixelBuffer(width, height int) *PixelBuffer {
	return &PixelBuffer{
		Pixels: make([]uint32, width*height),
		Width:  width,
		Height: height,
	}
}

// Valid reports whether len(Pixels) == Width*Height
func (b *PixelBuffer) Valid() bool {
	return b != nil && b.Width > 0 && b.Height > 0 && len(b.Pixels) == b.Width*b.Height
}

// Clone returns an independent copy of the buffer
func (b *PixelBuffer) Clone() *PixelBuffer {
	if b == nil {
		return nil
	}
	pixels := make([]uint32, len(b.Pixels))
	copy(pixels, b.Pixels)
	return &PixelBuffer{Pixels: pixels, Width: b.Width, Height: b.Height}
}

// PackARGB packs 8-bit channels into one pixel
func PackARGB(a, r, g, b uint8) uint32 {
	return uint32(a)<<24 | uint32(r)<<16 | uint32(g)<<8 | uint32(b)
}

// UnpackARGB splits a pixel into its channels
func UnpackARGB(p uint32) (a, r, g, b uint8) {
	return uint8(p >> 24), uint8(p >> 16), uint8(p >> 8), uint8(p)
}

// ToRGBA converts the buffer to an image.RGBA (non-premultiplied channel order R,G,B,A)
func (b *PixelBuffer) ToRGBA() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, b.Width, b.Height))
	n := b.Width * b.Height
	if len(b.Pixels) < n {
		n = len(b.Pixels)
	}
	for i := 0; i < n; i++ {
		a, r, g, bl := UnpackARGB(b.Pixels[i])
		o := i * 4
		img.Pix[o] = r
		img.Pix[o+1] = g
		img.Pix[o+2] = bl
		img.Pix[o+3] = a
	}
	return img
}
