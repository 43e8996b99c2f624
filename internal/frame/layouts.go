package frame

import "fmt"

// FromI420 exposes a tightly packed I420 buffer (Y, then U, then V) as a RawFrame
// without copying.
func FromI420(buf []byte, width, height int, release func()) (*RawFrame, error) {
	ySize := width * height
	cSize := (width / 2) * (height / 2)
	if len(buf) < ySize+2*cSize {
		return nil, fmt.Errorf("%w: I420 buffer has %d bytes, need %d", ErrInvalidFrame, len(buf), ySize+2*cSize)
	}
	return NewRawFrame(width, height,
		Plane{Data: buf[:ySize], RowStride: width, PixelStride: 1},
		Plane{Data: buf[ySize : ySize+cSize], RowStride: width / 2, PixelStride: 1},
		Plane{Data: buf[ySize+cSize : ySize+2*cSize], RowStride: width / 2, PixelStride: 1},
		release,
	), nil
}

// FromYUYV exposes a packed 4:2:2 YUYV buffer as strided 4:2:0 plane views.
// Chroma is taken from even luma rows only.
func FromYUYV(buf []byte, width, height int, release func()) (*RawFrame, error) {
	lineBytes := width * 2
	if len(buf) < lineBytes*height || len(buf) < 4 {
		return nil, fmt.Errorf("%w: YUYV buffer has %d bytes, need %d", ErrInvalidFrame, len(buf), lineBytes*height)
	}
	return NewRawFrame(width, height,
		Plane{Data: buf, RowStride: lineBytes, PixelStride: 2},
		Plane{Data: buf[1:], RowStride: lineBytes * 2, PixelStride: 4},
		Plane{Data: buf[3:], RowStride: lineBytes * 2, PixelStride: 4},
		release,
	), nil
}
