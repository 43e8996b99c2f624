package frame

import (
	"errors"
	"testing"
)

func i420(w, h int, y, u, v byte) []byte {
	buf := make([]byte, w*h+w*h/2)
	for i := 0; i < w*h; i++ {
		buf[i] = y
	}
	c := w * h / 4
	for i := 0; i < c; i++ {
		buf[w*h+i] = u
		buf[w*h+c+i] = v
	}
	return buf
}

func TestConvertOutputLength(t *testing.T) {
	sizes := [][2]int{{2, 2}, {4, 2}, {640, 480}, {1280, 720}, {6, 10}}
	for _, s := range sizes {
		raw, err := FromI420(i420(s[0], s[1], 1, 2, 3), s[0], s[1], nil)
		if err != nil {
			t.Fatalf("FromI420(%dx%d): %v", s[0], s[1], err)
		}
		packed, err := Convert(raw)
		if err != nil {
			t.Fatalf("Convert(%dx%d): %v", s[0], s[1], err)
		}
		want := s[0]*s[1] + s[0]*s[1]/2
		if len(packed.Data) != want {
			t.Errorf("%dx%d: expected %d bytes, got %d", s[0], s[1], want, len(packed.Data))
		}
	}
}

func TestConvertInterleavesVThenU(t *testing.T) {
	raw, _ := FromI420(i420(4, 4, 9, 0x10, 0x20), 4, 4, nil)
	packed, err := Convert(raw)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 16; i++ {
		if packed.Data[i] != 9 {
			t.Fatalf("luma[%d] = %d, expected 9", i, packed.Data[i])
		}
	}
	uv := packed.Data[16:]
	for i := 0; i < len(uv); i += 2 {
		if uv[i] != 0x20 || uv[i+1] != 0x10 {
			t.Fatalf("chroma pair %d = (%#x,%#x), expected (0x20,0x10)", i/2, uv[i], uv[i+1])
		}
	}
}

func TestConvertHonorsIndependentStrides(t *testing.T) {
	// 4x2 frame, chroma 2x1. U is padded rows with pixel stride 2, V is tight.
	y := Plane{Data: []byte{1, 2, 3, 4, 0xEE, 0xEE, 5, 6, 7, 8, 0xEE, 0xEE}, RowStride: 6, PixelStride: 1}
	u := Plane{Data: []byte{0xA0, 0xFF, 0xA1}, RowStride: 8, PixelStride: 2}
	v := Plane{Data: []byte{0xB0, 0xB1}, RowStride: 2, PixelStride: 1}
	raw := NewRawFrame(4, 2, y, u, v, nil)

	packed, err := Convert(raw)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{1, 2, 3, 4, 5, 6, 7, 8, 0xB0, 0xA0, 0xB1, 0xA1}
	if string(packed.Data) != string(want) {
		t.Errorf("expected %v, got %v", want, packed.Data)
	}
}

func TestConvertSkipsOutOfRangeChroma(t *testing.T) {
	y := Plane{Data: make([]byte, 16), RowStride: 4, PixelStride: 1}
	u := Plane{Data: []byte{7}, RowStride: 2, PixelStride: 1} // only first sample present
	v := Plane{Data: []byte{8, 8, 8}, RowStride: 2, PixelStride: 1}
	raw := NewRawFrame(4, 4, y, u, v, nil)

	packed, err := Convert(raw)
	if err != nil {
		t.Fatalf("Convert should not fail on short chroma planes: %v", err)
	}
	uv := packed.Data[16:]
	want := []byte{8, 7, 8, 0, 8, 0, 0, 0}
	if string(uv) != string(want) {
		t.Errorf("expected chroma %v, got %v", want, uv)
	}
}

func TestConvertPadsShortLuma(t *testing.T) {
	y := Plane{Data: []byte{1, 2, 3}, RowStride: 2, PixelStride: 1}
	raw := NewRawFrame(2, 2, y, Plane{Data: []byte{5}}, Plane{Data: []byte{6}}, nil)

	packed, err := Convert(raw)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{1, 2, 3, 0, 6, 5}
	if string(packed.Data) != string(want) {
		t.Errorf("expected %v, got %v", want, packed.Data)
	}
}

func TestConvertRejectsOddDimensions(t *testing.T) {
	raw := NewRawFrame(3, 2, Plane{Data: make([]byte, 6)}, Plane{}, Plane{}, nil)
	if _, err := Convert(raw); !errors.Is(err, ErrOddDimensions) {
		t.Errorf("expected ErrOddDimensions, got %v", err)
	}
	if _, err := Convert(nil); !errors.Is(err, ErrInvalidFrame) {
		t.Errorf("expected ErrInvalidFrame for nil frame, got %v", err)
	}
}

func TestFromYUYV(t *testing.T) {
	// 2x2 YUYV: row0 = Y0 U Y1 V, row1 = Y2 u Y3 v
	buf := []byte{10, 100, 11, 200, 12, 101, 13, 201}
	raw, err := FromYUYV(buf, 2, 2, nil)
	if err != nil {
		t.Fatal(err)
	}
	packed, err := Convert(raw)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{10, 11, 12, 13, 200, 100}
	if string(packed.Data) != string(want) {
		t.Errorf("expected %v, got %v", want, packed.Data)
	}
}

func TestRawFrameCloseReleasesOnce(t *testing.T) {
	calls := 0
	raw := NewRawFrame(2, 2, Plane{}, Plane{}, Plane{}, func() { calls++ })
	raw.Close()
	raw.Close()
	if calls != 1 {
		t.Errorf("expected release once, got %d", calls)
	}
}

func TestPixelBufferRoundTrip(t *testing.T) {
	b := NewPixelBuffer(2, 1)
	b.Pixels[0] = PackARGB(255, 10, 20, 30)
	b.Pixels[1] = PackARGB(128, 1, 2, 3)

	img := b.ToRGBA()
	if img.Pix[0] != 10 || img.Pix[1] != 20 || img.Pix[2] != 30 || img.Pix[3] != 255 {
		t.Errorf("unexpected first pixel %v", img.Pix[:4])
	}

	c := b.Clone()
	c.Pixels[0] = 0
	if b.Pixels[0] == 0 {
		t.Error("Clone should not alias the original pixels")
	}
	if !b.Valid() {
		t.Error("buffer should be valid")
	}
}
