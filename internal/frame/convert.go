package frame

// Convert packs a planar 4:2:0 capture into the processor's NV21 layout:
// the luma plane row-major, then (V,U) byte pairs for every 2x2 luma block.
//
// Each source plane is addressed through its own row and pixel stride, so the
// chroma planes need not be contiguous or share a layout. Samples that fall
// outside a plane's data are left at zero; a short luma plane is zero-padded.
func Convert(raw *RawFrame) (*PackedFrame, error) {
	if err := raw.Validate(); err != nil {
		return nil, err
	}

	w, h := raw.Width, raw.Height
	out := make([]byte, PackedSize(w, h))

	copyLuma(out[:w*h], raw.Y, w, h)

	chromaW, chromaH := w/2, h/2
	uv := out[w*h:]
	vRow, vPix := strides(raw.V, chromaW)
	uRow, uPix := strides(raw.U, chromaW)
	vLen, uLen := len(raw.V.Data), len(raw.U.Data)

	for row := 0; row < chromaH; row++ {
		for col := 0; col < chromaW; col++ {
			o := (row*chromaW + col) * 2
			if vi := row*vRow + col*vPix; vi < vLen {
				uv[o] = raw.V.Data[vi]
			}
			if ui := row*uRow + col*uPix; ui < uLen {
				uv[o+1] = raw.U.Data[ui]
			}
		}
	}

	return &PackedFrame{Data: out, Width: w, Height: h}, nil
}

func copyLuma(dst []byte, y Plane, w, h int) {
	rowStride, pixStride := strides(y, w)

	// Tightly packed planes are a single copy, truncated to what the source holds
	if rowStride == w && pixStride == 1 {
		copy(dst, y.Data)
		return
	}

	n := len(y.Data)
	for row := 0; row < h; row++ {
		base := row * rowStride
		if base >= n {
			return
		}
		line := dst[row*w : (row+1)*w]
		if pixStride == 1 {
			end := base + w
			if end > n {
				end = n
			}
			copy(line, y.Data[base:end])
			continue
		}
		for col := 0; col < w; col++ {
			if i := base + col*pixStride; i < n {
				line[col] = y.Data[i]
			}
		}
	}
}

// strides fills in defaults for a tightly packed plane of the given width
func strides(p Plane, width int) (row, pixel int) {
	row, pixel = p.RowStride, p.PixelStride
	if pixel <= 0 {
		pixel = 1
	}
	if row <= 0 {
		row = width * pixel
	}
	return row, pixel
}
