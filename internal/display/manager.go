// Package display presents rendered frames in a plain X11 window.
package display

import (
	"fmt"
	"image"
	"image/draw"
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	xdraw "golang.org/x/image/draw"

	"github.com/bryanchriswhite/EdgeViewer/internal/config"
	"github.com/bryanchriswhite/EdgeViewer/internal/logger"
)

// putImageHeader is the fixed part of a PutImage request in bytes
const putImageHeader = 24

// Manager owns the viewer window and draws presented frames into it
type Manager struct {
	conn          *xgb.Conn
	screen        *xproto.ScreenInfo
	displayWindow xproto.Window
	gc            xproto.Gcontext
	title         string
	width         int
	height        int
	running       bool
	mu            sync.RWMutex

	format  pixmapFormat
	canvas  *image.RGBA
	scratch []byte
}

type pixmapFormat struct {
	depth        uint8
	bitsPerPixel uint8
	scanlinePad  uint8
	maxRequest   int // bytes
}

// NewManager connects to the X server named by $DISPLAY
func NewManager(cfg config.X11Config) (*Manager, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}

	setup := xproto.Setup(conn)
	screen := setup.DefaultScreen(conn)

	width, height := cfg.Width, cfg.Height
	if width <= 0 || height <= 0 {
		width, height = 640, 480
	}
	title := cfg.Title
	if title == "" {
		title = "EdgeViewer"
	}

	format, err := findFormat(setup, screen.RootDepth)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &Manager{
		conn:   conn,
		screen: screen,
		title:  title,
		width:  width,
		height: height,
		format: format,
		canvas: image.NewRGBA(image.Rect(0, 0, width, height)),
	}, nil
}

func findFormat(setup *xproto.SetupInfo, depth byte) (pixmapFormat, error) {
	for _, f := range setup.PixmapFormats {
		if f.Depth == depth {
			return pixmapFormat{
				depth:        depth,
				bitsPerPixel: f.BitsPerPixel,
				scanlinePad:  f.ScanlinePad,
				maxRequest:   int(setup.MaximumRequestLength) * 4,
			}, nil
		}
	}
	return pixmapFormat{}, fmt.Errorf("no format found for depth %d", depth)
}

// Name implements render.Surface
func (m *Manager) Name() string {
	return "x11"
}

// Start creates and maps the viewer window
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("display already running")
	}

	windowID, err := xproto.NewWindowId(m.conn)
	if err != nil {
		return fmt.Errorf("failed to create window ID: %w", err)
	}
	m.displayWindow = windowID

	mask := uint32(xproto.CwBackPixel | xproto.CwEventMask)
	values := []uint32{
		0x000000, // black background
		xproto.EventMaskExposure | xproto.EventMaskStructureNotify,
	}

	err = xproto.CreateWindowChecked(
		m.conn,
		m.screen.RootDepth,
		m.displayWindow,
		m.screen.Root,
		0, 0,
		uint16(m.width), uint16(m.height),
		0,
		xproto.WindowClassInputOutput,
		m.screen.RootVisual,
		mask,
		values,
	).Check()
	if err != nil {
		return fmt.Errorf("failed to create window: %w", err)
	}

	if err := m.setWindowTitle(m.title); err != nil {
		logger.WithComponent("display").Warn().Err(err).Msg("Failed to set window title")
	}
	if err := m.setWindowClass("edgeviewer", "EdgeViewer"); err != nil {
		logger.WithComponent("display").Warn().Err(err).Msg("Failed to set window class")
	}

	if err := xproto.MapWindowChecked(m.conn, m.displayWindow).Check(); err != nil {
		return fmt.Errorf("failed to map window: %w", err)
	}

	gc, err := xproto.NewGcontextId(m.conn)
	if err != nil {
		return fmt.Errorf("failed to create graphics context: %w", err)
	}
	m.gc = gc
	err = xproto.CreateGCChecked(
		m.conn,
		m.gc,
		xproto.Drawable(m.displayWindow),
		xproto.GcForeground|xproto.GcBackground,
		[]uint32{0xffffffff, 0x00000000},
	).Check()
	if err != nil {
		return fmt.Errorf("failed to create GC: %w", err)
	}
	m.conn.Sync()

	m.running = true
	logger.WithComponent("display").Info().
		Int("width", m.width).
		Int("height", m.height).
		Uint32("window_id", uint32(m.displayWindow)).
		Msg("Viewer window created")
	return nil
}

// Stop destroys the window and closes the connection
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}
	if m.gc != 0 {
		xproto.FreeGC(m.conn, m.gc)
	}
	if m.displayWindow != 0 {
		xproto.DestroyWindow(m.conn, m.displayWindow)
		m.conn.Sync()
	}
	m.conn.Close()

	m.running = false
	logger.WithComponent("display").Info().Msg("Viewer window closed")
	return nil
}

// IsRunning returns whether the window is mapped
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// Present scales img into the window, letterboxed to keep its aspect ratio.
// It implements render.Surface.
func (m *Manager) Present(img *image.RGBA) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return fmt.Errorf("display not running")
	}

	Letterbox(m.canvas, img)

	data, stride, err := packZPixmap(m.canvas, m.format, m.scratch)
	if err != nil {
		return err
	}
	m.scratch = data

	for _, band := range bands(m.height, stride, m.format.maxRequest) {
		err := xproto.PutImageChecked(
			m.conn,
			xproto.ImageFormatZPixmap,
			xproto.Drawable(m.displayWindow),
			m.gc,
			uint16(m.width),
			uint16(band.rows),
			0, int16(band.y),
			0,
			m.format.depth,
			data[band.y*stride:(band.y+band.rows)*stride],
		).Check()
		if err != nil {
			return fmt.Errorf("failed to put image: %w", err)
		}
	}
	return nil
}

// Letterbox fills dst with black and draws src scaled to fit, centered
func Letterbox(dst, src *image.RGBA) {
	draw.Draw(dst, dst.Bounds(), image.Black, image.Point{}, draw.Src)
	r := FitRect(src.Bounds().Dx(), src.Bounds().Dy(), dst.Bounds().Dx(), dst.Bounds().Dy())
	if r.Empty() {
		return
	}
	xdraw.ApproxBiLinear.Scale(dst, r.Add(dst.Bounds().Min), src, src.Bounds(), xdraw.Src, nil)
}

// FitRect returns the largest srcW:srcH rectangle centered in dstW x dstH
func FitRect(srcW, srcH, dstW, dstH int) image.Rectangle {
	if srcW <= 0 || srcH <= 0 || dstW <= 0 || dstH <= 0 {
		return image.Rectangle{}
	}
	scaleX := float64(dstW) / float64(srcW)
	scaleY := float64(dstH) / float64(srcH)
	scale := scaleX
	if scaleY < scaleX {
		scale = scaleY
	}

	w := int(float64(srcW) * scale)
	h := int(float64(srcH) * scale)
	x := (dstW - w) / 2
	y := (dstH - h) / 2
	return image.Rect(x, y, x+w, y+h)
}

// packZPixmap converts RGBA into the server's ZPixmap layout: BGRx for
// 32bpp, BGR for 24bpp, rows padded to the scanline pad.
func packZPixmap(img *image.RGBA, f pixmapFormat, buf []byte) ([]byte, int, error) {
	bytesPerPixel := int(f.bitsPerPixel) / 8
	if bytesPerPixel != 3 && bytesPerPixel != 4 {
		return nil, 0, fmt.Errorf("unsupported bytes per pixel: %d", bytesPerPixel)
	}
	w, h := img.Bounds().Dx(), img.Bounds().Dy()

	padBytes := int(f.scanlinePad) / 8
	if padBytes == 0 {
		padBytes = 1
	}
	unpadded := w * bytesPerPixel
	stride := ((unpadded + padBytes - 1) / padBytes) * padBytes

	if cap(buf) < stride*h {
		buf = make([]byte, stride*h)
	}
	buf = buf[:stride*h]

	for y := 0; y < h; y++ {
		src := img.Pix[y*img.Stride : y*img.Stride+w*4]
		dst := buf[y*stride : (y+1)*stride]
		for x := 0; x < w; x++ {
			s := src[x*4 : x*4+4]
			d := dst[x*bytesPerPixel:]
			d[0] = s[2]
			d[1] = s[1]
			d[2] = s[0]
			if bytesPerPixel == 4 {
				if f.depth == 32 {
					d[3] = s[3]
				} else {
					d[3] = 0
				}
			}
		}
		for i := unpadded; i < stride; i++ {
			dst[i] = 0
		}
	}
	return buf, stride, nil
}

type band struct {
	y, rows int
}

// bands splits height rows into PutImage requests under maxRequest bytes
func bands(height, stride, maxRequest int) []band {
	rows := height
	if maxRequest > putImageHeader && stride > 0 {
		if fit := (maxRequest - putImageHeader) / stride; fit < rows {
			rows = fit
		}
	}
	if rows < 1 {
		rows = 1
	}

	var out []band
	for y := 0; y < height; y += rows {
		n := rows
		if y+n > height {
			n = height - y
		}
		out = append(out, band{y: y, rows: n})
	}
	return out
}

func (m *Manager) setWindowTitle(title string) error {
	titleAtom, err := m.getAtom("_NET_WM_NAME")
	if err != nil {
		return err
	}
	utf8Atom, err := m.getAtom("UTF8_STRING")
	if err != nil {
		return err
	}

	return xproto.ChangePropertyChecked(
		m.conn,
		xproto.PropModeReplace,
		m.displayWindow,
		titleAtom,
		utf8Atom,
		8,
		uint32(len(title)),
		[]byte(title),
	).Check()
}

// WM_CLASS is instance\0class\0
func (m *Manager) setWindowClass(instance, class string) error {
	classAtom, err := m.getAtom("WM_CLASS")
	if err != nil {
		return err
	}
	classStr := instance + "\x00" + class + "\x00"

	return xproto.ChangePropertyChecked(
		m.conn,
		xproto.PropModeReplace,
		m.displayWindow,
		classAtom,
		xproto.AtomString,
		8,
		uint32(len(classStr)),
		[]byte(classStr),
	).Check()
}

func (m *Manager) getAtom(name string) (xproto.Atom, error) {
	reply, err := xproto.InternAtom(m.conn, false, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, err
	}
	return reply.Atom, nil
}
