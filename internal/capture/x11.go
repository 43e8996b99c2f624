package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"

	"github.com/bryanchriswhite/EdgeViewer/internal/frame"
	"github.com/bryanchriswhite/EdgeViewer/internal/logger"
)

// X11Source grabs the top-left region of the X11 root window and delivers it
// as I420 frames. Useful as a camera stand-in on a desktop without a webcam.
type X11Source struct {
	cfg    Config
	frames chan *frame.RawFrame
	pool   sync.Pool

	mu      sync.Mutex
	conn    *xgb.Conn
	root    xproto.Window
	width   int
	height  int
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewX11Source creates a screen-grab source; nothing is opened until Start
func NewX11Source(cfg Config) *X11Source {
	return &X11Source{
		cfg:    cfg.withDefaults(),
		frames: make(chan *frame.RawFrame),
		done:   make(chan struct{}),
	}
}

func (s *X11Source) Name() string {
	return "x11"
}

// IsAvailable checks for a reachable X server
func (s *X11Source) IsAvailable() bool {
	conn, err := xgb.NewConn()
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func (s *X11Source) Frames() <-chan *frame.RawFrame {
	return s.frames
}

func (s *X11Source) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errAlreadyStarted
	}

	conn, err := xgb.NewConn()
	if err != nil {
		return fmt.Errorf("failed to connect to X server: %w", err)
	}
	screen := xproto.Setup(conn).DefaultScreen(conn)
	if screen.RootDepth != 24 && screen.RootDepth != 32 {
		conn.Close()
		return fmt.Errorf("unsupported root depth %d", screen.RootDepth)
	}

	// clip to the screen, keeping 4:2:0 dimensions even
	w := min(s.cfg.Width, int(screen.WidthInPixels)) &^ 1
	h := min(s.cfg.Height, int(screen.HeightInPixels)) &^ 1
	if w == 0 || h == 0 {
		conn.Close()
		return fmt.Errorf("screen %dx%d too small", screen.WidthInPixels, screen.HeightInPixels)
	}

	s.conn = conn
	s.root = screen.Root
	s.width, s.height = w, h
	size := w * h * 3 / 2
	s.pool.New = func() any {
		b := make([]byte, size)
		return &b
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	go s.run(ctx)

	logger.WithComponent("capture").Info().
		Int("width", w).
		Int("height", h).
		Int("fps", s.cfg.FPS).
		Msg("X11 screen source started")
	return nil
}

func (s *X11Source) run(ctx context.Context) {
	defer close(s.done)
	defer close(s.frames)
	log := logger.Sampled("capture", 30)

	ticker := time.NewTicker(time.Second / time.Duration(s.cfg.FPS))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		f, err := s.grab()
		if err != nil {
			log.Warn().Err(err).Msg("Screen grab failed")
			continue
		}
		select {
		case s.frames <- f:
		case <-ctx.Done():
			f.Close()
			return
		}
	}
}

func (s *X11Source) grab() (*frame.RawFrame, error) {
	reply, err := xproto.GetImage(
		s.conn,
		xproto.ImageFormatZPixmap,
		xproto.Drawable(s.root),
		0, 0,
		uint16(s.width), uint16(s.height),
		0xffffffff,
	).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get image: %w", err)
	}

	bufp := s.pool.Get().(*[]byte)
	if err := BGRxToI420(reply.Data, s.width, s.height, *bufp); err != nil {
		s.pool.Put(bufp)
		return nil, err
	}
	return frame.FromI420(*bufp, s.width, s.height, func() { s.pool.Put(bufp) })
}

// BGRxToI420 converts a 32bpp ZPixmap (B, G, R, pad per pixel) into an I420
// buffer of w*h*3/2 bytes. Chroma takes the top-left pixel of each 2x2 block.
func BGRxToI420(data []byte, w, h int, buf []byte) error {
	if len(data) < w*h*4 {
		return fmt.Errorf("%w: image has %d bytes, need %d", frame.ErrInvalidFrame, len(data), w*h*4)
	}
	cw, ch := w/2, h/2
	ySize := w * h
	if len(buf) < ySize+2*cw*ch {
		return fmt.Errorf("%w: I420 buffer has %d bytes, need %d", frame.ErrInvalidFrame, len(buf), ySize+2*cw*ch)
	}
	uPlane := buf[ySize : ySize+cw*ch]
	vPlane := buf[ySize+cw*ch : ySize+2*cw*ch]

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := (y*w + x) * 4
			yy, u, v := rgbToYUV(data[i+2], data[i+1], data[i])
			buf[y*w+x] = yy
			if x%2 == 0 && y%2 == 0 {
				uPlane[(y/2)*cw+x/2] = u
				vPlane[(y/2)*cw+x/2] = v
			}
		}
	}
	return nil
}

func (s *X11Source) Stop() error {
	s.mu.Lock()
	cancel := s.cancel
	started := s.started
	s.mu.Unlock()

	if !started {
		return nil
	}
	cancel()
	<-s.done
	s.conn.Close()
	logger.WithComponent("capture").Info().Msg("X11 screen source stopped")
	return nil
}
