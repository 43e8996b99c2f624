package capture

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bryanchriswhite/EdgeViewer/internal/frame"
	"github.com/bryanchriswhite/EdgeViewer/internal/logger"
)

// Synthetic pattern names
const (
	PatternBars     = "bars"
	PatternGradient = "gradient"
	PatternSolid    = "solid"
)

var errAlreadyStarted = errors.New("source already started")

// SMPTE-ish bars: white, yellow, cyan, green, magenta, red, blue, black
var barColors = [][3]uint8{
	{235, 235, 235},
	{235, 235, 16},
	{16, 235, 235},
	{16, 235, 16},
	{235, 16, 235},
	{235, 16, 16},
	{16, 16, 235},
	{16, 16, 16},
}

// PatternSource generates I420 frames without a camera. Bars scroll one
// column per frame so the viewer shows motion.
type PatternSource struct {
	cfg    Config
	frames chan *frame.RawFrame
	pool   sync.Pool

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
	count   uint64
}

// NewPatternSource creates a synthetic source
func NewPatternSource(cfg Config) *PatternSource {
	cfg = cfg.withDefaults()
	if cfg.Pattern == "" {
		cfg.Pattern = PatternBars
	}
	size := cfg.Width * cfg.Height * 3 / 2
	return &PatternSource{
		cfg:    cfg,
		frames: make(chan *frame.RawFrame),
		pool: sync.Pool{New: func() any {
			b := make([]byte, size)
			return &b
		}},
		done: make(chan struct{}),
	}
}

func (p *PatternSource) Name() string {
	return "pattern:" + p.cfg.Pattern
}

func (p *PatternSource) IsAvailable() bool {
	return true
}

func (p *PatternSource) Frames() <-chan *frame.RawFrame {
	return p.frames
}

func (p *PatternSource) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return errAlreadyStarted
	}
	p.started = true

	ctx, p.cancel = context.WithCancel(ctx)
	go p.run(ctx)

	logger.WithComponent("capture").Info().
		Str("pattern", p.cfg.Pattern).
		Int("width", p.cfg.Width).
		Int("height", p.cfg.Height).
		Int("fps", p.cfg.FPS).
		Msg("Pattern source started")
	return nil
}

func (p *PatternSource) run(ctx context.Context) {
	defer close(p.done)
	defer close(p.frames)

	ticker := time.NewTicker(time.Second / time.Duration(p.cfg.FPS))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		f := p.next()
		select {
		case p.frames <- f:
		case <-ctx.Done():
			f.Close()
			return
		}
	}
}

// next renders the next frame into a pooled buffer
func (p *PatternSource) next() *frame.RawFrame {
	bufp := p.pool.Get().(*[]byte)
	buf := *bufp
	w, h := p.cfg.Width, p.cfg.Height

	p.mu.Lock()
	n := p.count
	p.count++
	p.mu.Unlock()

	FillI420(buf, w, h, p.cfg.Pattern, int(n))

	f, err := frame.FromI420(buf, w, h, func() { p.pool.Put(bufp) })
	if err != nil {
		// dimensions are normalized in withDefaults
		panic(err)
	}
	return f
}

// FillI420 draws pattern into an I420 buffer of w*h*3/2 bytes. offset shifts
// the pattern horizontally.
func FillI420(buf []byte, w, h int, pattern string, offset int) {
	ySize := w * h
	cw, ch := w/2, h/2
	uPlane := buf[ySize : ySize+cw*ch]
	vPlane := buf[ySize+cw*ch : ySize+2*cw*ch]

	colorAt := func(x, y int) (uint8, uint8, uint8) {
		switch pattern {
		case PatternSolid:
			return 16, 128, 235
		case PatternGradient:
			v := uint8((x + offset) % w * 255 / w)
			g := uint8(y * 255 / h)
			return v, g, 255 - v
		default:
			bar := ((x + offset) % w) * len(barColors) / w
			c := barColors[bar]
			return c[0], c[1], c[2]
		}
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b := colorAt(x, y)
			buf[y*w+x], _, _ = rgbToYUV(r, g, b)
		}
	}
	for y := 0; y < ch; y++ {
		for x := 0; x < cw; x++ {
			r, g, b := colorAt(x*2, y*2)
			_, u, v := rgbToYUV(r, g, b)
			uPlane[y*cw+x] = u
			vPlane[y*cw+x] = v
		}
	}
}

// rgbToYUV is the BT.601 limited-range forward transform
func rgbToYUV(r, g, b uint8) (y, u, v uint8) {
	R, G, B := int(r), int(g), int(b)
	Y := (66*R+129*G+25*B+128)>>8 + 16
	U := (-38*R-74*G+112*B+128)>>8 + 128
	V := (112*R-94*G-18*B+128)>>8 + 128
	return clamp8(Y), clamp8(U), clamp8(V)
}

func clamp8(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

func (p *PatternSource) Stop() error {
	p.mu.Lock()
	cancel := p.cancel
	started := p.started
	p.mu.Unlock()

	if !started {
		return nil
	}
	cancel()
	<-p.done
	logger.WithComponent("capture").Info().Msg("Pattern source stopped")
	return nil
}
