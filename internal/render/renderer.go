// Package render owns the GPU side of the viewer: the effect shader program,
// the frame texture, and the draw tick that drains the mailbox into it.
package render

import (
	"errors"
	"fmt"
	"image/color"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/EdgeViewer/internal/frame"
	"github.com/bryanchriswhite/EdgeViewer/internal/gpu"
	"github.com/bryanchriswhite/EdgeViewer/internal/logger"
	"github.com/bryanchriswhite/EdgeViewer/internal/mailbox"
)

// ErrReleased is returned by draw calls after the surface resources are gone
var ErrReleased = errors.New("renderer released")

const (
	PlaceholderWidth  = 640
	PlaceholderHeight = 480
)

// Full-screen quad as a triangle strip, with texture coordinates flipped so
// row 0 of the frame is at the top.
var (
	quadVertices = []float32{
		-1.0, -1.0, 0.0,
		1.0, -1.0, 0.0,
		-1.0, 1.0, 0.0,
		1.0, 1.0, 0.0,
	}
	quadTexCoords = []float32{
		0.0, 1.0,
		1.0, 1.0,
		0.0, 0.0,
		1.0, 0.0,
	}
)

// Stats reports draw tick activity
type Stats struct {
	Ticks   uint64 `json:"ticks"`
	Draws   uint64 `json:"draws"`
	Skipped uint64 `json:"skipped"`
	Uploads uint64 `json:"uploads"`
}

// surfaceResources is everything allocated on the device for one surface
type surfaceResources struct {
	dev     gpu.Device
	program gpu.Program // nil when compile/link failed
	texture gpu.Texture
}

func (s *surfaceResources) Close() {
	if s.program != nil {
		s.dev.DeleteProgram(s.program)
		s.program = nil
	}
	if s.texture != nil {
		s.dev.DeleteTexture(s.texture)
		s.texture = nil
	}
}

// Renderer uploads the latest frame from the mailbox and draws it through the
// effect shader. All methods except the effect setters must be called from the
// render goroutine.
type Renderer struct {
	mailbox *mailbox.Mailbox
	effect  atomic.Int32

	mu       sync.Mutex
	res      *surfaceResources
	released bool
	scratch  []byte
	width    int
	height   int

	// shader sources, replaceable in tests
	vertexSrc   string
	fragmentSrc string

	ticks   atomic.Uint64
	draws   atomic.Uint64
	skipped atomic.Uint64
	uploads atomic.Uint64

	hookMu   sync.Mutex
	onEffect func(EffectMode)

	tickLog *zerolog.Logger
}

// New creates a renderer reading from mb
func New(mb *mailbox.Mailbox) *Renderer {
	return &Renderer{
		mailbox:     mb,
		vertexSrc:   vertexShader,
		fragmentSrc: fragmentShader,
		tickLog:     logger.Sampled("renderer", 30),
	}
}

// OnEffectChange registers fn to be called after every effect change (the
// driver uses it to request a redraw).
func (r *Renderer) OnEffectChange(fn func(EffectMode)) {
	r.hookMu.Lock()
	r.onEffect = fn
	r.hookMu.Unlock()
}

// Effect returns the current mode
func (r *Renderer) Effect() EffectMode {
	return EffectMode(r.effect.Load())
}

// SetEffect selects a mode; invalid values are ignored
func (r *Renderer) SetEffect(m EffectMode) bool {
	if !m.Valid() {
		return false
	}
	r.effect.Store(int32(m))
	r.effectChanged(m)
	return true
}

// CycleEffect advances Normal -> Grayscale -> Invert -> Normal and returns the new mode
func (r *Renderer) CycleEffect() EffectMode {
	for {
		cur := r.effect.Load()
		next := EffectMode(cur).Next()
		if r.effect.CompareAndSwap(cur, int32(next)) {
			r.effectChanged(next)
			return next
		}
	}
}

func (r *Renderer) effectChanged(m EffectMode) {
	r.hookMu.Lock()
	fn := r.onEffect
	r.hookMu.Unlock()

	logger.WithComponent("renderer").Info().Str("effect", m.String()).Msg("Effect mode changed")
	if fn != nil {
		fn(m)
	}
}

// SurfaceCreated compiles the effect program and creates the frame texture,
// initialized with an opaque black placeholder. A shader failure is logged and
// leaves the renderer drawing nothing; it is not returned as an error.
func (r *Renderer) SurfaceCreated(dev gpu.Device) error {
	log := logger.WithComponent("renderer")

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.res != nil {
		r.res.Close()
		r.res = nil
	}
	r.released = false

	dev.ClearColor(color.RGBA{A: 255})

	res := &surfaceResources{dev: dev}
	program, err := dev.CreateProgram(r.vertexSrc, r.fragmentSrc, effectFragment)
	if err != nil {
		log.Error().Err(err).Msg("Shader program failed, drawing disabled")
	} else {
		res.program = program
	}

	texture, err := dev.CreateTexture()
	if err != nil {
		res.Close()
		return fmt.Errorf("failed to create texture: %w", err)
	}
	texture.SetFilter(gpu.FilterLinear, gpu.FilterLinear)
	res.texture = texture

	if err := r.uploadLocked(texture, frame.NewPixelBuffer(PlaceholderWidth, PlaceholderHeight), true); err != nil {
		res.Close()
		return fmt.Errorf("failed to upload placeholder: %w", err)
	}
	r.width, r.height = 0, 0
	r.res = res

	log.Info().
		Bool("program", res.program != nil).
		Int("placeholder_width", PlaceholderWidth).
		Int("placeholder_height", PlaceholderHeight).
		Msg("Surface created")
	return nil
}

// SurfaceChanged resizes the viewport
func (r *Renderer) SurfaceChanged(width, height int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.res == nil || r.released {
		return
	}
	r.res.dev.Viewport(width, height)
	logger.WithComponent("renderer").Debug().Int("width", width).Int("height", height).Msg("Surface changed")
}

// DrawFrame is one draw tick: upload the pending frame if there is one, then
// draw the quad. Per-tick failures are logged and skip the tick; only a
// released renderer returns an error.
func (r *Renderer) DrawFrame() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.released || r.res == nil {
		return ErrReleased
	}
	tick := r.ticks.Add(1)
	res := r.res

	res.dev.Clear()

	if buf, ok := r.mailbox.Drain(); ok {
		if err := r.uploadLocked(res.texture, buf, false); err != nil {
			r.tickLog.Warn().Err(err).Uint64("tick", tick).Msg("Texture upload failed")
		} else {
			r.width, r.height = buf.Width, buf.Height
		}
	} else {
		r.tickLog.Debug().Uint64("tick", tick).Msg("No new frame")
	}

	if res.program == nil {
		r.skipped.Add(1)
		r.tickLog.Error().Uint64("tick", tick).Msg("No shader program")
		return nil
	}

	posLoc := res.program.AttribLocation("vPosition")
	if posLoc < 0 {
		r.skipped.Add(1)
		r.tickLog.Error().Msg("vPosition attribute not found")
		return nil
	}
	texLoc := res.program.AttribLocation("vTexCoord")
	if texLoc < 0 {
		r.skipped.Add(1)
		r.tickLog.Error().Msg("vTexCoord attribute not found")
		return nil
	}

	uniforms := make(map[int]int32, 2)
	if loc := res.program.UniformLocation("texture"); loc >= 0 {
		uniforms[loc] = 0
	} else {
		r.tickLog.Warn().Msg("texture uniform not found")
	}
	if loc := res.program.UniformLocation("effectMode"); loc >= 0 {
		uniforms[loc] = r.effect.Load()
	}

	err := res.dev.Draw(gpu.DrawCall{
		Program: res.program,
		Texture: res.texture,
		Attribs: []gpu.VertexAttrib{
			{Location: posLoc, Size: 3, Data: quadVertices},
			{Location: texLoc, Size: 2, Data: quadTexCoords},
		},
		Uniforms: uniforms,
		Count:    4,
	})
	if err != nil {
		r.skipped.Add(1)
		r.tickLog.Error().Err(err).Uint64("tick", tick).Msg("Draw failed")
		return nil
	}
	r.draws.Add(1)
	return nil
}

// uploadLocked converts ARGB pixels to RGBA bytes and replaces the full texture
func (r *Renderer) uploadLocked(tex gpu.Texture, buf *frame.PixelBuffer, placeholder bool) error {
	if !buf.Valid() {
		return fmt.Errorf("%w: %d pixels for %dx%d", frame.ErrInvalidFrame, len(buf.Pixels), buf.Width, buf.Height)
	}

	n := len(buf.Pixels) * 4
	if cap(r.scratch) < n {
		r.scratch = make([]byte, n)
	}
	rgba := r.scratch[:n]
	for i, p := range buf.Pixels {
		a, red, g, b := frame.UnpackARGB(p)
		if placeholder {
			a = 0xFF
		}
		rgba[i*4] = red
		rgba[i*4+1] = g
		rgba[i*4+2] = b
		rgba[i*4+3] = a
	}

	if tw, th := tex.Size(); tw != buf.Width || th != buf.Height {
		logger.WithComponent("renderer").Debug().
			Int("width", buf.Width).
			Int("height", buf.Height).
			Msg("Resizing texture")
	}
	if err := tex.Upload(buf.Width, buf.Height, rgba); err != nil {
		return err
	}
	if !placeholder {
		r.uploads.Add(1)
	}
	return nil
}

// FrameSize returns the dimensions of the last uploaded frame, 0x0 while the
// placeholder is shown.
func (r *Renderer) FrameSize() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.width, r.height
}

// HasFrame reports whether a real frame has replaced the placeholder
func (r *Renderer) HasFrame() bool {
	w, _ := r.FrameSize()
	return w > 0
}

// Stats returns tick counters
func (r *Renderer) Stats() Stats {
	return Stats{
		Ticks:   r.ticks.Load(),
		Draws:   r.draws.Load(),
		Skipped: r.skipped.Load(),
		Uploads: r.uploads.Load(),
	}
}

// Release frees the surface resources. Later draw ticks return ErrReleased;
// frames still in flight are left in the mailbox and discarded.
func (r *Renderer) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return
	}
	r.released = true
	if r.res != nil {
		r.res.Close()
		r.res = nil
	}
	r.scratch = nil
	logger.WithComponent("renderer").Info().Msg("Surface resources released")
}
