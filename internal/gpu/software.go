package gpu

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"sync"
)

// Software is a CPU implementation of Device. The vertex stage supports the
// pass-through form `gl_Position = attr; varying = attr;`; the fragment stage is
// the Go FragmentFunc bound at program creation, fed with the texel sampled at
// the interpolated coordinate (nearest-neighbour, clamp to edge).
type Software struct {
	mu         sync.Mutex
	nextID     uint32
	programs   map[uint32]*swProgram
	textures   map[uint32]*swTexture
	clearColor color.RGBA
	fb         *image.RGBA
	released   bool
}

// NewSoftware creates a software context with an empty framebuffer
func NewSoftware() *Software {
	return &Software{
		programs: make(map[uint32]*swProgram),
		textures: make(map[uint32]*swTexture),
		fb:       image.NewRGBA(image.Rect(0, 0, 0, 0)),
	}
}

type swProgram struct {
	id       uint32
	attribs  map[string]int
	uniforms map[string]int
	names    map[int]string
	position string
	texCoord string
	fragment FragmentFunc
	deleted  bool
}

func (p *swProgram) ID() uint32 { return p.id }

func (p *swProgram) AttribLocation(name string) int {
	if loc, ok := p.attribs[name]; ok {
		return loc
	}
	return -1
}

func (p *swProgram) UniformLocation(name string) int {
	if loc, ok := p.uniforms[name]; ok {
		return loc
	}
	return -1
}

type swTexture struct {
	mu      sync.RWMutex
	id      uint32
	width   int
	height  int
	pix     []byte
	min     Filter
	mag     Filter
	deleted bool
}

func (t *swTexture) ID() uint32 { return t.id }

func (t *swTexture) Upload(width, height int, rgba []byte) error {
	if width <= 0 || height <= 0 || len(rgba) != width*height*4 {
		return fmt.Errorf("%w: %d bytes for %dx%d", ErrBadUpload, len(rgba), width, height)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.deleted {
		return ErrDeleted
	}
	if cap(t.pix) < len(rgba) {
		t.pix = make([]byte, len(rgba))
	}
	t.pix = t.pix[:len(rgba)]
	copy(t.pix, rgba)
	t.width, t.height = width, height
	return nil
}

func (t *swTexture) Size() (int, int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.width, t.height
}

func (t *swTexture) SetFilter(min, mag Filter) {
	t.mu.Lock()
	t.min, t.mag = min, mag
	t.mu.Unlock()
}

func (t *swTexture) sample(u, v float64) Color {
	if t.width == 0 || t.height == 0 {
		return Color{}
	}
	x := clampInt(int(u*float64(t.width)), 0, t.width-1)
	y := clampInt(int(v*float64(t.height)), 0, t.height-1)
	o := (y*t.width + x) * 4
	return Color{
		R: float64(t.pix[o]) / 255,
		G: float64(t.pix[o+1]) / 255,
		B: float64(t.pix[o+2]) / 255,
		A: float64(t.pix[o+3]) / 255,
	}
}

// CreateProgram compiles and links a program
func (d *Software) CreateProgram(vertexSrc, fragmentSrc string, fragment FragmentFunc) (Program, error) {
	vs, err := compileStage("vertex", vertexSrc)
	if err != nil {
		return nil, err
	}
	fs, err := compileStage("fragment", fragmentSrc)
	if err != nil {
		return nil, err
	}

	position, ok := vs.assignments["gl_Position"]
	if !ok {
		return nil, fmt.Errorf("%w: vertex shader never writes gl_Position", ErrLink)
	}
	for name := range fs.varyings {
		if !vs.varyings[name] {
			return nil, fmt.Errorf("%w: varying %q is not declared by the vertex shader", ErrLink, name)
		}
	}
	if fragment == nil {
		return nil, fmt.Errorf("%w: no fragment function bound", ErrLink)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	p := &swProgram{
		id:       d.nextID,
		attribs:  make(map[string]int),
		uniforms: make(map[string]int),
		names:    make(map[int]string),
		position: position,
		fragment: fragment,
	}
	for i, name := range vs.attributes {
		p.attribs[name] = i
	}
	for lhs, rhs := range vs.assignments {
		if lhs != "gl_Position" && fs.varyings[lhs] {
			p.texCoord = rhs
		}
	}
	loc := 0
	for _, st := range []*stage{vs, fs} {
		for _, name := range st.uniforms {
			if _, dup := p.uniforms[name]; dup {
				continue
			}
			p.uniforms[name] = loc
			p.names[loc] = name
			loc++
		}
	}
	d.programs[p.id] = p
	return p, nil
}

// DeleteProgram frees a program
func (d *Software) DeleteProgram(p Program) {
	if p == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if sp, ok := d.programs[p.ID()]; ok {
		sp.deleted = true
		delete(d.programs, p.ID())
	}
}

// CreateTexture allocates an empty texture
func (d *Software) CreateTexture() (Texture, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return nil, ErrDeleted
	}
	d.nextID++
	t := &swTexture{id: d.nextID, min: FilterLinear, mag: FilterLinear}
	d.textures[t.id] = t
	return t, nil
}

// DeleteTexture frees a texture
func (d *Software) DeleteTexture(t Texture) {
	if t == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if st, ok := d.textures[t.ID()]; ok {
		st.mu.Lock()
		st.deleted = true
		st.pix = nil
		st.mu.Unlock()
		delete(d.textures, t.ID())
	}
}

// Viewport resizes the framebuffer
func (d *Software) Viewport(width, height int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	if b := d.fb.Bounds(); b.Dx() == width && b.Dy() == height {
		return
	}
	d.fb = image.NewRGBA(image.Rect(0, 0, width, height))
}

// ClearColor sets the color used by Clear
func (d *Software) ClearColor(c color.RGBA) {
	d.mu.Lock()
	d.clearColor = c
	d.mu.Unlock()
}

// Clear fills the framebuffer with the clear color
func (d *Software) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := d.clearColor
	for i := 0; i < len(d.fb.Pix); i += 4 {
		d.fb.Pix[i] = c.R
		d.fb.Pix[i+1] = c.G
		d.fb.Pix[i+2] = c.B
		d.fb.Pix[i+3] = c.A
	}
}

type vertex struct {
	x, y float64 // NDC
	u, v float64
}

type uniformValues struct {
	names  map[int]string
	values map[int]int32
}

func (u uniformValues) Int(name string) int32 {
	for loc, n := range u.names {
		if n == name {
			return u.values[loc]
		}
	}
	return 0
}

// Draw rasterizes a triangle strip
func (d *Software) Draw(call DrawCall) error {
	p, ok := call.Program.(*swProgram)
	if !ok || p == nil || p.deleted {
		return fmt.Errorf("draw: %w: program", ErrDeleted)
	}
	tex, ok := call.Texture.(*swTexture)
	if !ok || tex == nil {
		return fmt.Errorf("draw: no texture bound")
	}
	if call.Count < 3 {
		return nil
	}

	verts, err := p.assemble(call)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	tex.mu.RLock()
	defer tex.mu.RUnlock()
	if tex.deleted {
		return fmt.Errorf("draw: %w: texture", ErrDeleted)
	}

	uniforms := uniformValues{names: p.names, values: call.Uniforms}
	for i := 0; i+2 < len(verts); i++ {
		d.rasterize(verts[i], verts[i+1], verts[i+2], tex, p.fragment, uniforms)
	}
	return nil
}

func (p *swProgram) assemble(call DrawCall) ([]vertex, error) {
	posLoc, tcLoc := p.AttribLocation(p.position), p.AttribLocation(p.texCoord)
	var pos, tc *VertexAttrib
	for i := range call.Attribs {
		a := &call.Attribs[i]
		switch a.Location {
		case posLoc:
			pos = a
		case tcLoc:
			tc = a
		}
	}
	if pos == nil || pos.Size < 2 || len(pos.Data) < call.Count*pos.Size {
		return nil, fmt.Errorf("draw: position attribute %q not enabled", p.position)
	}

	verts := make([]vertex, call.Count)
	for i := range verts {
		verts[i].x = float64(pos.Data[i*pos.Size])
		verts[i].y = float64(pos.Data[i*pos.Size+1])
		if tc != nil && tc.Size >= 2 && len(tc.Data) >= (i+1)*tc.Size {
			verts[i].u = float64(tc.Data[i*tc.Size])
			verts[i].v = float64(tc.Data[i*tc.Size+1])
		}
	}
	return verts, nil
}

func (d *Software) rasterize(a, b, c vertex, tex *swTexture, frag FragmentFunc, uniforms Uniforms) {
	w, h := d.fb.Bounds().Dx(), d.fb.Bounds().Dy()
	if w == 0 || h == 0 {
		return
	}

	// NDC -> window coordinates, y down
	toWin := func(v vertex) (float64, float64) {
		return (v.x + 1) / 2 * float64(w), (1 - v.y) / 2 * float64(h)
	}
	ax, ay := toWin(a)
	bx, by := toWin(b)
	cx, cy := toWin(c)

	area := (bx-ax)*(cy-ay) - (by-ay)*(cx-ax)
	if area == 0 {
		return
	}

	minX := clampInt(int(math.Floor(math.Min(ax, math.Min(bx, cx)))), 0, w-1)
	maxX := clampInt(int(math.Ceil(math.Max(ax, math.Max(bx, cx)))), 0, w-1)
	minY := clampInt(int(math.Floor(math.Min(ay, math.Min(by, cy)))), 0, h-1)
	maxY := clampInt(int(math.Ceil(math.Max(ay, math.Max(by, cy)))), 0, h-1)

	for y := minY; y <= maxY; y++ {
		py := float64(y) + 0.5
		for x := minX; x <= maxX; x++ {
			px := float64(x) + 0.5
			w0 := ((bx-px)*(cy-py) - (by-py)*(cx-px)) / area
			w1 := ((cx-px)*(ay-py) - (cy-py)*(ax-px)) / area
			w2 := 1 - w0 - w1
			if w0 < 0 || w1 < 0 || w2 < 0 {
				continue
			}
			u := w0*a.u + w1*b.u + w2*c.u
			v := w0*a.v + w1*b.v + w2*c.v

			out := frag(tex.sample(u, v), uniforms)
			o := d.fb.PixOffset(x, y)
			d.fb.Pix[o] = toByte(out.R)
			d.fb.Pix[o+1] = toByte(out.G)
			d.fb.Pix[o+2] = toByte(out.B)
			d.fb.Pix[o+3] = toByte(out.A)
		}
	}
}

// ReadPixels copies the framebuffer
func (d *Software) ReadPixels() *image.RGBA {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := image.NewRGBA(d.fb.Bounds())
	copy(out.Pix, d.fb.Pix)
	return out
}

// Release deletes all remaining programs and textures
func (d *Software) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, p := range d.programs {
		p.deleted = true
		delete(d.programs, id)
	}
	for id, t := range d.textures {
		t.mu.Lock()
		t.deleted = true
		t.pix = nil
		t.mu.Unlock()
		delete(d.textures, id)
	}
	d.released = true
}

// Live returns the number of programs and textures still allocated
func (d *Software) Live() (programs, textures int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.programs), len(d.textures)
}

func toByte(f float64) uint8 {
	if f <= 0 {
		return 0
	}
	if f >= 1 {
		return 255
	}
	return uint8(math.Round(f * 255))
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
