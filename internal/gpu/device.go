// Package gpu is the small slice of a GLES2-style API the renderer needs:
// programs with attribute/uniform lookup, one 2D texture per surface, and
// triangle-strip draws into a framebuffer that can be read back.
package gpu

import (
	"errors"
	"image"
	"image/color"
)

var (
	// ErrCompile is returned when a shader stage fails to compile
	ErrCompile = errors.New("shader compile failed")

	// ErrLink is returned when a program fails to link
	ErrLink = errors.New("program link failed")

	// ErrDeleted is returned when a deleted object is used
	ErrDeleted = errors.New("gpu object deleted")

	// ErrBadUpload is returned when texture data does not match its declared size
	ErrBadUpload = errors.New("texture data size mismatch")
)

// Color is a normalized RGBA value as seen by a fragment stage
type Color struct {
	R, G, B, A float64
}

// FragmentFunc is the fragment stage executed per pixel: texel is the sampled
// texture value at the interpolated texture coordinate.
type FragmentFunc func(texel Color, uniforms Uniforms) Color

// Uniforms resolves uniform values by name during a draw
type Uniforms interface {
	Int(name string) int32
}

// Filter is a texture filtering mode
type Filter int

const (
	FilterNearest Filter = iota
	FilterLinear
)

// Program is a linked vertex+fragment program
type Program interface {
	ID() uint32

	// AttribLocation returns the attribute's location or -1 if the program has none
	AttribLocation(name string) int

	// UniformLocation returns the uniform's location or -1 if the program has none
	UniformLocation(name string) int
}

// Texture is a 2D RGBA texture
type Texture interface {
	ID() uint32

	// Upload replaces the full texture extent; rgba must hold width*height*4 bytes
	Upload(width, height int, rgba []byte) error

	// Size returns the current texture dimensions
	Size() (int, int)

	// SetFilter sets min/mag filtering
	SetFilter(min, mag Filter)
}

// VertexAttrib binds a float array to an attribute location
type VertexAttrib struct {
	Location int
	Size     int // components per vertex
	Data     []float32
}

// DrawCall describes one triangle-strip draw
type DrawCall struct {
	Program  Program
	Texture  Texture
	Attribs  []VertexAttrib
	Uniforms map[int]int32 // by uniform location
	Count    int           // vertices
}

// Device is one GPU context bound to a surface
type Device interface {
	CreateProgram(vertexSrc, fragmentSrc string, fragment FragmentFunc) (Program, error)
	DeleteProgram(p Program)

	CreateTexture() (Texture, error)
	DeleteTexture(t Texture)

	Viewport(width, height int)
	ClearColor(c color.RGBA)
	Clear()
	Draw(call DrawCall) error

	// ReadPixels copies the framebuffer into a new image
	ReadPixels() *image.RGBA

	// Release frees every object still owned by the context
	Release()
}
