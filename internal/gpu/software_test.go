package gpu

import (
	"errors"
	"image/color"
	"testing"
)

const testVertex = `
attribute vec4 vPosition;
attribute vec2 vTexCoord;
varying vec2 texCoord;
void main() {
  gl_Position = vPosition;
  texCoord = vTexCoord;
}`

const testFragment = `
precision mediump float;
varying vec2 texCoord;
uniform sampler2D texture;
uniform int effectMode;
void main() {
  gl_FragColor = texture2D(texture, texCoord);
}`

var (
	quad = []float32{
		-1, -1, 0,
		1, -1, 0,
		-1, 1, 0,
		1, 1, 0,
	}
	quadTex = []float32{
		0, 1,
		1, 1,
		0, 0,
		1, 0,
	}
)

func passthrough(texel Color, _ Uniforms) Color { return texel }

func TestCompileErrors(t *testing.T) {
	d := NewSoftware()
	tests := []struct {
		name     string
		vertex   string
		fragment string
		want     error
	}{
		{"empty vertex", "", testFragment, ErrCompile},
		{"no main", "attribute vec4 a;", testFragment, ErrCompile},
		{"unbalanced braces", "void main() { gl_Position = a;", testFragment, ErrCompile},
		{"attribute in fragment", testVertex, "attribute vec2 x; void main() {}", ErrCompile},
		{"missing gl_Position", "varying vec2 texCoord; void main() { texCoord = x; }", testFragment, ErrLink},
		{"unmatched varying", testVertex, "varying vec2 other; void main() {}", ErrLink},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.CreateProgram(tt.vertex, tt.fragment, passthrough)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestLocations(t *testing.T) {
	d := NewSoftware()
	p, err := d.CreateProgram(testVertex, testFragment, passthrough)
	if err != nil {
		t.Fatal(err)
	}
	if p.AttribLocation("vPosition") != 0 || p.AttribLocation("vTexCoord") != 1 {
		t.Errorf("unexpected attribute locations %d %d", p.AttribLocation("vPosition"), p.AttribLocation("vTexCoord"))
	}
	if p.AttribLocation("missing") != -1 {
		t.Error("missing attribute should be -1")
	}
	if p.UniformLocation("texture") < 0 || p.UniformLocation("effectMode") < 0 {
		t.Error("uniforms should be located")
	}
	if p.UniformLocation("nope") != -1 {
		t.Error("missing uniform should be -1")
	}
}

func TestDrawSamplesTexture(t *testing.T) {
	d := NewSoftware()
	p, err := d.CreateProgram(testVertex, testFragment, passthrough)
	if err != nil {
		t.Fatal(err)
	}
	tex, err := d.CreateTexture()
	if err != nil {
		t.Fatal(err)
	}
	// 2x2: red, green / blue, white
	err = tex.Upload(2, 2, []byte{
		255, 0, 0, 255, 0, 255, 0, 255,
		0, 0, 255, 255, 255, 255, 255, 255,
	})
	if err != nil {
		t.Fatal(err)
	}

	d.Viewport(4, 4)
	d.ClearColor(color.RGBA{A: 255})
	d.Clear()
	err = d.Draw(DrawCall{
		Program: p,
		Texture: tex,
		Attribs: []VertexAttrib{
			{Location: p.AttribLocation("vPosition"), Size: 3, Data: quad},
			{Location: p.AttribLocation("vTexCoord"), Size: 2, Data: quadTex},
		},
		Count: 4,
	})
	if err != nil {
		t.Fatal(err)
	}

	img := d.ReadPixels()
	checks := []struct {
		x, y int
		want color.RGBA
	}{
		{0, 0, color.RGBA{255, 0, 0, 255}},
		{3, 0, color.RGBA{0, 255, 0, 255}},
		{0, 3, color.RGBA{0, 0, 255, 255}},
		{3, 3, color.RGBA{255, 255, 255, 255}},
	}
	for _, c := range checks {
		if got := img.RGBAAt(c.x, c.y); got != c.want {
			t.Errorf("pixel (%d,%d) = %v, expected %v", c.x, c.y, got, c.want)
		}
	}
}

func TestUniformsReachFragment(t *testing.T) {
	d := NewSoftware()
	var seen int32 = -1
	p, err := d.CreateProgram(testVertex, testFragment, func(texel Color, u Uniforms) Color {
		seen = u.Int("effectMode")
		return texel
	})
	if err != nil {
		t.Fatal(err)
	}
	tex, _ := d.CreateTexture()
	tex.Upload(1, 1, []byte{0, 0, 0, 255})
	d.Viewport(1, 1)
	err = d.Draw(DrawCall{
		Program: p,
		Texture: tex,
		Attribs: []VertexAttrib{
			{Location: 0, Size: 3, Data: quad},
			{Location: 1, Size: 2, Data: quadTex},
		},
		Uniforms: map[int]int32{p.UniformLocation("effectMode"): 2},
		Count:    4,
	})
	if err != nil {
		t.Fatal(err)
	}
	if seen != 2 {
		t.Errorf("fragment saw effectMode %d, expected 2", seen)
	}
}

func TestUploadValidation(t *testing.T) {
	d := NewSoftware()
	tex, _ := d.CreateTexture()
	if err := tex.Upload(2, 2, make([]byte, 15)); !errors.Is(err, ErrBadUpload) {
		t.Errorf("expected ErrBadUpload, got %v", err)
	}
	if err := tex.Upload(3, 1, make([]byte, 12)); err != nil {
		t.Fatal(err)
	}
	if w, h := tex.Size(); w != 3 || h != 1 {
		t.Errorf("size = %dx%d, expected 3x1", w, h)
	}
}

func TestReleaseDeletesObjects(t *testing.T) {
	d := NewSoftware()
	p, _ := d.CreateProgram(testVertex, testFragment, passthrough)
	tex, _ := d.CreateTexture()
	if progs, texs := d.Live(); progs != 1 || texs != 1 {
		t.Fatalf("expected 1 program and 1 texture, got %d and %d", progs, texs)
	}

	d.Release()
	if progs, texs := d.Live(); progs != 0 || texs != 0 {
		t.Errorf("expected nothing live after release, got %d and %d", progs, texs)
	}
	if err := tex.Upload(1, 1, make([]byte, 4)); !errors.Is(err, ErrDeleted) {
		t.Errorf("upload after release: expected ErrDeleted, got %v", err)
	}
	if err := d.Draw(DrawCall{Program: p, Texture: tex, Count: 4}); !errors.Is(err, ErrDeleted) {
		t.Errorf("draw after release: expected ErrDeleted, got %v", err)
	}
	if _, err := d.CreateTexture(); !errors.Is(err, ErrDeleted) {
		t.Errorf("create after release: expected ErrDeleted, got %v", err)
	}
}
