package render

import (
	"fmt"
	"strings"

	"github.com/bryanchriswhite/EdgeViewer/internal/gpu"
)

// EffectMode selects the fragment shader branch. The numeric value is the
// effectMode uniform.
type EffectMode int32

const (
	EffectNormal EffectMode = iota
	EffectGrayscale
	EffectInvert

	effectCount
)

// Next returns the mode after m: Normal -> Grayscale -> Invert -> Normal
func (m EffectMode) Next() EffectMode {
	return (m.normalize() + 1) % effectCount
}

func (m EffectMode) normalize() EffectMode {
	if m < 0 || m >= effectCount {
		return EffectNormal
	}
	return m
}

// Valid reports whether m is one of the three modes
func (m EffectMode) Valid() bool {
	return m >= 0 && m < effectCount
}

func (m EffectMode) String() string {
	switch m {
	case EffectNormal:
		return "Normal"
	case EffectGrayscale:
		return "Grayscale"
	case EffectInvert:
		return "Invert"
	default:
		return fmt.Sprintf("EffectMode(%d)", int32(m))
	}
}

// ParseEffect accepts a mode name (case-insensitive) or its number
func ParseEffect(s string) (EffectMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "normal", "0", "":
		return EffectNormal, nil
	case "grayscale", "greyscale", "gray", "1":
		return EffectGrayscale, nil
	case "invert", "2":
		return EffectInvert, nil
	}
	return EffectNormal, fmt.Errorf("unknown effect mode %q", s)
}

// MarshalText encodes the mode by name for JSON/YAML
func (m EffectMode) MarshalText() ([]byte, error) {
	return []byte(strings.ToLower(m.normalize().String())), nil
}

// UnmarshalText decodes a mode name or number
func (m *EffectMode) UnmarshalText(text []byte) error {
	mode, err := ParseEffect(string(text))
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

const vertexShader = `
attribute vec4 vPosition;
attribute vec2 vTexCoord;
varying vec2 texCoord;
void main() {
  gl_Position = vPosition;
  texCoord = vTexCoord;
}`

const fragmentShader = `
precision mediump float;
varying vec2 texCoord;
uniform sampler2D texture;
uniform int effectMode; // 0=normal, 1=grayscale, 2=invert
void main() {
  vec4 color = texture2D(texture, texCoord);
  if (effectMode == 1) {
    float gray = dot(color.rgb, vec3(0.299, 0.587, 0.114));
    gl_FragColor = vec4(gray, gray, gray, color.a);
  } else if (effectMode == 2) {
    gl_FragColor = vec4(1.0 - color.rgb, color.a);
  } else {
    gl_FragColor = color;
  }
}`

// effectFragment executes fragmentShader on the software backend
func effectFragment(c gpu.Color, u gpu.Uniforms) gpu.Color {
	switch EffectMode(u.Int("effectMode")) {
	case EffectGrayscale:
		gray := c.R*0.299 + c.G*0.587 + c.B*0.114
		return gpu.Color{R: gray, G: gray, B: gray, A: c.A}
	case EffectInvert:
		return gpu.Color{R: 1 - c.R, G: 1 - c.G, B: 1 - c.B, A: c.A}
	default:
		return c
	}
}

// Apply runs the effect on a single 8-bit RGBA pixel, as the shader would
func (m EffectMode) Apply(r, g, b, a uint8) (uint8, uint8, uint8, uint8) {
	out := effectFragment(gpu.Color{
		R: float64(r) / 255,
		G: float64(g) / 255,
		B: float64(b) / 255,
		A: float64(a) / 255,
	}, modeUniform(m))
	return channel(out.R), channel(out.G), channel(out.B), channel(out.A)
}

type modeUniform EffectMode

func (m modeUniform) Int(name string) int32 {
	if name == "effectMode" {
		return int32(m)
	}
	return 0
}

func channel(f float64) uint8 {
	v := f*255 + 0.5
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v)
}
