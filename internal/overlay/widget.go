package overlay

import (
	"image"
	"image/color"
	"sync"
)

// Widget represents a renderable overlay widget
type Widget interface {
	// ID returns the unique identifier for this widget instance
	ID() string

	// Type returns the widget type name
	Type() string

	// Render draws the widget onto the provided image at the configured position
	Render(img *image.RGBA) error

	// IsEnabled returns whether the widget should be rendered
	IsEnabled() bool

	// SetEnabled sets whether the widget should be rendered
	SetEnabled(enabled bool)
}

// Anchor is the corner a widget is positioned against
type Anchor string

const (
	TopLeft     Anchor = "top-left"
	TopRight    Anchor = "top-right"
	BottomLeft  Anchor = "bottom-left"
	BottomRight Anchor = "bottom-right"
)

// BaseWidget provides common functionality for all widgets
type BaseWidget struct {
	mu      sync.RWMutex
	id      string
	enabled bool
	anchor  Anchor
	margin  int
	opacity float64 // 0.0 to 1.0
}

// NewBaseWidget creates a new base widget
func NewBaseWidget(id string, anchor Anchor, margin int, opacity float64) *BaseWidget {
	w := &BaseWidget{
		id:      id,
		enabled: true,
		anchor:  anchor,
		margin:  margin,
	}
	w.SetOpacity(opacity)
	return w
}

// ID returns the widget's unique identifier
func (w *BaseWidget) ID() string {
	return w.id
}

// IsEnabled returns whether the widget should be rendered
func (w *BaseWidget) IsEnabled() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.enabled
}

// SetEnabled sets whether the widget should be rendered
func (w *BaseWidget) SetEnabled(enabled bool) {
	w.mu.Lock()
	w.enabled = enabled
	w.mu.Unlock()
}

// SetAnchor moves the widget to another corner
func (w *BaseWidget) SetAnchor(a Anchor) {
	w.mu.Lock()
	w.anchor = a
	w.mu.Unlock()
}

// GetOpacity returns the widget's opacity
func (w *BaseWidget) GetOpacity() float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.opacity
}

// SetOpacity sets the widget's opacity (0.0 to 1.0)
func (w *BaseWidget) SetOpacity(opacity float64) {
	if opacity < 0.0 {
		opacity = 0.0
	}
	if opacity > 1.0 {
		opacity = 1.0
	}
	w.mu.Lock()
	w.opacity = opacity
	w.mu.Unlock()
}

// origin returns the top-left corner of a width x height box anchored in bounds
func (w *BaseWidget) origin(bounds image.Rectangle, width, height int) image.Point {
	w.mu.RLock()
	anchor, margin := w.anchor, w.margin
	w.mu.RUnlock()

	p := image.Point{X: bounds.Min.X + margin, Y: bounds.Min.Y + margin}
	switch anchor {
	case TopRight:
		p.X = bounds.Max.X - margin - width
	case BottomLeft:
		p.Y = bounds.Max.Y - margin - height
	case BottomRight:
		p.X = bounds.Max.X - margin - width
		p.Y = bounds.Max.Y - margin - height
	}
	return p
}

// BlendImage blends src onto dst at (x, y) scaling src alpha by opacity.
// Pixels falling outside dst are clipped.
func BlendImage(dst *image.RGBA, src *image.RGBA, x, y int, opacity float64) {
	srcBounds := src.Bounds()
	dstBounds := dst.Bounds()

	for sy := srcBounds.Min.Y; sy < srcBounds.Max.Y; sy++ {
		dy := y + (sy - srcBounds.Min.Y)
		if dy < dstBounds.Min.Y || dy >= dstBounds.Max.Y {
			continue
		}

		for sx := srcBounds.Min.X; sx < srcBounds.Max.X; sx++ {
			dx := x + (sx - srcBounds.Min.X)
			if dx < dstBounds.Min.X || dx >= dstBounds.Max.X {
				continue
			}

			s := src.RGBAAt(sx, sy)
			alpha := float64(s.A) / 255 * opacity
			if alpha <= 0 {
				continue
			}
			d := dst.RGBAAt(dx, dy)
			da := float64(d.A) / 255

			outAlpha := alpha + da*(1-alpha)
			if outAlpha <= 0 {
				continue
			}
			mix := func(sc, dc uint8) uint8 {
				v := (float64(sc)*alpha + float64(dc)*da*(1-alpha)) / outAlpha
				return uint8(v + 0.5)
			}
			dst.SetRGBA(dx, dy, color.RGBA{
				R: mix(s.R, d.R),
				G: mix(s.G, d.G),
				B: mix(s.B, d.B),
				A: uint8(outAlpha*255 + 0.5),
			})
		}
	}
}

// DrawRectangle blends a filled rectangle onto dst
func DrawRectangle(dst *image.RGBA, r image.Rectangle, c color.RGBA, opacity float64) {
	r = r.Intersect(dst.Bounds())
	if r.Empty() {
		return
	}
	tmp := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	for i := 0; i < len(tmp.Pix); i += 4 {
		tmp.Pix[i], tmp.Pix[i+1], tmp.Pix[i+2], tmp.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	BlendImage(dst, tmp, r.Min.X, r.Min.Y, opacity)
}
