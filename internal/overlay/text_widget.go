package overlay

import (
	"image"
	"image/color"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	lineHeight = 13 // basicfont.Face7x13
	lineGap    = 2
)

// TextWidget draws one or more lines of text over an optional background box
type TextWidget struct {
	*BaseWidget
	lines     []string
	textColor color.RGBA
	bgColor   *color.RGBA
	padding   int
}

// NewTextWidget creates a new text widget with white text on a translucent box
func NewTextWidget(id string, anchor Anchor, lines ...string) *TextWidget {
	return &TextWidget{
		BaseWidget: NewBaseWidget(id, anchor, 8, 1.0),
		lines:      lines,
		textColor:  color.RGBA{255, 255, 255, 255},
		bgColor:    &color.RGBA{0, 0, 0, 160},
		padding:    5,
	}
}

// Type returns the widget type
func (w *TextWidget) Type() string {
	return "text"
}

// SetLines replaces the text content
func (w *TextWidget) SetLines(lines ...string) {
	w.mu.Lock()
	w.lines = append(w.lines[:0:0], lines...)
	w.mu.Unlock()
}

// Lines returns the current text
func (w *TextWidget) Lines() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]string(nil), w.lines...)
}

// SetColor sets the text color
func (w *TextWidget) SetColor(c color.RGBA) {
	w.mu.Lock()
	w.textColor = c
	w.mu.Unlock()
}

// SetBackground sets the background color (nil for transparent)
func (w *TextWidget) SetBackground(c *color.RGBA) {
	w.mu.Lock()
	w.bgColor = c
	w.mu.Unlock()
}

// Render draws the text widget
func (w *TextWidget) Render(img *image.RGBA) error {
	if !w.IsEnabled() {
		return nil
	}
	w.mu.RLock()
	lines := append([]string(nil), w.lines...)
	textColor, bgColor, padding, opacity := w.textColor, w.bgColor, w.padding, w.opacity
	w.mu.RUnlock()
	if len(lines) == 0 {
		return nil
	}

	return drawLines(img, w.BaseWidget, lines, textColor, bgColor, padding, opacity)
}

// Measure returns the box size lines occupy with padding
func Measure(lines []string, padding int) (int, int) {
	d := &font.Drawer{Face: basicfont.Face7x13}
	width := 0
	for _, line := range lines {
		if px := d.MeasureString(line).Ceil(); px > width {
			width = px
		}
	}
	height := len(lines)*lineHeight + (len(lines)-1)*lineGap
	return width + padding*2, height + padding*2
}

func drawLines(img *image.RGBA, base *BaseWidget, lines []string, textColor color.RGBA, bgColor *color.RGBA, padding int, opacity float64) error {
	boxW, boxH := Measure(lines, padding)
	at := base.origin(img.Bounds(), boxW, boxH)

	if bgColor != nil {
		DrawRectangle(img, image.Rect(at.X, at.Y, at.X+boxW, at.Y+boxH), *bgColor, opacity)
	}

	// text goes through a scratch image so opacity applies to the glyphs too
	textImg := image.NewRGBA(image.Rect(0, 0, boxW-padding*2, boxH-padding*2))
	d := &font.Drawer{
		Dst:  textImg,
		Src:  image.NewUniform(textColor),
		Face: basicfont.Face7x13,
	}
	for i, line := range lines {
		d.Dot = fixed.Point26_6{
			X: 0,
			Y: fixed.I(i*(lineHeight+lineGap) + basicfont.Face7x13.Ascent),
		}
		d.DrawString(line)
	}

	BlendImage(img, textImg, at.X+padding, at.Y+padding, opacity)
	return nil
}
