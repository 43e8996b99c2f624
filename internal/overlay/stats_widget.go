package overlay

import (
	"fmt"
	"image"
)

// Status is what the stats widget shows
type Status struct {
	FPS          int
	Width        int
	Height       int
	ProcessingMs float64
	Processing   bool
	Effect       string
}

// StatusFunc supplies the current status on every render
type StatusFunc func() Status

// StatsWidget shows live telemetry, refreshed from its source on each render
type StatsWidget struct {
	*TextWidget
	source StatusFunc
}

// NewStatsWidget creates the telemetry widget
func NewStatsWidget(id string, anchor Anchor, source StatusFunc) *StatsWidget {
	return &StatsWidget{
		TextWidget: NewTextWidget(id, anchor),
		source:     source,
	}
}

// Type returns the widget type
func (w *StatsWidget) Type() string {
	return "stats"
}

// Render refreshes the lines and draws them
func (w *StatsWidget) Render(img *image.RGBA) error {
	if w.source != nil {
		w.SetLines(StatusLines(w.source())...)
	}
	return w.TextWidget.Render(img)
}

// StatusLines formats a status the way the viewer labels read
func StatusLines(s Status) []string {
	edge := "Edge Detection OFF"
	if s.Processing {
		edge = "Edge Detection ON"
	}
	lines := []string{
		fmt.Sprintf("FPS: %d", s.FPS),
		fmt.Sprintf("Resolution: %dx%d", s.Width, s.Height),
		fmt.Sprintf("Processing: %.2f ms", s.ProcessingMs),
		edge,
	}
	if s.Effect != "" {
		lines = append(lines, "Effect: "+s.Effect)
	}
	return lines
}
