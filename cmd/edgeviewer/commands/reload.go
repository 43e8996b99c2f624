package commands

import (
	"github.com/bryanchriswhite/EdgeViewer/internal/config"
	"github.com/bryanchriswhite/EdgeViewer/internal/export"
	"github.com/bryanchriswhite/EdgeViewer/internal/logger"
	"github.com/bryanchriswhite/EdgeViewer/internal/overlay"
	"github.com/bryanchriswhite/EdgeViewer/internal/pipeline"
	"github.com/bryanchriswhite/EdgeViewer/internal/render"
)

// liveTargets are the running components a config change can reach.
// Nil targets are skipped.
type liveTargets struct {
	pipeline *pipeline.Pipeline
	renderer *render.Renderer
	exporter *export.Exporter
	overlay  *overlay.Manager
}

// apply pushes the differences between prev and next into the running
// components and returns the keys that only take effect after a restart
func (l *liveTargets) apply(prev, next *config.Config) []string {
	log := logger.WithComponent("config")

	if next.LogLevel != prev.LogLevel {
		logger.SetLevel(next.LogLevel)
		log.Info().Str("level", next.LogLevel).Msg("Log level changed")
	}

	if next.Processing.Enabled != prev.Processing.Enabled && l.pipeline != nil {
		l.pipeline.SetProcessingEnabled(next.Processing.Enabled)
		log.Info().Bool("enabled", next.Processing.Enabled).Msg("Edge detection changed")
	}

	if next.Render.Effect != prev.Render.Effect && l.renderer != nil {
		if effect, err := render.ParseEffect(next.Render.Effect); err == nil {
			l.renderer.SetEffect(effect)
		}
	}

	if l.exporter != nil {
		if next.Export.Endpoint != prev.Export.Endpoint {
			l.exporter.SetEndpoint(next.Export.Endpoint)
		}
		if next.Export.Enabled != prev.Export.Enabled {
			l.exporter.SetEnabled(next.Export.Enabled)
			log.Info().Bool("enabled", next.Export.Enabled).Msg("Frame export changed")
		}
	}

	if next.Render.Overlay.Enabled != prev.Render.Overlay.Enabled && l.overlay != nil {
		l.overlay.SetEnabled(next.Render.Overlay.Enabled)
	}

	return restartKeys(prev, next)
}

func restartKeys(prev, next *config.Config) []string {
	var keys []string
	add := func(changed bool, key string) {
		if changed {
			keys = append(keys, key)
		}
	}
	add(next.ServerPort != prev.ServerPort, "server_port")
	add(next.LogPretty != prev.LogPretty, "log_pretty")
	add(next.Capture != prev.Capture, "capture")
	add(next.Processing.Backend != prev.Processing.Backend, "processing.backend")
	add(next.Processing.AnomalyProbe != prev.Processing.AnomalyProbe, "processing.anomaly_probe")
	add(next.Render.Mode != prev.Render.Mode, "render.mode")
	add(next.Render.RefreshHz != prev.Render.RefreshHz, "render.refresh_hz")
	add(next.Render.Width != prev.Render.Width || next.Render.Height != prev.Render.Height, "render.size")
	add(next.Render.JPEGQuality != prev.Render.JPEGQuality, "render.jpeg_quality")
	add(next.Render.Overlay.Position != prev.Render.Overlay.Position, "render.overlay.position")
	add(next.Render.X11 != prev.Render.X11, "render.x11")
	add(next.Export.TimeoutMs != prev.Export.TimeoutMs, "export.timeout_ms")
	add(next.Export.Interval != prev.Export.Interval, "export.interval")
	return keys
}
