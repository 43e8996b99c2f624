package capture

import (
	"fmt"

	"github.com/bryanchriswhite/EdgeViewer/internal/logger"
)

// Open creates the configured source. With source "auto" it tries the V4L2
// device, then a gst-launch pipeline, and falls back to the synthetic pattern.
func Open(cfg Config) (Source, error) {
	cfg = cfg.withDefaults()
	log := logger.WithComponent("capture")

	switch cfg.Source {
	case SourceV4L2:
		return requireAvailable(NewV4L2Source(cfg))
	case SourceGStreamer:
		return requireAvailable(NewGStreamerSource(cfg))
	case SourceX11:
		return requireAvailable(NewX11Source(cfg))
	case SourcePattern:
		return NewPatternSource(cfg), nil
	case SourceAuto:
	default:
		return nil, fmt.Errorf("unknown capture source %q", cfg.Source)
	}

	candidates := []Source{
		NewV4L2Source(cfg),
		NewGStreamerSource(cfg),
	}
	for _, src := range candidates {
		if src.IsAvailable() {
			log.Info().Str("source", src.Name()).Msg("Selected capture source")
			return src, nil
		}
		log.Debug().Str("source", src.Name()).Msg("Capture source not available")
	}

	log.Warn().Msg("No camera available, using synthetic pattern")
	return NewPatternSource(cfg), nil
}

func requireAvailable(src Source) (Source, error) {
	if !src.IsAvailable() {
		return nil, fmt.Errorf("capture source %s is not available", src.Name())
	}
	return src, nil
}
