// Package pipeline is the capture worker: it takes raw frames one at a time,
// converts and processes them, publishes the result for the renderer and feeds
// the metrics and export side channels.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/EdgeViewer/internal/capture"
	"github.com/bryanchriswhite/EdgeViewer/internal/export"
	"github.com/bryanchriswhite/EdgeViewer/internal/frame"
	"github.com/bryanchriswhite/EdgeViewer/internal/logger"
	"github.com/bryanchriswhite/EdgeViewer/internal/mailbox"
	"github.com/bryanchriswhite/EdgeViewer/internal/metrics"
	"github.com/bryanchriswhite/EdgeViewer/internal/processing"
)

// Stats reports capture worker activity
type Stats struct {
	Frames    uint64 `json:"frames"`
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
}

// Pipeline processes frames sequentially; it is not safe to call HandleFrame
// from more than one goroutine.
type Pipeline struct {
	gateway  *processing.Gateway
	mailbox  *mailbox.Mailbox
	tracker  *metrics.Tracker
	exporter *export.Exporter

	requestRender func()
	processing    atomic.Bool

	frames    atomic.Uint64
	published atomic.Uint64
	dropped   atomic.Uint64

	frameLog *zerolog.Logger
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithExporter attaches the frame exporter
func WithExporter(e *export.Exporter) Option {
	return func(p *Pipeline) {
		p.exporter = e
	}
}

// WithRenderRequest sets the callback invoked after every publish
func WithRenderRequest(fn func()) Option {
	return func(p *Pipeline) {
		p.requestRender = fn
	}
}

// WithProcessingEnabled sets the initial effect flag passed to the processor
func WithProcessingEnabled(enabled bool) Option {
	return func(p *Pipeline) {
		p.processing.Store(enabled)
	}
}

// New creates a pipeline. Processing (the edge effect) starts enabled.
func New(gw *processing.Gateway, mb *mailbox.Mailbox, tracker *metrics.Tracker, opts ...Option) *Pipeline {
	p := &Pipeline{
		gateway:  gw,
		mailbox:  mb,
		tracker:  tracker,
		frameLog: logger.Sampled("pipeline", 30),
	}
	p.processing.Store(true)
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetProcessingEnabled turns the processor's effect on or off
func (p *Pipeline) SetProcessingEnabled(enabled bool) {
	p.processing.Store(enabled)
	logger.WithComponent("pipeline").Info().Bool("enabled", enabled).Msg("Processing toggled")
}

// ToggleProcessing flips the effect flag and returns the new value
func (p *Pipeline) ToggleProcessing() bool {
	for {
		cur := p.processing.Load()
		if p.processing.CompareAndSwap(cur, !cur) {
			logger.WithComponent("pipeline").Info().Bool("enabled", !cur).Msg("Processing toggled")
			return !cur
		}
	}
}

// ProcessingEnabled reports the effect flag
func (p *Pipeline) ProcessingEnabled() bool {
	return p.processing.Load()
}

// HandleFrame runs one raw frame through the pipeline. The raw frame is
// released as soon as it has been converted, whatever happens afterwards. A
// returned error means the frame was dropped; the next frame is unaffected.
func (p *Pipeline) HandleFrame(raw *frame.RawFrame) error {
	p.frames.Add(1)

	packed, err := frame.Convert(raw)
	raw.Close()
	if err != nil {
		p.dropped.Add(1)
		return fmt.Errorf("convert: %w", err)
	}

	res, err := p.gateway.Process(packed, p.processing.Load())
	if err != nil {
		p.dropped.Add(1)
		return fmt.Errorf("process: %w", err)
	}
	buf := res.Buffer

	p.mailbox.Publish(buf)
	p.published.Add(1)
	if p.requestRender != nil {
		p.requestRender()
	}

	p.tracker.Record(res.Latency, buf.Width, buf.Height)
	if p.exporter != nil {
		p.exporter.MaybeExport(buf, p.tracker.Snapshot().FPS, res.Latency)
	}

	p.frameLog.Debug().
		Int("width", buf.Width).
		Int("height", buf.Height).
		Dur("latency", res.Latency).
		Msg("Frame processed")
	return nil
}

// Run starts src and processes its frames until ctx is cancelled or the
// source ends. Per-frame errors are logged and never stop the loop.
func (p *Pipeline) Run(ctx context.Context, src capture.Source) error {
	log := logger.WithComponent("pipeline")

	if !p.gateway.Available() {
		log.Warn().Msg("Frame processor unavailable, frames will not be displayed")
	}

	if err := src.Start(ctx); err != nil {
		return fmt.Errorf("failed to start %s: %w", src.Name(), err)
	}
	defer func() {
		if err := src.Stop(); err != nil {
			log.Warn().Err(err).Str("source", src.Name()).Msg("Failed to stop capture source")
		}
	}()

	log.Info().
		Str("source", src.Name()).
		Str("processor", p.gateway.ProcessorName()).
		Msg("Capture worker started")

	frames := src.Frames()
	for {
		select {
		case <-ctx.Done():
			log.Info().Uint64("frames", p.frames.Load()).Msg("Capture worker stopped")
			return nil
		case raw, ok := <-frames:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("capture source %s ended", src.Name())
			}

			start := time.Now()
			if err := p.HandleFrame(raw); err != nil {
				if errors.Is(err, processing.ErrUnavailable) {
					p.frameLog.Debug().Err(err).Msg("Frame dropped")
					continue
				}
				p.frameLog.Warn().Err(err).Dur("elapsed", time.Since(start)).Msg("Frame dropped")
			}
		}
	}
}

// Stats returns worker counters
func (p *Pipeline) Stats() Stats {
	return Stats{
		Frames:    p.frames.Load(),
		Published: p.published.Load(),
		Dropped:   p.dropped.Load(),
	}
}
