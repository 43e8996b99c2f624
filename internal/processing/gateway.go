package processing

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/EdgeViewer/internal/frame"
	"github.com/bryanchriswhite/EdgeViewer/internal/logger"
)

// DefaultProbePixels is how many leading pixels are checked for an all-zero output
const DefaultProbePixels = 64

// Anomaly classifies a suspicious but non-fatal processor output
type Anomaly string

const (
	AnomalyLengthMismatch Anomaly = "length_mismatch"
	AnomalyZeroPrefix     Anomaly = "zero_prefix"
)

// Result is one processed frame plus its measurement
type Result struct {
	Buffer    *frame.PixelBuffer
	Latency   time.Duration
	Anomalies []Anomaly
}

// Gateway wraps the external Processor: it times each call, validates the output
// shape and contains processor failures to the current frame.
type Gateway struct {
	processor   Processor
	probePixels int
	now         func() time.Time

	lastLatency atomic.Int64
	anomalies   atomic.Uint64
	failures    atomic.Uint64
}

// GatewayOption configures a Gateway
type GatewayOption func(*Gateway)

// WithProbePixels sets how many leading pixels the zero check inspects
func WithProbePixels(n int) GatewayOption {
	return func(g *Gateway) {
		g.probePixels = n
	}
}

// WithClock overrides the clock used for latency measurement
func WithClock(now func() time.Time) GatewayOption {
	return func(g *Gateway) {
		g.now = now
	}
}

// NewGateway creates a gateway. A nil processor is allowed and makes every call
// fail with ErrUnavailable.
func NewGateway(p Processor, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		processor:   p,
		probePixels: DefaultProbePixels,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Available reports whether a processor is attached
func (g *Gateway) Available() bool {
	return g.processor != nil
}

// ProcessorName returns the attached processor's name, or "none"
func (g *Gateway) ProcessorName() string {
	if g.processor == nil {
		return "none"
	}
	return g.processor.Name()
}

// Process runs the external routine on one packed frame. An error means the frame
// must be dropped; anomalies are reported on the result and the buffer is kept.
func (g *Gateway) Process(packed *frame.PackedFrame, enableEffect bool) (res *Result, err error) {
	if g.processor == nil {
		return nil, ErrUnavailable
	}
	if packed == nil {
		return nil, fmt.Errorf("%w: nil packed frame", frame.ErrInvalidFrame)
	}

	defer func() {
		if r := recover(); r != nil {
			g.failures.Add(1)
			res = nil
			err = fmt.Errorf("processor %s panicked: %v", g.processor.Name(), r)
		}
	}()

	start := g.now()
	pixels, err := g.processor.Process(packed.Data, packed.Width, packed.Height, enableEffect)
	latency := g.now().Sub(start)
	g.lastLatency.Store(int64(latency))

	if err != nil {
		g.failures.Add(1)
		return nil, fmt.Errorf("processor %s failed: %w", g.processor.Name(), err)
	}
	if pixels == nil {
		g.failures.Add(1)
		return nil, fmt.Errorf("processor %s returned no pixels", g.processor.Name())
	}

	res = &Result{
		Buffer:  &frame.PixelBuffer{Pixels: pixels, Width: packed.Width, Height: packed.Height},
		Latency: latency,
	}
	res.Anomalies = g.inspect(res.Buffer)
	if len(res.Anomalies) > 0 {
		g.anomalies.Add(1)
		logger.WithComponent("gateway").Warn().
			Str("processor", g.processor.Name()).
			Int("width", packed.Width).
			Int("height", packed.Height).
			Int("pixels", len(pixels)).
			Interface("anomalies", res.Anomalies).
			Msg("Processor output looks wrong, continuing with it")
	}
	return res, nil
}

func (g *Gateway) inspect(buf *frame.PixelBuffer) []Anomaly {
	var found []Anomaly
	if len(buf.Pixels) != buf.Width*buf.Height {
		found = append(found, AnomalyLengthMismatch)
	}

	n := g.probePixels
	if n > len(buf.Pixels) {
		n = len(buf.Pixels)
	}
	if n > 0 {
		zero := true
		for _, p := range buf.Pixels[:n] {
			if p != 0 {
				zero = false
				break
			}
		}
		if zero {
			found = append(found, AnomalyZeroPrefix)
		}
	}
	return found
}

// LastLatency returns the most recent call's wall-clock latency
func (g *Gateway) LastLatency() time.Duration {
	return time.Duration(g.lastLatency.Load())
}

// Stats returns anomaly and failure counters
func (g *Gateway) Stats() (anomalies, failures uint64) {
	return g.anomalies.Load(), g.failures.Load()
}
