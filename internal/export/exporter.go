package export

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/png"
	"io"
	"math"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/bryanchriswhite/EdgeViewer/internal/frame"
	"github.com/bryanchriswhite/EdgeViewer/internal/logger"
)

const (
	DefaultTimeout  = 1000 * time.Millisecond
	DefaultInterval = 5
)

// Config holds exporter settings
type Config struct {
	Enabled  bool
	Endpoint string
	Timeout  time.Duration
	Interval int // export the first frame, then every Interval-th
}

// Stats reports exporter activity
type Stats struct {
	Frames    uint64 `json:"frames"`
	Scheduled uint64 `json:"scheduled"`
	Sent      uint64 `json:"sent"`
	Failed    uint64 `json:"failed"`
}

// Exporter ships sampled frames to a remote sink. Each export runs on its own
// goroutine; failures are logged and dropped, nothing is retried and nothing is
// reported back to the caller.
type Exporter struct {
	client    *http.Client
	timeout   time.Duration
	interval  uint64
	sessionID string

	enabled  atomic.Bool
	endpoint atomic.Value // string

	total     atomic.Uint64 // never reset
	scheduled atomic.Uint64
	sent      atomic.Uint64
	failed    atomic.Uint64

	inflight sync.WaitGroup
}

// New creates an exporter
func New(cfg Config) *Exporter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	e := &Exporter{
		client:    &http.Client{Timeout: timeout},
		timeout:   timeout,
		interval:  uint64(interval),
		sessionID: uuid.NewString(),
	}
	e.enabled.Store(cfg.Enabled)
	e.endpoint.Store(cfg.Endpoint)
	return e
}

// ShouldExport applies the rate policy to a 1-based total frame count
func ShouldExport(count, interval uint64) bool {
	if interval == 0 {
		interval = DefaultInterval
	}
	return count == 1 || count%interval == 0
}

// MaybeExport counts the frame and, when the rate policy selects it, copies the
// pixels and sends them asynchronously. It returns true if an export was scheduled.
// With exporting disabled it does nothing.
func (e *Exporter) MaybeExport(buf *frame.PixelBuffer, fps int, processingTime time.Duration) bool {
	if !e.enabled.Load() || buf == nil {
		return false
	}

	count := e.total.Add(1)
	if !ShouldExport(count, e.interval) {
		return false
	}

	endpoint, _ := e.endpoint.Load().(string)
	if endpoint == "" {
		return false
	}

	sample := buf.Clone()
	e.scheduled.Add(1)
	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()
		if err := e.send(endpoint, sample, fps, processingTime); err != nil {
			e.failed.Add(1)
			logger.WithComponent("exporter").Debug().
				Err(err).
				Str("endpoint", endpoint).
				Uint64("frame", count).
				Msg("Frame export failed")
			return
		}
		e.sent.Add(1)
	}()
	return true
}

func (e *Exporter) send(endpoint string, sample *frame.PixelBuffer, fps int, processingTime time.Duration) error {
	body, err := EncodePayload(sample, fps, processingTime)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(SessionHeader, e.sessionID)

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post frame: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sink returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// EncodePayload renders the sample as PNG and wraps it in the sink's JSON body
func EncodePayload(sample *frame.PixelBuffer, fps int, processingTime time.Duration) ([]byte, error) {
	if !sample.Valid() {
		return nil, fmt.Errorf("invalid pixel buffer: %d pixels for %dx%d", len(sample.Pixels), sample.Width, sample.Height)
	}

	var img bytes.Buffer
	if err := png.Encode(&img, sample.ToRGBA()); err != nil {
		return nil, fmt.Errorf("failed to encode PNG: %w", err)
	}

	ms := float64(processingTime) / float64(time.Millisecond)
	payload := Payload{
		Image:          DataURLPrefix + base64.StdEncoding.EncodeToString(img.Bytes()),
		Width:          sample.Width,
		Height:         sample.Height,
		FPS:            fps,
		ProcessingTime: math.Round(ms*100) / 100,
		Resolution:     Resolution{Width: sample.Width, Height: sample.Height},
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return data, nil
}

// SetEnabled turns exporting on or off
func (e *Exporter) SetEnabled(enabled bool) {
	e.enabled.Store(enabled)
}

// Enabled reports whether exporting is on
func (e *Exporter) Enabled() bool {
	return e.enabled.Load()
}

// SetEndpoint changes the sink URL for subsequent exports
func (e *Exporter) SetEndpoint(endpoint string) {
	e.endpoint.Store(endpoint)
}

// SessionID identifies this exporter to the sink
func (e *Exporter) SessionID() string {
	return e.sessionID
}

// Wait blocks until in-flight exports finish or ctx is done
func (e *Exporter) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a snapshot of the counters
func (e *Exporter) Stats() Stats {
	return Stats{
		Frames:    e.total.Load(),
		Scheduled: e.scheduled.Load(),
		Sent:      e.sent.Load(),
		Failed:    e.failed.Load(),
	}
}
