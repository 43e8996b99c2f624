package output

import (
	"bytes"
	"fmt"
	"html/template"
	"image"
	"image/jpeg"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/EdgeViewer/internal/logger"
)

const DefaultQuality = 90

// MJPEGOutput serves rendered frames as a multipart/x-mixed-replace stream.
// Frames are only JPEG-encoded while at least one client is connected.
type MJPEGOutput struct {
	config  Config
	running bool
	mu      sync.RWMutex

	lastMu     sync.RWMutex
	lastJPEG   []byte
	lastUpdate time.Time

	clientsMu sync.RWMutex
	clients   map[chan []byte]struct{}

	frameCount atomic.Uint64
	encoded    atomic.Uint64
	startTime  time.Time
}

// NewMJPEGOutput creates a new MJPEG stream output
func NewMJPEGOutput(config Config) *MJPEGOutput {
	if config.Quality <= 0 || config.Quality > 100 {
		config.Quality = DefaultQuality
	}
	return &MJPEGOutput{
		config:  config,
		clients: make(map[chan []byte]struct{}),
	}
}

// Start marks the output live. The HTTP handlers are mounted separately.
func (m *MJPEGOutput) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("MJPEG output already running")
	}

	m.running = true
	m.startTime = time.Now()
	m.frameCount.Store(0)

	logger.WithComponent("mjpeg").Info().
		Int("width", m.config.Width).
		Int("height", m.config.Height).
		Int("quality", m.config.Quality).
		Msg("MJPEG output started")
	return nil
}

// Stop disconnects every client
func (m *MJPEGOutput) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}
	m.running = false

	m.clientsMu.Lock()
	for ch := range m.clients {
		close(ch)
	}
	m.clients = make(map[chan []byte]struct{})
	m.clientsMu.Unlock()

	logger.WithComponent("mjpeg").Info().Uint64("frames", m.frameCount.Load()).Msg("MJPEG output stopped")
	return nil
}

// Present encodes the frame and broadcasts it to connected clients. Slow
// clients skip frames instead of blocking the render driver.
func (m *MJPEGOutput) Present(frame *image.RGBA) error {
	if !m.IsRunning() {
		return fmt.Errorf("MJPEG output not running")
	}
	m.frameCount.Add(1)

	if m.ClientCount() == 0 {
		return nil
	}

	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, frame, &jpeg.Options{Quality: m.config.Quality}); err != nil {
		return fmt.Errorf("failed to encode JPEG: %w", err)
	}
	jpegData := buf.Bytes()
	m.encoded.Add(1)

	m.lastMu.Lock()
	m.lastJPEG = jpegData
	m.lastUpdate = time.Now()
	m.lastMu.Unlock()

	m.clientsMu.RLock()
	for ch := range m.clients {
		select {
		case ch <- jpegData:
		default:
		}
	}
	m.clientsMu.RUnlock()

	return nil
}

// Name returns the output type name
func (m *MJPEGOutput) Name() string {
	return "mjpeg"
}

// IsRunning returns true if the output is active
func (m *MJPEGOutput) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// ClientCount returns the number of connected stream clients
func (m *MJPEGOutput) ClientCount() int {
	m.clientsMu.RLock()
	defer m.clientsMu.RUnlock()
	return len(m.clients)
}

// FramesPresented returns the number of frames handed to the output
func (m *MJPEGOutput) FramesPresented() uint64 {
	return m.frameCount.Load()
}

// GetHTTPHandler returns the multipart stream handler
func (m *MJPEGOutput) GetHTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !m.IsRunning() {
			http.Error(w, "stream not running", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")
		w.Header().Set("Connection", "close")
		w.WriteHeader(http.StatusOK)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}

		frameChan := make(chan []byte, 2)

		m.clientsMu.Lock()
		m.clients[frameChan] = struct{}{}
		clientCount := len(m.clients)
		m.clientsMu.Unlock()

		log := logger.WithComponent("mjpeg")
		log.Info().Int("clients", clientCount).Msg("Stream client connected")

		defer func() {
			m.clientsMu.Lock()
			if _, ok := m.clients[frameChan]; ok {
				delete(m.clients, frameChan)
			}
			clientCount := len(m.clients)
			m.clientsMu.Unlock()
			log.Info().Int("clients", clientCount).Msg("Stream client disconnected")
		}()

		// the last frame goes out immediately so a paused renderer still shows something
		m.lastMu.RLock()
		last := m.lastJPEG
		m.lastMu.RUnlock()
		if last != nil {
			if err := writePart(w, last); err != nil {
				return
			}
		}

		for {
			select {
			case <-r.Context().Done():
				return
			case jpegData, ok := <-frameChan:
				if !ok {
					return
				}
				if err := writePart(w, jpegData); err != nil {
					return
				}
			}
		}
	}
}

func writePart(w http.ResponseWriter, jpegData []byte) error {
	if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(jpegData)); err != nil {
		return err
	}
	if _, err := w.Write(jpegData); err != nil {
		return err
	}
	if _, err := fmt.Fprint(w, "\r\n"); err != nil {
		return err
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

var statsPage = template.Must(template.New("stats").Parse(`<!DOCTYPE html>
<html>
<head>
    <title>EdgeViewer - Stream Stats</title>
    <style>
        body { font-family: monospace; padding: 20px; background: #1e1e1e; color: #d4d4d4; }
        .stat { margin: 10px 0; }
        .label { color: #569cd6; }
        .value { color: #4ec9b0; }
        .stopped { color: #ce9178; }
    </style>
</head>
<body>
    <h1>EdgeViewer Stream Stats</h1>
    <div class="stat"><span class="label">Status:</span> <span class="value{{if not .Running}} stopped{{end}}">{{if .Running}}Running{{else}}Stopped{{end}}</span></div>
    <div class="stat"><span class="label">Surface:</span> <span class="value">{{.Width}}x{{.Height}}</span></div>
    <div class="stat"><span class="label">Presented FPS:</span> <span class="value">{{printf "%.2f" .FPS}}</span></div>
    <div class="stat"><span class="label">Frames Presented:</span> <span class="value">{{.Frames}}</span></div>
    <div class="stat"><span class="label">Frames Encoded:</span> <span class="value">{{.Encoded}}</span></div>
    <div class="stat"><span class="label">Connected Clients:</span> <span class="value">{{.Clients}}</span></div>
    <div class="stat"><span class="label">Last Update:</span> <span class="value">{{.LastUpdate}}</span></div>
    <div class="stat"><span class="label">Uptime:</span> <span class="value">{{.Uptime}}</span></div>
    <p><a href="/" style="color: #569cd6;">Viewer</a> | <a href="/stream" style="color: #569cd6;">Raw Stream</a></p>
</body>
</html>`))

// StreamStats is what the stats page shows
type StreamStats struct {
	Running    bool
	Width      int
	Height     int
	FPS        float64
	Frames     uint64
	Encoded    uint64
	Clients    int
	LastUpdate string
	Uptime     string
}

// Stats collects the current stream statistics
func (m *MJPEGOutput) Stats() StreamStats {
	m.mu.RLock()
	running := m.running
	startTime := m.startTime
	m.mu.RUnlock()

	m.lastMu.RLock()
	lastUpdate := m.lastUpdate
	m.lastMu.RUnlock()

	s := StreamStats{
		Running:    running,
		Width:      m.config.Width,
		Height:     m.config.Height,
		Frames:     m.frameCount.Load(),
		Encoded:    m.encoded.Load(),
		Clients:    m.ClientCount(),
		LastUpdate: "Never",
		Uptime:     "N/A",
	}
	if running && !startTime.IsZero() {
		if elapsed := time.Since(startTime).Seconds(); elapsed > 0 {
			s.FPS = float64(s.Frames) / elapsed
		}
		s.Uptime = time.Since(startTime).Round(time.Second).String()
	}
	if !lastUpdate.IsZero() {
		s.LastUpdate = time.Since(lastUpdate).Round(time.Millisecond).String() + " ago"
	}
	return s
}

// GetStatsHandler returns an HTTP handler that shows stream statistics
func (m *MJPEGOutput) GetStatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := statsPage.Execute(w, m.Stats()); err != nil {
			logger.WithComponent("mjpeg").Debug().Err(err).Msg("Failed to write stats page")
		}
	}
}
