// Package sink is the receiving end of the frame exporter: it keeps the most
// recent frame posted to it and serves it to viewers.
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/bryanchriswhite/EdgeViewer/internal/export"
	"github.com/bryanchriswhite/EdgeViewer/internal/logger"
)

// MaxFrameBytes bounds a posted frame body
const MaxFrameBytes = 32 << 20

// FrameInfo describes the latest received frame
type FrameInfo struct {
	Width          int       `json:"width"`
	Height         int       `json:"height"`
	FPS            int       `json:"fps"`
	ProcessingTime float64   `json:"processingTime"`
	SessionID      string    `json:"sessionId,omitempty"`
	ReceivedAt     time.Time `json:"receivedAt"`
}

// Server stores the latest frame and fans it out to websocket viewers
type Server struct {
	router     *mux.Router
	upgrader   websocket.Upgrader
	srvMu      sync.Mutex
	httpServer *http.Server
	closed     bool

	mu     sync.RWMutex
	latest []byte
	info   FrameInfo

	clientsMu sync.RWMutex
	clients   map[chan []byte]struct{}

	received atomic.Uint64
	rejected atomic.Uint64
}

// NewServer creates a sink with no frame
func NewServer() *Server {
	s := &Server{
		router:  mux.NewRouter(),
		clients: make(map[chan []byte]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	s.router.HandleFunc("/api/frame", s.handlePostFrame).Methods("POST")
	s.router.HandleFunc("/api/frame", s.handleGetFrame).Methods("GET")
	s.router.HandleFunc("/api/frame/stream", s.handleFrameStream)
	s.router.HandleFunc("/api/stats", s.handleStats).Methods("GET")
	s.router.HandleFunc("/", s.handleIndex).Methods("GET")
	return s
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves on port until Shutdown
func (s *Server) Start(port int) error {
	s.srvMu.Lock()
	if s.closed {
		s.srvMu.Unlock()
		return nil
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.httpServer = srv
	s.srvMu.Unlock()
	logger.WithComponent("sink").Info().Int("port", port).Msg("Frame sink listening")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server and disconnects viewers
func (s *Server) Shutdown(ctx context.Context) error {
	s.clientsMu.Lock()
	for ch := range s.clients {
		close(ch)
	}
	s.clients = make(map[chan []byte]struct{})
	s.clientsMu.Unlock()

	s.srvMu.Lock()
	s.closed = true
	srv := s.httpServer
	s.srvMu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Latest returns the last received frame body
func (s *Server) Latest() ([]byte, FrameInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.info, s.latest != nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handlePostFrame(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxFrameBytes))
	if err != nil {
		s.rejected.Add(1)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "Frame too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Failed to read frame"})
		return
	}

	var p export.Payload
	if err := json.Unmarshal(body, &p); err != nil {
		s.rejected.Add(1)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON"})
		return
	}

	info := FrameInfo{
		Width:          p.Width,
		Height:         p.Height,
		FPS:            p.FPS,
		ProcessingTime: p.ProcessingTime,
		SessionID:      r.Header.Get(export.SessionHeader),
		ReceivedAt:     time.Now(),
	}
	s.mu.Lock()
	s.latest = body
	s.info = info
	s.mu.Unlock()
	n := s.received.Add(1)

	logger.WithComponent("sink").Debug().
		Int("width", p.Width).
		Int("height", p.Height).
		Int("fps", p.FPS).
		Str("session", info.SessionID).
		Uint64("received", n).
		Msg("Received frame")

	s.broadcast(body)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleGetFrame(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	latest, _, ok := s.Latest()
	if !ok {
		writeJSON(w, http.StatusOK, map[string]string{"error": "No frame available"})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(latest)
}

// broadcast hands body to every viewer; a viewer still sending the previous
// frame gets this one instead of queueing both
func (s *Server) broadcast(body []byte) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for ch := range s.clients {
		select {
		case ch <- body:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- body:
		default:
		}
	}
}

func (s *Server) handleFrameStream(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("sink")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade error")
		return
	}
	defer conn.Close()

	ch := make(chan []byte, 1)
	s.clientsMu.Lock()
	s.clients[ch] = struct{}{}
	s.clientsMu.Unlock()
	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, ch)
		s.clientsMu.Unlock()
	}()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if latest, _, ok := s.Latest(); ok {
		if err := conn.WriteMessage(websocket.TextMessage, latest); err != nil {
			return
		}
	}

	for {
		select {
		case <-closed:
			return
		case body, ok := <-ch:
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "sink shutting down"))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, body); err != nil {
				log.Debug().Err(err).Msg("WebSocket write error")
				return
			}
		}
	}
}

// Stats is the /api/stats document
type Stats struct {
	Received uint64     `json:"received"`
	Rejected uint64     `json:"rejected"`
	Viewers  int        `json:"viewers"`
	Latest   *FrameInfo `json:"latest,omitempty"`
}

// Stats reports sink activity
func (s *Server) Stats() Stats {
	st := Stats{
		Received: s.received.Load(),
		Rejected: s.rejected.Load(),
	}
	s.clientsMu.RLock()
	st.Viewers = len(s.clients)
	s.clientsMu.RUnlock()
	if _, info, ok := s.Latest(); ok {
		st.Latest = &info
	}
	return st
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Stats())
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	io.WriteString(w, indexHTML)
}
