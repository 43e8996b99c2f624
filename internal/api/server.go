package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/bryanchriswhite/EdgeViewer/internal/config"
	"github.com/bryanchriswhite/EdgeViewer/internal/export"
	"github.com/bryanchriswhite/EdgeViewer/internal/logger"
	"github.com/bryanchriswhite/EdgeViewer/internal/mailbox"
	"github.com/bryanchriswhite/EdgeViewer/internal/metrics"
	"github.com/bryanchriswhite/EdgeViewer/internal/output"
	"github.com/bryanchriswhite/EdgeViewer/internal/pipeline"
	"github.com/bryanchriswhite/EdgeViewer/internal/processing"
	"github.com/bryanchriswhite/EdgeViewer/internal/render"
)

const Version = "0.1.0"

// Components are the running parts the API controls and reports on. Driver,
// Exporter, Config and Stream are optional.
type Components struct {
	Pipeline *pipeline.Pipeline
	Gateway  *processing.Gateway
	Mailbox  *mailbox.Mailbox
	Renderer *render.Renderer
	Driver   *render.Driver
	Tracker  *metrics.Tracker
	Exporter *export.Exporter
	Config   *config.Manager
	Stream   *output.MJPEGOutput

	// SourceName is the active capture source
	SourceName string
}

// Server represents the HTTP API server
type Server struct {
	router     *mux.Router
	c          Components
	upgrader   websocket.Upgrader
	srvMu      sync.Mutex
	httpServer *http.Server
	closed     bool
}

// NewServer creates a new API server
func NewServer(c Components) *Server {
	s := &Server{
		router: mux.NewRouter(),
		c:      c,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // the viewer may be opened from another host
			},
		},
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/status", s.handleStatus).Methods("GET")

	// Telemetry
	api.HandleFunc("/metrics", s.handleMetrics).Methods("GET")
	api.HandleFunc("/metrics/stream", s.handleMetricsStream)

	// User controls
	api.HandleFunc("/processing/toggle", s.handleToggleProcessing).Methods("POST")
	api.HandleFunc("/processing", s.handleSetProcessing).Methods("PUT")
	api.HandleFunc("/effect/cycle", s.handleCycleEffect).Methods("POST")
	api.HandleFunc("/effect", s.handleSetEffect).Methods("PUT")
	api.HandleFunc("/render/pause", s.handlePause).Methods("POST")
	api.HandleFunc("/render/resume", s.handleResume).Methods("POST")

	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")

	if s.c.Stream != nil {
		s.router.HandleFunc("/stream", s.c.Stream.GetHTTPHandler()).Methods("GET")
		s.router.HandleFunc("/stats", s.c.Stream.GetStatsHandler()).Methods("GET")
	}
	s.router.HandleFunc("/", s.handleIndex).Methods("GET")
}

// Handler returns the routed handler with CORS applied
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
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
	logger.WithComponent("api").Info().Int("port", port).Msg("Starting server")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	s.srvMu.Lock()
	s.closed = true
	srv := s.httpServer
	s.srvMu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithComponent("api").Debug().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Status is the /api/status document
type Status struct {
	Source             string              `json:"source"`
	Processor          string              `json:"processor"`
	ProcessorAvailable bool                `json:"processorAvailable"`
	ProcessingEnabled  bool                `json:"processingEnabled"`
	ProcessingLabel    string              `json:"processingLabel"`
	Effect             string              `json:"effect"`
	EffectMode         int32               `json:"effectMode"`
	RenderMode         string              `json:"renderMode,omitempty"`
	Paused             bool                `json:"paused"`
	FramesPresented    uint64              `json:"framesPresented"`
	Metrics            metrics.Snapshot    `json:"metrics"`
	Pipeline           pipeline.Stats      `json:"pipeline"`
	Renderer           render.Stats        `json:"renderer"`
	Mailbox            mailbox.Stats       `json:"mailbox"`
	Anomalies          uint64              `json:"anomalies"`
	ProcessorFailures  uint64              `json:"processorFailures"`
	Export             *ExportStatus       `json:"export,omitempty"`
	Stream             *output.StreamStats `json:"stream,omitempty"`
}

// ExportStatus reports the frame exporter
type ExportStatus struct {
	Enabled   bool         `json:"enabled"`
	SessionID string       `json:"sessionId"`
	Stats     export.Stats `json:"stats"`
}

// ProcessingLabel is the toggle caption
func ProcessingLabel(enabled bool) string {
	if enabled {
		return "Edge Detection ON"
	}
	return "Edge Detection OFF"
}

// Status collects the current state of every component
func (s *Server) Status() Status {
	effect := s.c.Renderer.Effect()
	enabled := s.c.Pipeline.ProcessingEnabled()
	st := Status{
		Source:             s.c.SourceName,
		Processor:          s.c.Gateway.ProcessorName(),
		ProcessorAvailable: s.c.Gateway.Available(),
		ProcessingEnabled:  enabled,
		ProcessingLabel:    ProcessingLabel(enabled),
		Effect:             effect.String(),
		EffectMode:         int32(effect),
		Metrics:            s.c.Tracker.Snapshot(),
		Pipeline:           s.c.Pipeline.Stats(),
		Renderer:           s.c.Renderer.Stats(),
	}
	st.Anomalies, st.ProcessorFailures = s.c.Gateway.Stats()
	if s.c.Mailbox != nil {
		st.Mailbox = s.c.Mailbox.Stats()
	}
	if s.c.Driver != nil {
		st.RenderMode = string(s.c.Driver.Mode())
		st.Paused = s.c.Driver.Paused()
		st.FramesPresented = s.c.Driver.FramesPresented()
	}
	if s.c.Exporter != nil {
		st.Export = &ExportStatus{
			Enabled:   s.c.Exporter.Enabled(),
			SessionID: s.c.Exporter.SessionID(),
			Stats:     s.c.Exporter.Stats(),
		}
	}
	if s.c.Stream != nil {
		ss := s.c.Stream.Stats()
		st.Stream = &ss
	}
	return st
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": Version,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Status())
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.c.Tracker.Snapshot())
}

// handleMetricsStream pushes a snapshot after every processed frame
func (s *Server) handleMetricsStream(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade error")
		return
	}
	defer conn.Close()

	updates := s.c.Tracker.Subscribe()
	defer s.c.Tracker.Unsubscribe(updates)

	// the read loop only notices the client going away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := conn.WriteJSON(s.c.Tracker.Snapshot()); err != nil {
		log.Debug().Err(err).Msg("WebSocket write error")
		return
	}

	for {
		select {
		case <-closed:
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(snap); err != nil {
				log.Debug().Err(err).Msg("WebSocket write error")
				return
			}
		}
	}
}

type processingResponse struct {
	Enabled bool   `json:"enabled"`
	Label   string `json:"label"`
}

func (s *Server) handleToggleProcessing(w http.ResponseWriter, r *http.Request) {
	enabled := s.c.Pipeline.ToggleProcessing()
	writeJSON(w, http.StatusOK, processingResponse{Enabled: enabled, Label: ProcessingLabel(enabled)})
}

func (s *Server) handleSetProcessing(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		writeError(w, http.StatusBadRequest, `expected {"enabled": true|false}`)
		return
	}
	s.c.Pipeline.SetProcessingEnabled(*req.Enabled)
	writeJSON(w, http.StatusOK, processingResponse{Enabled: *req.Enabled, Label: ProcessingLabel(*req.Enabled)})
}

type effectResponse struct {
	Effect string `json:"effect"`
	Mode   int32  `json:"mode"`
}

func (s *Server) handleCycleEffect(w http.ResponseWriter, r *http.Request) {
	m := s.c.Renderer.CycleEffect()
	writeJSON(w, http.StatusOK, effectResponse{Effect: m.String(), Mode: int32(m)})
}

// handleSetEffect accepts {"effect": "invert"} or {"effect": 2}
func (s *Server) handleSetEffect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Effect json.RawMessage `json:"effect"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Effect) == 0 {
		writeError(w, http.StatusBadRequest, `expected {"effect": name or number}`)
		return
	}

	var name string
	if err := json.Unmarshal(req.Effect, &name); err != nil {
		var n int
		if err := json.Unmarshal(req.Effect, &n); err != nil {
			writeError(w, http.StatusBadRequest, "effect must be a name or a number")
			return
		}
		name = strconv.Itoa(n)
	}

	m, err := render.ParseEffect(name)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.c.Renderer.SetEffect(m)
	writeJSON(w, http.StatusOK, effectResponse{Effect: m.String(), Mode: int32(m)})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if s.c.Driver == nil {
		writeError(w, http.StatusServiceUnavailable, "renderer not running")
		return
	}
	s.c.Driver.Pause()
	writeJSON(w, http.StatusOK, map[string]bool{"paused": true})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if s.c.Driver == nil {
		writeError(w, http.StatusServiceUnavailable, "renderer not running")
		return
	}
	s.c.Driver.Resume()
	writeJSON(w, http.StatusOK, map[string]bool{"paused": false})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if s.c.Config == nil {
		writeError(w, http.StatusNotFound, "no configuration loaded")
		return
	}
	writeJSON(w, http.StatusOK, s.c.Config.Get())
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	data := viewerData{
		Status:    s.Status(),
		HasStream: s.c.Stream != nil,
	}
	if err := viewerPage.Execute(w, data); err != nil {
		logger.WithComponent("api").Debug().Err(err).Msg("Failed to write viewer page")
	}
}
