package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bryanchriswhite/EdgeViewer/internal/mailbox"
	"github.com/bryanchriswhite/EdgeViewer/internal/metrics"
	"github.com/bryanchriswhite/EdgeViewer/internal/output"
	"github.com/bryanchriswhite/EdgeViewer/internal/pipeline"
	"github.com/bryanchriswhite/EdgeViewer/internal/processing"
	"github.com/bryanchriswhite/EdgeViewer/internal/render"
)

func newTestServer(t *testing.T) (*Server, Components) {
	t.Helper()
	mb := mailbox.New()
	gw := processing.NewGateway(processing.Passthrough{})
	tracker := metrics.NewTracker()
	c := Components{
		Pipeline:   pipeline.New(gw, mb, tracker),
		Gateway:    gw,
		Mailbox:    mb,
		Renderer:   render.New(mb),
		Tracker:    tracker,
		Stream:     output.NewMJPEGOutput(output.Config{Width: 64, Height: 48}),
		SourceName: "pattern",
	}
	return NewServer(c), c
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/api/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	decode(t, rec, &body)
	if body["status"] != "healthy" {
		t.Errorf("unexpected health %v", body)
	}
}

func TestToggleProcessing(t *testing.T) {
	s, c := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/processing/toggle", "")
	var resp processingResponse
	decode(t, rec, &resp)
	if resp.Enabled || resp.Label != "Edge Detection OFF" {
		t.Errorf("unexpected toggle response %+v", resp)
	}
	if c.Pipeline.ProcessingEnabled() {
		t.Error("pipeline flag not flipped")
	}

	rec = do(t, s, http.MethodPut, "/api/processing", `{"enabled": true}`)
	decode(t, rec, &resp)
	if !resp.Enabled || !c.Pipeline.ProcessingEnabled() {
		t.Errorf("PUT did not enable processing: %+v", resp)
	}

	for _, body := range []string{`{}`, `not json`, `{"enabled": "yes"}`} {
		if rec := do(t, s, http.MethodPut, "/api/processing", body); rec.Code != http.StatusBadRequest {
			t.Errorf("body %s: expected 400, got %d", body, rec.Code)
		}
	}
}

func TestEffectControls(t *testing.T) {
	s, c := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/effect/cycle", "")
	var resp effectResponse
	decode(t, rec, &resp)
	if resp.Effect != "Grayscale" || resp.Mode != 1 {
		t.Errorf("unexpected cycle response %+v", resp)
	}

	tests := []struct {
		body string
		code int
		want render.EffectMode
	}{
		{`{"effect": "invert"}`, http.StatusOK, render.EffectInvert},
		{`{"effect": 0}`, http.StatusOK, render.EffectNormal},
		{`{"effect": "Grayscale"}`, http.StatusOK, render.EffectGrayscale},
		{`{"effect": "sepia"}`, http.StatusBadRequest, render.EffectGrayscale},
		{`{"effect": 7}`, http.StatusBadRequest, render.EffectGrayscale},
		{`{}`, http.StatusBadRequest, render.EffectGrayscale},
	}
	for _, tt := range tests {
		rec := do(t, s, http.MethodPut, "/api/effect", tt.body)
		if rec.Code != tt.code {
			t.Errorf("%s: expected %d, got %d", tt.body, tt.code, rec.Code)
		}
		if got := c.Renderer.Effect(); got != tt.want {
			t.Errorf("%s: expected effect %v, got %v", tt.body, tt.want, got)
		}
	}
}

func TestStatusAndMetrics(t *testing.T) {
	s, c := newTestServer(t)
	c.Tracker.Record(2500*time.Microsecond, 640, 480)

	var st Status
	decode(t, do(t, s, http.MethodGet, "/api/status", ""), &st)
	if st.Source != "pattern" || st.Processor != "passthrough" || !st.ProcessorAvailable {
		t.Errorf("unexpected status %+v", st)
	}
	if st.Effect != "Normal" || !st.ProcessingEnabled || st.Stream == nil {
		t.Errorf("unexpected status %+v", st)
	}

	var snap metrics.Snapshot
	decode(t, do(t, s, http.MethodGet, "/api/metrics", ""), &snap)
	if snap.Width != 640 || snap.Height != 480 || snap.LastProcessingTimeMs != 2.5 {
		t.Errorf("unexpected metrics %+v", snap)
	}
}

func TestRenderControlsNeedDriver(t *testing.T) {
	s, _ := newTestServer(t)
	if rec := do(t, s, http.MethodPost, "/api/render/pause", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 without a driver, got %d", rec.Code)
	}
	if rec := do(t, s, http.MethodGet, "/api/config", ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 without a config manager, got %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodOptions, "/api/effect", "")
	if rec.Code != http.StatusOK || rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("unexpected preflight response %d %v", rec.Code, rec.Header())
	}
}

func TestViewerPage(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/", "")
	body := rec.Body.String()
	for _, want := range []string{"Edge Detection ON", "Effect: Normal", `src="/stream"`, "FPS:"} {
		if !strings.Contains(body, want) {
			t.Errorf("viewer page missing %q", want)
		}
	}
}

func TestMetricsStream(t *testing.T) {
	s, c := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/metrics/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var snap metrics.Snapshot
	if err := conn.ReadJSON(&snap); err != nil {
		t.Fatal(err)
	}
	if snap.Width != 0 {
		t.Errorf("initial snapshot should be empty, got %+v", snap)
	}

	// the subscription is registered before the initial snapshot is written
	c.Tracker.Record(time.Millisecond, 320, 240)
	if err := conn.ReadJSON(&snap); err != nil {
		t.Fatal(err)
	}
	if snap.Width != 320 || snap.Height != 240 {
		t.Errorf("expected pushed snapshot, got %+v", snap)
	}
}
