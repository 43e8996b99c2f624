package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bryanchriswhite/EdgeViewer/internal/export"
	"github.com/bryanchriswhite/EdgeViewer/internal/frame"
)

func samplePayload(t *testing.T) []byte {
	t.Helper()
	buf := frame.NewPixelBuffer(4, 2)
	for i := range buf.Pixels {
		buf.Pixels[i] = 0xFF00FF00
	}
	body, err := export.EncodePayload(buf, 30, 2500*time.Microsecond)
	if err != nil {
		t.Fatal(err)
	}
	return body
}

func TestGetBeforeAnyFrame(t *testing.T) {
	s := NewServer()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/frame", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}
	var body map[string]string
	json.NewDecoder(rec.Body).Decode(&body)
	if body["error"] != "No frame available" {
		t.Errorf("unexpected body %v", body)
	}
}

func TestPostThenGet(t *testing.T) {
	s := NewServer()
	payload := samplePayload(t)

	req := httptest.NewRequest(http.MethodPost, "/api/frame", bytes.NewReader(payload))
	req.Header.Set(export.SessionHeader, "session-1")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != `{"success":true}` {
		t.Fatalf("unexpected POST response %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/frame", nil))
	if !bytes.Equal(rec.Body.Bytes(), payload) {
		t.Error("GET should return the posted body unchanged")
	}

	st := s.Stats()
	if st.Received != 1 || st.Latest == nil || st.Latest.Width != 4 || st.Latest.SessionID != "session-1" {
		t.Errorf("unexpected stats %+v", st)
	}
}

func TestInvalidJSON(t *testing.T) {
	s := NewServer()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/frame", strings.NewReader("{nope")))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var body map[string]string
	json.NewDecoder(rec.Body).Decode(&body)
	if body["error"] != "Invalid JSON" {
		t.Errorf("unexpected body %v", body)
	}
	if _, _, ok := s.Latest(); ok {
		t.Error("invalid frame must not be stored")
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, io.ErrUnexpectedEOF
}

func TestPostReadErrors(t *testing.T) {
	tests := []struct {
		name string
		body io.Reader
		code int
	}{
		{"oversized", io.LimitReader(zeroReader{}, MaxFrameBytes+1), http.StatusRequestEntityTooLarge},
		{"truncated", failingReader{}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer()
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/frame", tt.body))
			if rec.Code != tt.code {
				t.Errorf("expected %d, got %d", tt.code, rec.Code)
			}
			if st := s.Stats(); st.Rejected != 1 || st.Received != 0 {
				t.Errorf("unexpected stats %+v", st)
			}
		})
	}
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

func TestFrameStreamPushesPostedFrames(t *testing.T) {
	s := NewServer()
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/frame/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	deadline := time.Now().Add(5 * time.Second)
	for s.Stats().Viewers == 0 {
		if time.Now().After(deadline) {
			t.Fatal("viewer never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	payload := samplePayload(t)
	resp, err := http.Post(srv.URL+"/api/frame", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	var p export.Payload
	if err := json.Unmarshal(msg, &p); err != nil {
		t.Fatal(err)
	}
	if p.Width != 4 || p.Height != 2 || p.FPS != 30 || !strings.HasPrefix(p.Image, export.DataURLPrefix) {
		t.Errorf("unexpected pushed frame %+v", p)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Shutdown(ctx)
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("expected a going-away close, got %v", err)
	}
}
