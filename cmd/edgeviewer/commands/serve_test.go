package commands

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bryanchriswhite/EdgeViewer/internal/api"
	"github.com/bryanchriswhite/EdgeViewer/internal/config"
	"github.com/bryanchriswhite/EdgeViewer/internal/frame"
)

func degradedConfig() *config.Config {
	cfg := config.Defaults()
	cfg.ServerPort = 0
	cfg.Capture.Source = "v4l2"
	cfg.Capture.Device = "/dev/video_missing"
	cfg.Processing.Backend = "passthrough"
	cfg.Render.RefreshHz = 100
	cfg.Render.Width, cfg.Render.Height = 64, 48
	return cfg
}

// stubSource fails to start, or ends right away when startErr is nil
type stubSource struct {
	startErr error
	started  chan struct{}
	frames   chan *frame.RawFrame
}

func newStubSource(startErr error) *stubSource {
	return &stubSource{
		startErr: startErr,
		started:  make(chan struct{}),
		frames:   make(chan *frame.RawFrame),
	}
}

func (s *stubSource) Name() string      { return "stub" }
func (s *stubSource) IsAvailable() bool { return true }
func (s *stubSource) Stop() error       { return nil }

func (s *stubSource) Frames() <-chan *frame.RawFrame { return s.frames }

func (s *stubSource) Start(ctx context.Context) error {
	close(s.started)
	if s.startErr != nil {
		return s.startErr
	}
	close(s.frames)
	return nil
}

func startApp(t *testing.T, a *app) (cancel func(), done chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done = make(chan error, 1)
	go func() { done <- a.run(ctx) }()
	return cancel, done
}

func waitForFrames(t *testing.T, a *app, n uint64) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for a.driver.FramesPresented() < n {
		if time.Now().After(deadline) {
			t.Fatalf("render driver presented %d frames, want %d", a.driver.FramesPresented(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func stopApp(t *testing.T, cancel func(), done chan error) {
	t.Helper()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run returned %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}

func TestMissingCameraKeepsServing(t *testing.T) {
	a, err := newApp(degradedConfig(), nil)
	if err != nil {
		t.Fatalf("newApp failed without a camera: %v", err)
	}
	defer a.close()
	if a.src != nil {
		t.Fatalf("expected no capture source, got %s", a.src.Name())
	}

	cancel, done := startApp(t, a)
	waitForFrames(t, a, 3)

	select {
	case err := <-done:
		t.Fatalf("run exited while degraded: %v", err)
	default:
	}

	rec := httptest.NewRecorder()
	a.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: expected 200, got %d", rec.Code)
	}
	var st api.Status
	if err := json.NewDecoder(rec.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.Source != "none" {
		t.Errorf("expected source none, got %q", st.Source)
	}
	if !a.mjpeg.IsRunning() {
		t.Error("MJPEG output should stay up")
	}

	stopApp(t, cancel, done)
}

func TestCaptureFailureKeepsServing(t *testing.T) {
	tests := []struct {
		name string
		src  *stubSource
	}{
		{"start fails", newStubSource(errors.New("device busy"))},
		{"source ends", newStubSource(nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := newApp(degradedConfig(), nil)
			if err != nil {
				t.Fatal(err)
			}
			defer a.close()
			a.src = tt.src

			cancel, done := startApp(t, a)
			select {
			case <-tt.src.started:
			case <-time.After(5 * time.Second):
				t.Fatal("source never started")
			}

			// the driver keeps ticking after capture gave up
			before := a.driver.FramesPresented()
			waitForFrames(t, a, before+3)

			select {
			case err := <-done:
				t.Fatalf("run exited after capture failure: %v", err)
			default:
			}

			rec := httptest.NewRecorder()
			a.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
			if rec.Code != http.StatusOK {
				t.Errorf("health: expected 200, got %d", rec.Code)
			}

			stopApp(t, cancel, done)
		})
	}
}
