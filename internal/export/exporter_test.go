package export

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bryanchriswhite/EdgeViewer/internal/frame"
)

func TestRatePolicyFirstAndEveryFifth(t *testing.T) {
	var fired []uint64
	for count := uint64(1); count <= 12; count++ {
		if ShouldExport(count, 5) {
			fired = append(fired, count)
		}
	}
	want := []uint64{1, 5, 10}
	if len(fired) != len(want) {
		t.Fatalf("expected exports at %v, got %v", want, fired)
	}
	for i := range want {
		if fired[i] != want[i] {
			t.Fatalf("expected exports at %v, got %v", want, fired)
		}
	}
}

type recordingSink struct {
	mu       sync.Mutex
	payloads []Payload
	sessions []string
	status   int
}

func (s *recordingSink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var p Payload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.payloads = append(s.payloads, p)
	s.sessions = append(s.sessions, r.Header.Get(SessionHeader))
	status := s.status
	s.mu.Unlock()
	if status != 0 {
		w.WriteHeader(status)
		return
	}
	w.Write([]byte(`{"success":true}`))
}

func testBuffer(fill uint32) *frame.PixelBuffer {
	b := frame.NewPixelBuffer(4, 2)
	for i := range b.Pixels {
		b.Pixels[i] = fill
	}
	return b
}

func waitFor(t *testing.T, e *Exporter) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.Wait(ctx); err != nil {
		t.Fatalf("exports did not finish: %v", err)
	}
}

func TestExportsSampledFrames(t *testing.T) {
	sink := &recordingSink{}
	srv := httptest.NewServer(sink)
	defer srv.Close()

	e := New(Config{Enabled: true, Endpoint: srv.URL, Interval: 5})
	for i := 0; i < 12; i++ {
		e.MaybeExport(testBuffer(frame.PackARGB(255, 10, 20, 30)), 30, 4567*time.Microsecond)
	}
	waitFor(t, e)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.payloads) != 3 {
		t.Fatalf("expected 3 exports, got %d", len(sink.payloads))
	}

	p := sink.payloads[0]
	if p.Width != 4 || p.Height != 2 || p.Resolution.Width != 4 || p.Resolution.Height != 2 {
		t.Errorf("unexpected dimensions %+v", p)
	}
	if p.FPS != 30 {
		t.Errorf("expected fps 30, got %d", p.FPS)
	}
	if p.ProcessingTime != 4.57 {
		t.Errorf("expected processingTime 4.57, got %v", p.ProcessingTime)
	}
	if !strings.HasPrefix(p.Image, DataURLPrefix) {
		t.Fatalf("image is not a PNG data URL: %.40s", p.Image)
	}
	if sink.sessions[0] != e.SessionID() {
		t.Errorf("expected session header %q, got %q", e.SessionID(), sink.sessions[0])
	}

	stats := e.Stats()
	if stats.Frames != 12 || stats.Scheduled != 3 || stats.Sent != 3 || stats.Failed != 0 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestExportCopiesPixels(t *testing.T) {
	sink := &recordingSink{}
	srv := httptest.NewServer(sink)
	defer srv.Close()

	e := New(Config{Enabled: true, Endpoint: srv.URL})
	buf := testBuffer(frame.PackARGB(255, 200, 100, 50))
	if !e.MaybeExport(buf, 1, time.Millisecond) {
		t.Fatal("first frame should be exported")
	}
	// the next frame's work must not leak into the export
	for i := range buf.Pixels {
		buf.Pixels[i] = 0
	}
	waitFor(t, e)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(sink.payloads[0].Image, DataURLPrefix))
	if err != nil {
		t.Fatal(err)
	}
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	r, g, b, a := img.At(0, 0).RGBA()
	if r>>8 != 200 || g>>8 != 100 || b>>8 != 50 || a>>8 != 255 {
		t.Errorf("exported pixel = (%d,%d,%d,%d), expected (200,100,50,255)", r>>8, g>>8, b>>8, a>>8)
	}
}

func TestDisabledExporterIsNoop(t *testing.T) {
	e := New(Config{Enabled: false, Endpoint: "http://127.0.0.1:1"})
	for i := 0; i < 10; i++ {
		if e.MaybeExport(testBuffer(1), 1, 0) {
			t.Fatal("disabled exporter scheduled an export")
		}
	}
	if s := e.Stats(); s.Frames != 0 || s.Scheduled != 0 {
		t.Errorf("disabled exporter should not count frames, got %+v", s)
	}
	allocs := testing.AllocsPerRun(100, func() {
		e.MaybeExport(testBuffer(1), 1, 0)
	})
	// testBuffer itself allocates the buffer struct and pixel slice
	if allocs > 2 {
		t.Errorf("disabled MaybeExport allocated: %v allocs", allocs)
	}
}

func TestFailuresAreSwallowed(t *testing.T) {
	sink := &recordingSink{status: http.StatusInternalServerError}
	srv := httptest.NewServer(sink)
	defer srv.Close()

	e := New(Config{Enabled: true, Endpoint: srv.URL})
	e.MaybeExport(testBuffer(1), 1, 0)
	waitFor(t, e)
	if s := e.Stats(); s.Failed != 1 || s.Sent != 0 {
		t.Errorf("expected one failed export, got %+v", s)
	}

	// unreachable endpoint
	closed := httptest.NewServer(http.NotFoundHandler())
	url := closed.URL
	closed.Close()
	e.SetEndpoint(url)
	for i := 0; i < 4; i++ {
		e.MaybeExport(testBuffer(1), 1, 0)
	}
	waitFor(t, e)
	if s := e.Stats(); s.Failed != 2 {
		t.Errorf("expected two failed exports, got %+v", s)
	}
}

func TestSlowSinkTimesOut(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
		w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()
	defer close(release)

	const timeout = 50 * time.Millisecond
	e := New(Config{Enabled: true, Endpoint: srv.URL, Timeout: timeout})

	start := time.Now()
	if !e.MaybeExport(testBuffer(1), 1, 0) {
		t.Fatal("first frame should be exported")
	}
	if elapsed := time.Since(start); elapsed >= timeout {
		t.Errorf("MaybeExport blocked for %v", elapsed)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.Wait(ctx); err != nil {
		t.Fatalf("export still in flight long after the timeout: %v", err)
	}
	if s := e.Stats(); s.Failed != 1 || s.Sent != 0 {
		t.Errorf("expected one timed-out export, got %+v", s)
	}
}

func TestEncodePayloadRejectsInvalidBuffer(t *testing.T) {
	bad := &frame.PixelBuffer{Pixels: make([]uint32, 3), Width: 2, Height: 2}
	if _, err := EncodePayload(bad, 0, 0); err == nil {
		t.Error("expected error for a buffer with the wrong length")
	}
}
