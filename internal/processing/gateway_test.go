package processing

import (
	"errors"
	"testing"
	"time"

	"github.com/bryanchriswhite/EdgeViewer/internal/frame"
)

type stubProcessor struct {
	fill    uint32
	short   int
	err     error
	panics  bool
	calls   int
	lastFx  bool
	advance func()
}

func (s *stubProcessor) Name() string { return "stub" }

func (s *stubProcessor) Process(nv21 []byte, width, height int, enableEffect bool) ([]uint32, error) {
	s.calls++
	s.lastFx = enableEffect
	if s.advance != nil {
		s.advance()
	}
	if s.panics {
		panic("native crash")
	}
	if s.err != nil {
		return nil, s.err
	}
	out := make([]uint32, width*height-s.short)
	for i := range out {
		out[i] = s.fill
	}
	return out, nil
}

func packed(w, h int) *frame.PackedFrame {
	return &frame.PackedFrame{Data: make([]byte, frame.PackedSize(w, h)), Width: w, Height: h}
}

func TestGatewayMeasuresLatency(t *testing.T) {
	now := time.Unix(0, 0)
	stub := &stubProcessor{fill: 0xFF000000, advance: func() { now = now.Add(12 * time.Millisecond) }}
	g := NewGateway(stub, WithClock(func() time.Time { return now }))

	res, err := g.Process(packed(4, 2), true)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if res.Latency != 12*time.Millisecond {
		t.Errorf("expected 12ms latency, got %v", res.Latency)
	}
	if g.LastLatency() != 12*time.Millisecond {
		t.Errorf("LastLatency = %v", g.LastLatency())
	}
	if !stub.lastFx {
		t.Error("effect flag was not forwarded")
	}
	if len(res.Anomalies) != 0 {
		t.Errorf("expected no anomalies, got %v", res.Anomalies)
	}
	if !res.Buffer.Valid() {
		t.Error("expected a valid buffer")
	}
}

func TestGatewayFlagsAnomaliesButKeepsBuffer(t *testing.T) {
	g := NewGateway(&stubProcessor{fill: 0, short: 3}, WithProbePixels(4))

	res, err := g.Process(packed(4, 2), false)
	if err != nil {
		t.Fatalf("anomalies must not be fatal: %v", err)
	}
	if len(res.Buffer.Pixels) != 5 {
		t.Errorf("buffer should be kept as-is, got %d pixels", len(res.Buffer.Pixels))
	}
	want := map[Anomaly]bool{AnomalyLengthMismatch: true, AnomalyZeroPrefix: true}
	for _, a := range res.Anomalies {
		delete(want, a)
	}
	if len(want) != 0 {
		t.Errorf("missing anomalies %v in %v", want, res.Anomalies)
	}
	if a, _ := g.Stats(); a != 1 {
		t.Errorf("expected 1 anomalous frame, got %d", a)
	}
}

func TestGatewayContainsFailures(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name string
		p    *stubProcessor
	}{
		{"error", &stubProcessor{err: boom}},
		{"panic", &stubProcessor{panics: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGateway(tt.p)
			res, err := g.Process(packed(2, 2), true)
			if err == nil || res != nil {
				t.Fatalf("expected frame to be dropped, got res=%v err=%v", res, err)
			}
			if _, f := g.Stats(); f != 1 {
				t.Errorf("expected 1 failure, got %d", f)
			}
			// next frame still goes through
			tt.p.err, tt.p.panics = nil, false
			if _, err := g.Process(packed(2, 2), true); err != nil {
				t.Errorf("gateway should recover for the next frame: %v", err)
			}
		})
	}
}

func TestGatewayWithoutProcessor(t *testing.T) {
	g := NewGateway(nil)
	if g.Available() {
		t.Error("gateway without processor should not be available")
	}
	if _, err := g.Process(packed(2, 2), true); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
	if g.ProcessorName() != "none" {
		t.Errorf("unexpected name %q", g.ProcessorName())
	}
}

func TestPassthroughGray(t *testing.T) {
	// Y=126 with neutral chroma gives mid gray
	w, h := 2, 2
	buf := make([]byte, frame.PackedSize(w, h))
	for i := 0; i < w*h; i++ {
		buf[i] = 126
	}
	buf[4], buf[5] = 128, 128

	out, err := Passthrough{}.Process(buf, w, h, true)
	if err != nil {
		t.Fatal(err)
	}
	a, r, g, b := frame.UnpackARGB(out[0])
	if a != 255 || r != g || g != b || r < 125 || r > 129 {
		t.Errorf("expected opaque mid gray, got a=%d r=%d g=%d b=%d", a, r, g, b)
	}

	if _, err := (Passthrough{}).Process(buf[:3], w, h, false); err == nil {
		t.Error("expected error for short buffer")
	}
}

func TestNewBackend(t *testing.T) {
	p, err := New(BackendPassthrough)
	if err != nil || p.Name() != BackendPassthrough {
		t.Errorf("New(passthrough) = %v, %v", p, err)
	}
	if _, err := New("cuda"); err == nil {
		t.Error("expected error for unknown backend")
	}
}
