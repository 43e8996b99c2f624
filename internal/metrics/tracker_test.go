package metrics

import (
	"testing"
	"time"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestFifteenFramesInOneWindow(t *testing.T) {
	clock := &fakeClock{t: time.Unix(100, 0)}
	tr := NewTracker(WithClock(clock.now))

	start := clock.t
	for i := 1; i <= 15; i++ {
		clock.t = start.Add(time.Duration(i) * Window / 15)
		rolled := tr.Record(5*time.Millisecond, 640, 480)
		if i < 15 && rolled {
			t.Fatalf("window rolled early at frame %d", i)
		}
		if i == 15 && !rolled {
			t.Fatal("window should roll over on the 15th frame")
		}
	}

	if fps := tr.Snapshot().FPS; fps != 15 {
		t.Errorf("expected FPS 15, got %d", fps)
	}
	if n := tr.PendingFrames(); n != 0 {
		t.Errorf("counter should reset after reporting, got %d", n)
	}
}

func TestLatencyIsLastValueNotAverage(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	tr := NewTracker(WithClock(clock.now))

	tr.Record(10*time.Millisecond, 4, 2)
	tr.Record(2500*time.Microsecond, 4, 2)

	snap := tr.Snapshot()
	if snap.LastProcessingTimeMs != 2.5 {
		t.Errorf("expected 2.5ms, got %v", snap.LastProcessingTimeMs)
	}
	if snap.Width != 4 || snap.Height != 2 {
		t.Errorf("unexpected resolution %dx%d", snap.Width, snap.Height)
	}
	if snap.FPS != 0 {
		t.Errorf("FPS should not be reported before the first rollover, got %d", snap.FPS)
	}
}

func TestLongGapRollsWithFewFrames(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	tr := NewTracker(WithClock(clock.now))

	clock.advance(3 * time.Second)
	if !tr.Record(time.Millisecond, 2, 2) {
		t.Fatal("expected rollover after a long gap")
	}
	if fps := tr.Snapshot().FPS; fps != 1 {
		t.Errorf("expected FPS 1, got %d", fps)
	}
}

func TestSubscribersReceiveSnapshots(t *testing.T) {
	tr := NewTracker()
	ch := tr.Subscribe()

	tr.Record(time.Millisecond, 8, 6)
	select {
	case s := <-ch:
		if s.Width != 8 || s.Height != 6 {
			t.Errorf("unexpected snapshot %+v", s)
		}
	case <-time.After(time.Second):
		t.Fatal("no snapshot delivered")
	}

	tr.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after Unsubscribe")
	}
	// recording without subscribers must not block
	for i := 0; i < 100; i++ {
		tr.Record(time.Millisecond, 8, 6)
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	tr := NewTracker()
	_ = tr.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			tr.Record(time.Millisecond, 2, 2)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Record blocked on a full subscriber")
	}
}
