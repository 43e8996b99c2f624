package mailbox

import (
	"sync"
	"testing"

	"github.com/bryanchriswhite/EdgeViewer/internal/frame"
)

func buffer(tag uint32) *frame.PixelBuffer {
	b := frame.NewPixelBuffer(2, 2)
	b.Pixels[0] = tag
	return b
}

func TestDrainEmpty(t *testing.T) {
	m := New()
	if buf, ok := m.Drain(); ok || buf != nil {
		t.Errorf("expected nothing from an empty mailbox, got %v", buf)
	}
}

func TestPublishThenDrainOnce(t *testing.T) {
	m := New()
	m.Publish(buffer(7))

	if !m.Pending() {
		t.Fatal("mailbox should be pending after publish")
	}
	buf, ok := m.Drain()
	if !ok || buf.Pixels[0] != 7 {
		t.Fatalf("expected published buffer, got %v", buf)
	}
	if _, ok := m.Drain(); ok {
		t.Error("second drain should return nothing")
	}
	if m.Pending() {
		t.Error("mailbox should be empty after drain")
	}
}

func TestLatestWins(t *testing.T) {
	m := New()
	m.Publish(buffer(1))
	m.Publish(buffer(2))

	buf, ok := m.Drain()
	if !ok || buf.Pixels[0] != 2 {
		t.Fatalf("expected second buffer, got %v", buf)
	}
	if _, ok := m.Drain(); ok {
		t.Error("first buffer must not be queued behind the second")
	}

	stats := m.Stats()
	if stats.Published != 2 || stats.Drained != 1 || stats.Dropped != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

// 100 publishes without a drain leave exactly the 100th buffer observable
func TestHundredPublishesOneDrain(t *testing.T) {
	m := New()
	for i := 1; i <= 100; i++ {
		m.Publish(buffer(uint32(i)))
	}

	buf, ok := m.Drain()
	if !ok || buf.Pixels[0] != 100 {
		t.Fatalf("expected the 100th buffer, got %v", buf)
	}
	if _, ok := m.Drain(); ok {
		t.Error("only one buffer should be observable")
	}
	if d := m.Stats().Dropped; d != 99 {
		t.Errorf("expected 99 dropped, got %d", d)
	}
}

func TestPublishNilIgnored(t *testing.T) {
	m := New()
	m.Publish(nil)
	if m.Pending() {
		t.Error("nil publish should be ignored")
	}
}

func TestConcurrentWriterReader(t *testing.T) {
	m := New()
	const frames = 2000

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 1; i <= frames; i++ {
			m.Publish(buffer(uint32(i)))
		}
	}()

	var last uint32
	go func() {
		defer wg.Done()
		for last != frames {
			if buf, ok := m.Drain(); ok {
				if buf.Pixels[0] <= last {
					t.Errorf("drained %d after %d", buf.Pixels[0], last)
					return
				}
				last = buf.Pixels[0]
			}
		}
	}()
	wg.Wait()

	stats := m.Stats()
	if stats.Published != frames {
		t.Errorf("expected %d published, got %d", frames, stats.Published)
	}
	if stats.Drained+stats.Dropped != frames {
		t.Errorf("drained+dropped = %d, expected %d", stats.Drained+stats.Dropped, frames)
	}
}
