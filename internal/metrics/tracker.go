package metrics

import (
	"sync"
	"time"
)

// Window is the FPS counting window
const Window = time.Second

// Snapshot is the current telemetry
type Snapshot struct {
	FPS                  int     `json:"fps"`
	LastProcessingTimeMs float64 `json:"lastProcessingTimeMs"`
	Width                int     `json:"width"`
	Height               int     `json:"height"`
}

// Tracker counts frames over a ~1s window and keeps the last processing latency.
// The window is sampled on Record calls, not by a timer, so a window closes on
// the first frame at or after 1000ms since the last reset.
type Tracker struct {
	mu          sync.RWMutex
	now         func() time.Time
	windowStart time.Time
	frameCount  int
	snapshot    Snapshot

	listenersMu sync.RWMutex
	listeners   []chan Snapshot
}

// Option configures a Tracker
type Option func(*Tracker)

// WithClock overrides the wall clock
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// NewTracker creates a tracker whose first window starts now
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	t.windowStart = t.now()
	return t
}

// Record accounts for one processed frame. It returns true when the FPS window
// rolled over on this frame.
func (t *Tracker) Record(latency time.Duration, width, height int) bool {
	t.mu.Lock()
	t.frameCount++
	t.snapshot.LastProcessingTimeMs = float64(latency) / float64(time.Millisecond)
	t.snapshot.Width = width
	t.snapshot.Height = height

	rolled := false
	now := t.now()
	if now.Sub(t.windowStart) >= Window {
		t.snapshot.FPS = t.frameCount
		t.frameCount = 0
		t.windowStart = now
		rolled = true
	}
	snap := t.snapshot
	t.mu.Unlock()

	t.notify(snap)
	return rolled
}

// Snapshot returns the current values
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshot
}

// PendingFrames returns frames counted in the open window
func (t *Tracker) PendingFrames() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.frameCount
}

// Subscribe returns a channel receiving a snapshot after every recorded frame.
// Slow subscribers miss updates rather than blocking the capture worker.
func (t *Tracker) Subscribe() chan Snapshot {
	ch := make(chan Snapshot, 8)
	t.listenersMu.Lock()
	t.listeners = append(t.listeners, ch)
	t.listenersMu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscription
func (t *Tracker) Unsubscribe(ch chan Snapshot) {
	t.listenersMu.Lock()
	defer t.listenersMu.Unlock()

	for i, listener := range t.listeners {
		if listener == ch {
			t.listeners = append(t.listeners[:i], t.listeners[i+1:]...)
			close(ch)
			break
		}
	}
}

func (t *Tracker) notify(s Snapshot) {
	t.listenersMu.RLock()
	defer t.listenersMu.RUnlock()

	for _, ch := range t.listeners {
		select {
		case ch <- s:
		default:
		}
	}
}
