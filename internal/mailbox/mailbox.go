// Package mailbox provides the single-slot, latest-wins handoff between the
// capture worker and the render driver.
//
// There is no queue: Publish replaces whatever is pending and Drain takes it.
// The lock is held only for the pointer swap, never across conversion,
// GPU upload or network I/O.
package mailbox

import (
	"sync"

	"github.com/bryanchriswhite/EdgeViewer/internal/frame"
)

// Stats reports mailbox activity
type Stats struct {
	Published uint64 `json:"published"`
	Drained   uint64 `json:"drained"`
	Dropped   uint64 `json:"dropped"` // published buffers replaced before being drained
}

// Mailbox holds at most one unread PixelBuffer
type Mailbox struct {
	mu      sync.Mutex
	pending *frame.PixelBuffer

	published uint64
	drained   uint64
	dropped   uint64
}

// New creates an empty mailbox
func New() *Mailbox {
	return &Mailbox{}
}

// Publish makes buf the pending frame, discarding any unread one.
// The caller must not modify buf afterwards.
func (m *Mailbox) Publish(buf *frame.PixelBuffer) {
	if buf == nil {
		return
	}

	m.mu.Lock()
	if m.pending != nil {
		m.dropped++
	}
	m.pending = buf
	m.published++
	m.mu.Unlock()
}

// Drain returns the pending frame and empties the mailbox. ok is false when
// nothing was published since the last drain.
func (m *Mailbox) Drain() (buf *frame.PixelBuffer, ok bool) {
	m.mu.Lock()
	buf = m.pending
	m.pending = nil
	if buf != nil {
		m.drained++
	}
	m.mu.Unlock()

	return buf, buf != nil
}

// Pending reports whether an unread frame is waiting
func (m *Mailbox) Pending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending != nil
}

// Stats returns a snapshot of the counters
func (m *Mailbox) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{Published: m.published, Drained: m.drained, Dropped: m.dropped}
}
