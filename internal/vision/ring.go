package vision

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// FrameRing is a fixed-capacity ring of recent frames. A single
// capture goroutine pushes; any number of cursors read independently.
// Push never blocks and never fails: when the ring is full the oldest
// frame is overwritten, and slow cursors detect the lap on their next
// read and jump forward to the oldest surviving frame.
//
// Sequence numbers are assigned by the ring at push time and are
// strictly increasing for the life of the ring.
type FrameRing struct {
	mu      sync.RWMutex
	slots   []*Frame
	nextSeq uint64 // seq to assign on the next Push
	count   int    // populated slots, <= len(slots)
	closed  bool

	pushed  atomic.Uint64
	dropped atomic.Uint64

	cursorMu sync.Mutex
	cursors  []*Cursor
}

// NewFrameRing returns a ring holding at most capacity frames.
func NewFrameRing(capacity int) (*FrameRing, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("ring capacity must be positive, got %d", capacity)
	}
	return &FrameRing{slots: make([]*Frame, capacity)}, nil
}

// Push stores a frame, assigns its sequence number, and returns it
// along with whether an older frame was overwritten. Push is safe to
// call from exactly one goroutine.
func (r *FrameRing) Push(f *Frame) (seq uint64, droppedOldest bool) {
	r.mu.Lock()
	seq = r.nextSeq
	f.Seq = seq
	r.nextSeq++
	if r.count == len(r.slots) {
		droppedOldest = true
	} else {
		r.count++
	}
	r.slots[seq%uint64(len(r.slots))] = f
	r.mu.Unlock()

	r.pushed.Add(1)
	if droppedOldest {
		r.dropped.Add(1)
	}
	return seq, droppedOldest
}

// Close marks the ring closed. Cursors drain what remains and then
// report closure through Next's second return value staying false.
func (r *FrameRing) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

// Closed reports whether Close has been called.
func (r *FrameRing) Closed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

// oldestLocked returns the sequence of the oldest frame still held.
// Caller holds r.mu.
func (r *FrameRing) oldestLocked() uint64 {
	return r.nextSeq - uint64(r.count)
}

// Latest returns the most recently pushed frame, or nil when empty.
func (r *FrameRing) Latest() *Frame {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.count == 0 {
		return nil
	}
	return r.slots[(r.nextSeq-1)%uint64(len(r.slots))]
}

// Range returns the held frames with from <= Seq <= to, oldest first.
// Sequences that have been overwritten or not yet pushed are silently
// clipped, so the result may be shorter than requested or empty.
func (r *FrameRing) Range(from, to uint64) []*Frame {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.count == 0 || to < from {
		return nil
	}
	oldest := r.oldestLocked()
	newest := r.nextSeq - 1
	if from < oldest {
		from = oldest
	}
	if to > newest {
		to = newest
	}
	if to < from {
		return nil
	}
	out := make([]*Frame, 0, to-from+1)
	for seq := from; seq <= to; seq++ {
		out = append(out, r.slots[seq%uint64(len(r.slots))])
	}
	return out
}

// Snapshot returns every held frame, oldest first.
func (r *FrameRing) Snapshot() []*Frame {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.count == 0 {
		return nil
	}
	oldest := r.oldestLocked()
	out := make([]*Frame, 0, r.count)
	for seq := oldest; seq < r.nextSeq; seq++ {
		out = append(out, r.slots[seq%uint64(len(r.slots))])
	}
	return out
}

// RingStats is a point-in-time snapshot of ring and cursor state.
type RingStats struct {
	Capacity  int           `json:"capacity"`
	Len       int           `json:"len"`
	Pushed    uint64        `json:"pushed"`
	Dropped   uint64        `json:"dropped"`
	OldestSeq uint64        `json:"oldest_seq"`
	NewestSeq uint64        `json:"newest_seq"`
	Cursors   []CursorStats `json:"cursors,omitempty"`
}

// CursorStats describes one subscriber's progress through the ring.
type CursorStats struct {
	Name    string `json:"name"`
	Read    uint64 `json:"read"`
	Skipped uint64 `json:"skipped"`
	Lag     uint64 `json:"lag"`
}

// Stats returns current ring and per-cursor counters.
func (r *FrameRing) Stats() RingStats {
	r.mu.RLock()
	s := RingStats{
		Capacity: len(r.slots),
		Len:      r.count,
		Pushed:   r.pushed.Load(),
		Dropped:  r.dropped.Load(),
	}
	if r.count > 0 {
		s.OldestSeq = r.oldestLocked()
		s.NewestSeq = r.nextSeq - 1
	}
	next := r.nextSeq
	r.mu.RUnlock()

	r.cursorMu.Lock()
	for _, c := range r.cursors {
		pos := c.pos.Load()
		cs := CursorStats{
			Name:    c.name,
			Read:    c.read.Load(),
			Skipped: c.skipped.Load(),
		}
		if next > pos {
			cs.Lag = next - pos
		}
		s.Cursors = append(s.Cursors, cs)
	}
	r.cursorMu.Unlock()
	return s
}

// Cursor is one subscriber's read position. A cursor belongs to a
// single consumer goroutine; only its counters are safe to read from
// elsewhere (via RingStats).
type Cursor struct {
	ring *FrameRing
	name string

	pos     atomic.Uint64 // next seq to read
	read    atomic.Uint64
	skipped atomic.Uint64
}

// Subscribe registers a named cursor positioned after the newest frame
// already held, so the first Next returns the first frame pushed from
// now on.
func (r *FrameRing) Subscribe(name string) *Cursor {
	r.mu.RLock()
	start := r.nextSeq
	r.mu.RUnlock()

	c := &Cursor{ring: r, name: name}
	c.pos.Store(start)

	r.cursorMu.Lock()
	r.cursors = append(r.cursors, c)
	r.cursorMu.Unlock()
	return c
}

// Unsubscribe removes a cursor from stats tracking. The cursor itself
// stays readable; it just stops appearing in RingStats.
func (r *FrameRing) Unsubscribe(c *Cursor) {
	r.cursorMu.Lock()
	for i, cur := range r.cursors {
		if cur == c {
			r.cursors = append(r.cursors[:i], r.cursors[i+1:]...)
			break
		}
	}
	r.cursorMu.Unlock()
}

// Next returns the next unread frame, or (nil, false) when the cursor
// has caught up with the writer. When the writer has lapped this
// cursor, the overwritten frames are skipped, counted, and the oldest
// surviving frame is returned instead.
func (c *Cursor) Next() (*Frame, bool) {
	r := c.ring
	r.mu.RLock()
	defer r.mu.RUnlock()

	pos := c.pos.Load()
	if pos >= r.nextSeq {
		return nil, false
	}
	if oldest := r.oldestLocked(); pos < oldest {
		c.skipped.Add(oldest - pos)
		pos = oldest
	}
	f := r.slots[pos%uint64(len(r.slots))]
	c.pos.Store(pos + 1)
	c.read.Add(1)
	return f, true
}

// Skipped returns the cumulative count of frames this cursor missed
// because the writer lapped it.
func (c *Cursor) Skipped() uint64 {
	return c.skipped.Load()
}

// Name returns the subscriber name given at Subscribe time.
func (c *Cursor) Name() string {
	return c.name
}
