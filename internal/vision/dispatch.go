package vision

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrDispatcherClosed is returned by Subscription.NextWait after Close
// once the subscriber has drained every remaining frame.
var ErrDispatcherClosed = errors.New("dispatcher closed")

// Dispatcher fans frames out from the capture loop to pipeline
// subscribers. Each subscriber owns a ring cursor and a one-slot
// wakeup channel; Publish pushes into the ring and nudges every
// subscriber without ever blocking, so a stalled pipeline costs
// frames (counted on its cursor) but never stalls capture.
type Dispatcher struct {
	ring *FrameRing

	mu     sync.Mutex
	subs   []*Subscription
	closed bool

	published atomic.Uint64
}

// NewDispatcher wraps a ring for fan-out publishing.
func NewDispatcher(ring *FrameRing) *Dispatcher {
	return &Dispatcher{ring: ring}
}

// Ring exposes the underlying frame ring for direct range reads.
func (d *Dispatcher) Ring() *FrameRing {
	return d.ring
}

// Subscribe registers a named subscriber starting at the current tail.
func (d *Dispatcher) Subscribe(name string) *Subscription {
	s := &Subscription{
		d:      d,
		cursor: d.ring.Subscribe(name),
		notify: make(chan struct{}, 1),
	}
	d.mu.Lock()
	if d.closed {
		s.shut()
	} else {
		d.subs = append(d.subs, s)
	}
	d.mu.Unlock()
	return s
}

// Publish pushes a frame into the ring and wakes every subscriber.
// The wakeup is edge-triggered: a subscriber that is already awake and
// draining its cursor needs no further signal, so a full wakeup slot
// is simply skipped. Sends happen under the mutex so no wakeup can
// race a channel close from Close or Cancel.
func (d *Dispatcher) Publish(f *Frame) (seq uint64, droppedOldest bool) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return 0, false
	}
	seq, droppedOldest = d.ring.Push(f)
	for _, s := range d.subs {
		select {
		case s.notify <- struct{}{}:
		default:
		}
	}
	d.mu.Unlock()

	d.published.Add(1)
	return seq, droppedOldest
}

// Published returns the number of frames published so far.
func (d *Dispatcher) Published() uint64 {
	return d.published.Load()
}

// Close marks the ring closed and releases every blocked subscriber.
// Subscribers drain their cursors and then see ErrDispatcherClosed.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	subs := d.subs
	d.subs = nil
	d.ring.Close()
	for _, s := range subs {
		s.shut()
	}
	d.mu.Unlock()
}

// Subscription is one pipeline's view of the frame stream. All methods
// are intended for a single consumer goroutine.
type Subscription struct {
	d      *Dispatcher
	cursor *Cursor
	notify chan struct{}
	once   sync.Once
}

func (s *Subscription) shut() {
	s.once.Do(func() { close(s.notify) })
}

// Cancel detaches the subscription: no further wakeups arrive and the
// cursor drops out of ring stats. Safe to call more than once, and
// after Cancel a pending NextWait drains what is left and then returns
// ErrDispatcherClosed.
func (s *Subscription) Cancel() {
	s.d.mu.Lock()
	for i, sub := range s.d.subs {
		if sub == s {
			s.d.subs = append(s.d.subs[:i], s.d.subs[i+1:]...)
			break
		}
	}
	s.shut()
	s.d.mu.Unlock()

	s.d.ring.Unsubscribe(s.cursor)
}

// Next returns the next frame without blocking, like Cursor.Next.
func (s *Subscription) Next() (*Frame, bool) {
	return s.cursor.Next()
}

// NextWait blocks until a frame is available. It returns ctx.Err when
// the context ends first, and ErrDispatcherClosed once the dispatcher
// has shut down and the cursor has nothing left.
func (s *Subscription) NextWait(ctx context.Context) (*Frame, error) {
	for {
		if f, ok := s.cursor.Next(); ok {
			return f, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case _, open := <-s.notify:
			if open {
				continue
			}
			// Closed: one final drain, then report shutdown.
			if f, ok := s.cursor.Next(); ok {
				return f, nil
			}
			return nil, ErrDispatcherClosed
		}
	}
}

// Skipped returns how many frames this subscriber lost to lapping.
func (s *Subscription) Skipped() uint64 {
	return s.cursor.Skipped()
}

// Name returns the subscriber name.
func (s *Subscription) Name() string {
	return s.cursor.Name()
}
