package store

import (
	"context"
	"sync"
)

// Subscription is a lazy, non-restartable sequence of full snapshots for one
// query. Delivery keeps only the latest value: a snapshot that has not been
// read yet is replaced by a newer one, and snapshots older than the last
// delivered one are dropped. After Close no further snapshot is delivered.
type Subscription struct {
	ch      chan Snapshot
	done    chan struct{}
	onClose func()

	mu        sync.Mutex
	closed    bool
	delivered bool
	last      uint64
	err       error
}

// NewSubscription returns an open subscription. onClose, if non-nil, runs
// once when the subscription is closed and is where producers detach.
func NewSubscription(onClose func()) *Subscription {
	return &Subscription{
		ch:      make(chan Snapshot, 1),
		done:    make(chan struct{}),
		onClose: onClose,
	}
}

// C returns the channel snapshots are delivered on. It is closed when the
// subscription ends.
func (s *Subscription) C() <-chan Snapshot { return s.ch }

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Next blocks until the next snapshot, the end of the subscription or the
// cancellation of ctx.
func (s *Subscription) Next(ctx context.Context) (Snapshot, error) {
	select {
	case snap, ok := <-s.ch:
		if !ok {
			if err := s.Err(); err != nil {
				return Snapshot{}, err
			}
			return Snapshot{}, ErrClosed
		}
		return snap, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// Err returns the error that ended the subscription, if any.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Deliver publishes snap to the subscriber. It reports false when the
// subscription is closed or snap is not newer than the last delivery.
func (s *Subscription) Deliver(snap Snapshot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if s.delivered && snap.Seq <= s.last {
		return false
	}
	select {
	case <-s.ch:
	default:
	}
	s.ch <- snap
	s.delivered = true
	s.last = snap.Seq
	return true
}

// Fail ends the subscription with err.
func (s *Subscription) Fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	s.Close()
}

// Close ends the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	select {
	case <-s.ch:
	default:
	}
	close(s.ch)
	close(s.done)
	s.mu.Unlock()
	if s.onClose != nil {
		s.onClose()
	}
}

// closeOnCancel ends sub when ctx is cancelled.
func closeOnCancel(ctx context.Context, sub *Subscription) {
	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.Done():
		}
	}()
}
