package channel

import (
	"fmt"
	"sync"

	"icc.tech/l2relay/internal/core"
)

type outcomeKind int

const (
	outcomePending outcomeKind = iota
	outcomeMessage
	outcomeClosed
	outcomeError
)

// outcome is one result of a Receive as seen by the listener.
type outcome struct {
	kind outcomeKind
	data []byte
	err  error
}

func (o outcome) terminal() bool {
	return o.kind == outcomeClosed || o.kind == outcomeError
}

// result converts the outcome into what RequestResponse returns.
func (o outcome) result() ([]byte, error) {
	switch o.kind {
	case outcomeMessage:
		return o.data, nil
	case outcomeClosed:
		return nil, core.ErrChannelClosed
	case outcomePending:
		return nil, fmt.Errorf("%w: woken without an outcome", core.ErrChannelError)
	default:
		return nil, fmt.Errorf("%w: %v", core.ErrChannelError, o.err)
	}
}

// slot is the rendezvous between the listener and the coordinator. All
// fields are guarded by mu. wake is closed and replaced on every publish,
// so a waiter that captured it before sending observes the next outcome
// and never an older one.
type slot struct {
	mu      sync.Mutex
	running bool
	last    outcome // kind is outcomePending until the listener publishes
	wake    chan struct{}
}

func newSlot() *slot {
	return &slot{running: true, wake: make(chan struct{})}
}

// publish records o and wakes every current waiter exactly once.
func (s *slot) publish(o outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.last = o
	if o.terminal() {
		s.running = false
	}
	close(s.wake)
	s.wake = make(chan struct{})
}

// arm returns the channel the next publish will close. When the listener
// has already stopped it returns ok=false and the terminal outcome.
func (s *slot) arm() (wake <-chan struct{}, last outcome, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil, s.last, false
	}
	return s.wake, outcome{}, true
}

// consume takes the recorded outcome, leaving the slot Pending. A terminal
// outcome stays recorded so later callers still see it.
func (s *slot) consume() outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	o := s.last
	if !o.terminal() {
		s.last = outcome{}
	}
	return o
}

// isRunning reports whether the listener is still receiving.
func (s *slot) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
