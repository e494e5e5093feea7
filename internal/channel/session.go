package channel

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// transport is what a Session drives; *SecureChannel implements it.
type transport interface {
	sender
	receiver
	Close() error
}

// Session is one open channel with its listener goroutine and coordinator.
type Session struct {
	ch    transport
	slot  *slot
	coord *Coordinator

	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// Open dials the peer and starts the listener.
func Open(ctx context.Context, cfg Config) (*Session, error) {
	ch, err := Dial(ctx, cfg)
	if err != nil {
		return nil, err
	}
	slog.Info("secure channel opened", "peer", ch.RemoteAddr().String(), "verify_certificate", cfg.VerifyCertificate)
	return newSession(ch), nil
}

func newSession(ch transport) *Session {
	s := &Session{ch: ch, slot: newSlot()}
	s.coord = newCoordinator(ch, s.slot)

	logger := slog.Default().With("component", "listener")
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		listen(ch, s.slot, logger)
	}()
	return s
}

// RequestResponse forwards to the session's Coordinator.
func (s *Session) RequestResponse(ctx context.Context, msg []byte, timeout time.Duration) ([]byte, error) {
	return s.coord.RequestResponse(ctx, msg, timeout)
}

// Coordinator returns the session's request coordinator.
func (s *Session) Coordinator() *Coordinator {
	return s.coord
}

// Running reports whether the listener is still receiving.
func (s *Session) Running() bool {
	return s.slot.isRunning()
}

// Close closes the channel, which ends the listener, and waits for the
// listener to exit. Safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.ch.Close()
		s.wg.Wait()
	})
	return s.closeErr
}
