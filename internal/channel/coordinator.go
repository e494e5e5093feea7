package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"icc.tech/l2relay/internal/core"
	"icc.tech/l2relay/internal/metrics"
)

// sender is the send half of a SecureChannel.
type sender interface {
	Send(msg []byte) error
}

// Coordinator pairs each request with the next outcome the listener
// publishes. Calls are serialized: one request is in flight per channel.
//
// A request that times out leaves its response, if any, undelivered; that
// response is attributed to whichever request waits next. ErrTimeout
// therefore means the disposition of the request is unknown.
type Coordinator struct {
	ch   sender
	slot *slot

	inflight sync.Mutex
}

func newCoordinator(ch sender, s *slot) *Coordinator {
	return &Coordinator{ch: ch, slot: s}
}

// RequestResponse sends msg and waits up to timeout for the next outcome.
// It returns the response bytes or an error wrapping exactly one of
// core.ErrTimeout, core.ErrChannelClosed or core.ErrChannelError.
// Cancelling ctx ends the wait like a timeout.
func (c *Coordinator) RequestResponse(ctx context.Context, msg []byte, timeout time.Duration) ([]byte, error) {
	c.inflight.Lock()
	defer c.inflight.Unlock()

	start := time.Now()
	resp, err := c.exchange(ctx, msg, timeout)
	metrics.ChannelRequestSeconds.Observe(time.Since(start).Seconds())
	metrics.ChannelRequestsTotal.WithLabelValues(outcomeLabel(err)).Inc()
	return resp, err
}

func (c *Coordinator) exchange(ctx context.Context, msg []byte, timeout time.Duration) ([]byte, error) {
	wake, last, ok := c.slot.arm()
	if !ok {
		return last.result()
	}

	// The guard is not held here; a response racing the send still closes wake.
	if err := c.ch.Send(msg); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrChannelError, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-wake:
		return c.slot.consume().result()
	case <-timer.C:
		return nil, fmt.Errorf("%w after %v", core.ErrTimeout, timeout)
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", core.ErrTimeout, ctx.Err())
	}
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeResponse
	case errors.Is(err, core.ErrTimeout):
		return metrics.OutcomeTimeout
	case errors.Is(err, core.ErrChannelClosed):
		return metrics.OutcomeClosed
	default:
		return metrics.OutcomeError
	}
}
