package channel

import (
	"errors"
	"log/slog"

	"icc.tech/l2relay/internal/core"
)

// receiver is the receive half of a SecureChannel.
type receiver interface {
	Receive() ([]byte, error)
}

// listen is the listener goroutine body. It owns ch's receive path and
// publishes every outcome to s until the channel closes or fails.
func listen(ch receiver, s *slot, logger *slog.Logger) {
	for {
		data, err := ch.Receive()
		switch {
		case err == nil:
			logger.Debug("response received", "bytes", len(data))
			s.publish(outcome{kind: outcomeMessage, data: data})
		case errors.Is(err, core.ErrChannelClosed):
			logger.Info("channel closed")
			s.publish(outcome{kind: outcomeClosed})
			return
		default:
			logger.Warn("channel receive failed", "error", err)
			s.publish(outcome{kind: outcomeError, err: err})
			return
		}
	}
}
