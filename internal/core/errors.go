// Package core defines sentinel errors.
package core

import "errors"

// Sentinel errors, matched with errors.Is and wrapped with %w for context.
var (
	// Redirector errors. None of them stop the capture loop.
	ErrMalformedFrame   = errors.New("l2relay: malformed frame")
	ErrResolutionFailed = errors.New("l2relay: hardware address not found")
	ErrSendFailed       = errors.New("l2relay: frame send failed")

	// Secure channel errors
	ErrConnect       = errors.New("l2relay: connect failed")
	ErrSend          = errors.New("l2relay: channel send failed")
	ErrReceive       = errors.New("l2relay: channel receive failed")
	ErrChannelClosed = errors.New("l2relay: channel closed")
	ErrChannelError  = errors.New("l2relay: channel error")
	ErrTimeout       = errors.New("l2relay: request timed out")

	// Configuration errors
	ErrConfigInvalid = errors.New("l2relay: invalid configuration")

	// Daemon errors
	ErrDaemonNotRunning = errors.New("l2relay: daemon not running")
)
