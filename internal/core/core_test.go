package core

import (
	"errors"
	"fmt"
	"net"
	"testing"
	"time"
)

// Test zero values of core structs
func TestStructZeroValues(t *testing.T) {
	t.Run("RawFrame", func(t *testing.T) {
		var raw RawFrame
		if raw.Data != nil {
			t.Errorf("expected Data=nil, got %v", raw.Data)
		}
		if !raw.Timestamp.IsZero() {
			t.Errorf("expected zero Timestamp, got %v", raw.Timestamp)
		}
	})

	t.Run("Event", func(t *testing.T) {
		var ev Event
		if ev.Stage != "" {
			t.Errorf("expected empty Stage, got %q", ev.Stage)
		}
		if ev.DstIP.IsValid() {
			t.Errorf("expected invalid DstIP, got %v", ev.DstIP)
		}
		if ev.Err != nil {
			t.Errorf("expected nil Err, got %v", ev.Err)
		}
	})
}

// Test sentinel errors
func TestSentinelErrors(t *testing.T) {
	t.Run("ErrorMessages", func(t *testing.T) {
		tests := []struct {
			err     error
			message string
		}{
			{ErrMalformedFrame, "l2relay: malformed frame"},
			{ErrResolutionFailed, "l2relay: hardware address not found"},
			{ErrSendFailed, "l2relay: frame send failed"},
			{ErrConnect, "l2relay: connect failed"},
			{ErrChannelClosed, "l2relay: channel closed"},
			{ErrTimeout, "l2relay: request timed out"},
			{ErrConfigInvalid, "l2relay: invalid configuration"},
		}

		for _, tt := range tests {
			if tt.err.Error() != tt.message {
				t.Errorf("expected error message %q, got %q", tt.message, tt.err.Error())
			}
		}
	})

	t.Run("ErrorWrapping", func(t *testing.T) {
		wrapped := fmt.Errorf("frame 42: %w", ErrMalformedFrame)
		if !errors.Is(wrapped, ErrMalformedFrame) {
			t.Error("errors.Is failed for wrapped error")
		}
		if errors.Is(wrapped, ErrSendFailed) {
			t.Error("wrapped ErrMalformedFrame must not match ErrSendFailed")
		}
	})
}

func TestHardwareAddrHelpers(t *testing.T) {
	mac := net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}

	if !ValidHardwareAddr(mac) {
		t.Errorf("expected %s to be valid", mac)
	}
	if ValidHardwareAddr(mac[:4]) {
		t.Error("4-octet address must be invalid")
	}
	if !EqualHardwareAddr(mac, net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}) {
		t.Error("byte-wise equal addresses compared unequal")
	}
	if EqualHardwareAddr(mac, net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0x00}) {
		t.Error("different addresses compared equal")
	}
	if ZeroHardwareAddr(mac) {
		t.Error("non-zero address reported as zero")
	}
	if !ZeroHardwareAddr(make(net.HardwareAddr, 6)) {
		t.Error("all-zero address not reported as zero")
	}
}

func TestEventCarriesStage(t *testing.T) {
	ev := Event{
		Stage:     StageUnresolved,
		Timestamp: time.Now(),
		Length:    60,
		Err:       ErrResolutionFailed,
	}
	if ev.Stage != "unresolved" {
		t.Errorf("expected stage unresolved, got %s", ev.Stage)
	}
	if !errors.Is(ev.Err, ErrResolutionFailed) {
		t.Errorf("expected ErrResolutionFailed, got %v", ev.Err)
	}
}
