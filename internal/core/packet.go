// Package core defines core data structures with zero external dependencies.
package core

import (
	"net"
	"net/netip"
	"time"
)

// RawFrame is a link-layer frame as handed over by a capture source.
type RawFrame struct {
	Data           []byte    // Frame bytes, valid until the next read on the source
	Timestamp      time.Time // Capture timestamp (kernel timestamp preferred)
	CaptureLen     uint32    // Actual captured length
	OrigLen        uint32    // Original frame length on the wire
	InterfaceIndex int       // Network interface index
}

// Stage identifies where in the redirect pipeline a frame ended up.
type Stage string

const (
	StageFiltered   Stage = "filtered"   // non-IPv4, silently dropped
	StageMalformed  Stage = "malformed"  // header boundary beyond captured length
	StageUnresolved Stage = "unresolved" // no hardware address for destination
	StageSent       Stage = "sent"
	StageSendFailed Stage = "send_failed"
)

// Event is reported for every frame that did not make it out of the redirector,
// and for sent frames when the reporter asks for them.
type Event struct {
	Stage     Stage
	Timestamp time.Time
	SrcIP     netip.Addr
	DstIP     netip.Addr
	DstMAC    net.HardwareAddr // set once resolved
	Length    int
	Err       error
}
