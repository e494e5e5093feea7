// Package frame provides bounds-checked views over captured Ethernet frames
// and the header rewrite used to retarget them.
package frame

import (
	"encoding/binary"
	"fmt"
	"net"

	"icc.tech/l2relay/internal/core"
)

const (
	// Ethernet constants
	EthernetHeaderLen = 14

	// EtherType values
	EtherTypeIPv4 = 0x0800
	EtherTypeARP  = 0x0806
	EtherTypeVLAN = 0x8100
	EtherTypeIPv6 = 0x86DD
)

// Ethernet is a read view over an Ethernet II header. It never reaches past
// the slice it was built from.
type Ethernet struct {
	b []byte
}

// ParseEthernet validates that data holds a full Ethernet header and returns a view over it.
func ParseEthernet(data []byte) (Ethernet, error) {
	if len(data) < EthernetHeaderLen {
		return Ethernet{}, fmt.Errorf("ethernet header needs %d bytes, have %d: %w",
			EthernetHeaderLen, len(data), core.ErrMalformedFrame)
	}
	return Ethernet{b: data}, nil
}

// Dst returns a copy of the destination MAC.
func (e Ethernet) Dst() net.HardwareAddr {
	return cloneMAC(e.b[0:6])
}

// Src returns a copy of the source MAC.
func (e Ethernet) Src() net.HardwareAddr {
	return cloneMAC(e.b[6:12])
}

// EtherType returns the declared protocol of the payload.
func (e Ethernet) EtherType() uint16 {
	return binary.BigEndian.Uint16(e.b[12:14])
}

// IsIPv4 reports whether the frame declares an IPv4 payload.
func (e Ethernet) IsIPv4() bool {
	return e.EtherType() == EtherTypeIPv4
}

// Payload returns the bytes following the header (zero-copy).
func (e Ethernet) Payload() []byte {
	return e.b[EthernetHeaderLen:]
}

// Len returns the full frame length.
func (e Ethernet) Len() int {
	return len(e.b)
}

func cloneMAC(b []byte) net.HardwareAddr {
	mac := make(net.HardwareAddr, core.HardwareAddrLen)
	copy(mac, b)
	return mac
}
