package frame

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"icc.tech/l2relay/internal/core"
)

const ipv4HeaderMinLen = 20

// IPv4 is a read-only view over an IPv4 header inside a frame payload.
type IPv4 struct {
	b         []byte
	headerLen int
}

// ParseIPv4 validates the header boundary against the captured length.
// A header whose IHL points past the captured bytes is malformed.
func ParseIPv4(data []byte) (IPv4, error) {
	if len(data) < ipv4HeaderMinLen {
		return IPv4{}, fmt.Errorf("ipv4 header needs %d bytes, have %d: %w",
			ipv4HeaderMinLen, len(data), core.ErrMalformedFrame)
	}

	if version := data[0] >> 4; version != 4 {
		return IPv4{}, fmt.Errorf("ip version %d in ipv4 frame: %w", version, core.ErrMalformedFrame)
	}

	// IHL is in 32-bit words
	headerLen := int(data[0]&0x0F) * 4
	if headerLen < ipv4HeaderMinLen || headerLen > len(data) {
		return IPv4{}, fmt.Errorf("ipv4 header length %d outside captured %d bytes: %w",
			headerLen, len(data), core.ErrMalformedFrame)
	}

	return IPv4{b: data, headerLen: headerLen}, nil
}

// Src returns the source address.
func (ip IPv4) Src() netip.Addr {
	return netip.AddrFrom4([4]byte(ip.b[12:16]))
}

// Dst returns the destination address.
func (ip IPv4) Dst() netip.Addr {
	return netip.AddrFrom4([4]byte(ip.b[16:20]))
}

// Protocol returns the transport protocol number.
func (ip IPv4) Protocol() uint8 {
	return ip.b[9]
}

// TTL returns the time-to-live field.
func (ip IPv4) TTL() uint8 {
	return ip.b[8]
}

// TotalLen returns the declared total length (header + data).
func (ip IPv4) TotalLen() uint16 {
	return binary.BigEndian.Uint16(ip.b[2:4])
}

// HeaderLen returns the header length in bytes.
func (ip IPv4) HeaderLen() int {
	return ip.headerLen
}
