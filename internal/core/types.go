// Package core defines core types with zero external dependencies.
package core

import (
	"bytes"
	"net"
)

// HardwareAddrLen is the size of an Ethernet MAC address.
const HardwareAddrLen = 6

// ValidHardwareAddr reports whether mac is a 6-octet Ethernet address.
func ValidHardwareAddr(mac net.HardwareAddr) bool {
	return len(mac) == HardwareAddrLen
}

// EqualHardwareAddr compares two hardware addresses byte by byte.
func EqualHardwareAddr(a, b net.HardwareAddr) bool {
	return bytes.Equal(a, b)
}

// ZeroHardwareAddr reports whether mac is all zero. The kernel neighbor table
// uses 00:00:00:00:00:00 for incomplete entries.
func ZeroHardwareAddr(mac net.HardwareAddr) bool {
	for _, b := range mac {
		if b != 0 {
			return false
		}
	}
	return true
}
