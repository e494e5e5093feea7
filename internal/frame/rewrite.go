package frame

import (
	"fmt"
	"net"

	"icc.tech/l2relay/internal/core"
)

// Rewrite retargets a frame to a new hardware destination by replacing the
// Ethernet source and destination fields in place. Payload bytes and length
// are untouched. Applying it twice with the same pair is a no-op.
func Rewrite(f []byte, src, dst net.HardwareAddr) ([]byte, error) {
	if len(f) < EthernetHeaderLen {
		return f, fmt.Errorf("rewrite %d byte frame: %w", len(f), core.ErrMalformedFrame)
	}
	if !core.ValidHardwareAddr(src) || !core.ValidHardwareAddr(dst) {
		return f, fmt.Errorf("rewrite with src %q dst %q: %w", src, dst, core.ErrMalformedFrame)
	}

	copy(f[0:6], dst)
	copy(f[6:12], src)
	return f, nil
}

// Truncate bounds a captured frame to max bytes. A non-positive max leaves it alone.
func Truncate(f []byte, max int) []byte {
	if max > 0 && len(f) > max {
		return f[:max]
	}
	return f
}
