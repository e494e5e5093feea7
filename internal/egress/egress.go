// Package egress owns the raw link-layer socket frames are re-emitted on.
package egress

import (
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"

	"golang.org/x/sys/unix"

	"icc.tech/l2relay/internal/core"
)

// Interface is the egress NIC as seen at startup.
type Interface struct {
	Name  string
	Index int
	MAC   net.HardwareAddr
	Addr  netip.Addr // first IPv4 address, zero if none
}

// LookupInterface resolves name to its index, hardware address and IPv4 address.
func LookupInterface(name string) (Interface, error) {
	ifi, err := net.InterfaceByName(name)
	if err != nil {
		return Interface{}, fmt.Errorf("interface %s: %w", name, err)
	}
	if !core.ValidHardwareAddr(ifi.HardwareAddr) {
		return Interface{}, fmt.Errorf("interface %s has no Ethernet address", name)
	}

	out := Interface{Name: ifi.Name, Index: ifi.Index, MAC: ifi.HardwareAddr}

	addrs, err := ifi.Addrs()
	if err != nil {
		return Interface{}, fmt.Errorf("interface %s addresses: %w", name, err)
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		if ip, ok := netip.AddrFromSlice(ipnet.IP.To4()); ok {
			out.Addr = ip
			break
		}
	}
	return out, nil
}

// Socket is an AF_PACKET SOCK_RAW socket bound to one interface. Frames are
// written as-is, link-layer header included.
type Socket struct {
	iface Interface
	fd    int

	closeOnce sync.Once
}

// Open creates the raw socket and binds it to iface. The socket only
// transmits, so it is opened with protocol 0 and receives nothing.
func Open(iface Interface) (*Socket, error) {
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, 0)
	if err != nil {
		return nil, fmt.Errorf("cannot create transmit socket for %s: %w", iface.Name, err)
	}

	if err := unix.Bind(fd, linkAddr(iface)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("cannot bind transmit socket to %s: %w", iface.Name, err)
	}

	slog.Info("egress socket opened", "interface", iface.Name, "ifindex", iface.Index, "mac", iface.MAC.String())
	return &Socket{iface: iface, fd: fd}, nil
}

func linkAddr(iface Interface) *unix.SockaddrLinklayer {
	return &unix.SockaddrLinklayer{Ifindex: iface.Index}
}

// Interface returns the interface the socket is bound to.
func (s *Socket) Interface() Interface {
	return s.iface
}

// SendFrame writes one complete frame. A short write is reported as an error.
func (s *Socket) SendFrame(f []byte) (int, error) {
	n, err := unix.Write(s.fd, f)
	if err != nil {
		return n, fmt.Errorf("send on %s: %w", s.iface.Name, err)
	}
	if n != len(f) {
		return n, fmt.Errorf("short write on %s: %d of %d bytes", s.iface.Name, n, len(f))
	}
	return n, nil
}

// Close releases the socket. Safe to call more than once.
func (s *Socket) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = unix.Close(s.fd)
	})
	return err
}
