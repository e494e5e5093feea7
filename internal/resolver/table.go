package resolver

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/jsimonetti/rtnetlink"
	"golang.org/x/sys/unix"

	"icc.tech/l2relay/internal/core"
)

// NeighborTable is one source of IP to hardware address mappings.
// Lookup returns (nil, nil) when the table has no usable entry.
type NeighborTable interface {
	Name() string
	Lookup(ip netip.Addr) (net.HardwareAddr, error)
}

// NetlinkTable queries the kernel neighbor table over rtnetlink. The
// connection is dialed on first use and kept until Close; a failed query
// drops it so the next lookup redials.
type NetlinkTable struct {
	// IfIndex restricts matches to one interface; 0 accepts any.
	IfIndex int

	mu   sync.Mutex
	conn *rtnetlink.Conn
	dial func() (*rtnetlink.Conn, error)
}

// Name implements NeighborTable.
func (t *NetlinkTable) Name() string { return "netlink" }

// Lookup implements NeighborTable.
func (t *NetlinkTable) Lookup(ip netip.Addr) (net.HardwareAddr, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		dial := t.dial
		if dial == nil {
			dial = func() (*rtnetlink.Conn, error) { return rtnetlink.Dial(nil) }
		}
		c, err := dial()
		if err != nil {
			return nil, fmt.Errorf("rtnetlink.Dial: %w", err)
		}
		t.conn = c
	}

	neighs, err := t.conn.Neigh.List()
	if err != nil {
		_ = t.conn.Close()
		t.conn = nil
		return nil, fmt.Errorf("Neigh.List: %w", err)
	}
	return matchNeighbor(neighs, ip, t.IfIndex), nil
}

// Close releases the netlink connection, if one was dialed.
func (t *NetlinkTable) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

func matchNeighbor(neighs []rtnetlink.NeighMessage, ip netip.Addr, ifIndex int) net.HardwareAddr {
	for _, n := range neighs {
		if n.Attributes == nil || n.Attributes.Address == nil {
			continue
		}
		if ifIndex != 0 && n.Index != uint32(ifIndex) {
			continue
		}
		if n.State&(unix.NUD_INCOMPLETE|unix.NUD_FAILED) != 0 {
			continue
		}
		addr, ok := netip.AddrFromSlice(n.Attributes.Address)
		if !ok || addr.Unmap() != ip {
			continue
		}
		mac := n.Attributes.LLAddress
		if !core.ValidHardwareAddr(mac) || core.ZeroHardwareAddr(mac) {
			continue
		}
		return append(net.HardwareAddr(nil), mac...)
	}
	return nil
}

// atfCom marks a completed entry in /proc/net/arp.
const atfCom = 0x2

// ProcTable parses the IPv4 ARP cache exported in procfs. It needs no
// netlink permission.
type ProcTable struct {
	// Path defaults to /proc/net/arp.
	Path string
	// Device restricts matches to one interface name; empty accepts any.
	Device string
}

// Name implements NeighborTable.
func (t *ProcTable) Name() string { return "procfs" }

// Lookup implements NeighborTable.
func (t *ProcTable) Lookup(ip netip.Addr) (net.HardwareAddr, error) {
	if !ip.Is4() {
		return nil, fmt.Errorf("%s is IPv4 only", t.path())
	}
	f, err := os.Open(t.path())
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseProcARP(f, ip, t.Device)
}

func (t *ProcTable) path() string {
	if t.Path == "" {
		return "/proc/net/arp"
	}
	return t.Path
}

// parseProcARP scans the table for ip. Columns:
// IP address | HW type | Flags | HW address | Mask | Device
func parseProcARP(r io.Reader, ip netip.Addr, device string) (net.HardwareAddr, error) {
	sc := bufio.NewScanner(r)
	if !sc.Scan() {
		return nil, sc.Err()
	}
	want := ip.String()
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 6 || fields[0] != want {
			continue
		}
		if device != "" && fields[5] != device {
			continue
		}
		flags, err := strconv.ParseUint(strings.TrimPrefix(fields[2], "0x"), 16, 32)
		if err != nil || flags&atfCom == 0 {
			continue
		}
		mac, err := net.ParseMAC(fields[3])
		if err != nil {
			return nil, fmt.Errorf("bad hardware address %q: %w", fields[3], err)
		}
		if !core.ValidHardwareAddr(mac) || core.ZeroHardwareAddr(mac) {
			continue
		}
		return mac, nil
	}
	return nil, sc.Err()
}

// StaticTable answers from a fixed map. Used for pinned neighbors and tests.
type StaticTable map[netip.Addr]net.HardwareAddr

// Name implements NeighborTable.
func (StaticTable) Name() string { return "static" }

// Lookup implements NeighborTable.
func (t StaticTable) Lookup(ip netip.Addr) (net.HardwareAddr, error) {
	return t[ip], nil
}
