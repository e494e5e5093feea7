package egress

import (
	"bytes"
	"errors"
	"log/slog"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestLinkAddrBindsWithoutProtocol(t *testing.T) {
	sa := linkAddr(Interface{Name: "eth0", Index: 7})
	assert.Equal(t, 7, sa.Ifindex)
	assert.Zero(t, sa.Protocol, "a transmit-only socket must not subscribe to any ethertype")
}

func TestOpenLogsReadableAddress(t *testing.T) {
	ifaces, err := net.Interfaces()
	require.NoError(t, err)

	var iface Interface
	for _, ifi := range ifaces {
		if ifi.Flags&net.FlagLoopback != 0 || len(ifi.HardwareAddr) != 6 {
			continue
		}
		iface = Interface{Name: ifi.Name, Index: ifi.Index, MAC: ifi.HardwareAddr}
		break
	}
	if iface.Name == "" {
		t.Skip("no Ethernet interface found")
	}

	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	s, err := Open(iface)
	if errors.Is(err, unix.EPERM) || errors.Is(err, unix.EACCES) {
		t.Skip("opening a packet socket needs CAP_NET_RAW")
	}
	require.NoError(t, err)
	defer s.Close()

	assert.Contains(t, buf.String(), "mac="+iface.MAC.String())
}

func TestLookupInterfaceUnknown(t *testing.T) {
	_, err := LookupInterface("l2relay-does-not-exist0")
	require.Error(t, err)
}

func TestLookupInterfaceRejectsLoopback(t *testing.T) {
	ifaces, err := net.Interfaces()
	require.NoError(t, err)

	for _, ifi := range ifaces {
		if ifi.Flags&net.FlagLoopback == 0 {
			continue
		}
		// Loopback carries no Ethernet address and cannot be an egress interface.
		_, err := LookupInterface(ifi.Name)
		assert.Error(t, err)
		return
	}
	t.Skip("no loopback interface found")
}
