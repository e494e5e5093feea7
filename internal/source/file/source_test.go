package file

import (
	"context"
	"io"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	watched = netip.MustParseAddr("192.168.1.10")
	peer    = netip.MustParseAddr("10.0.0.5")
)

func ipv4Frame(t *testing.T, src, dst netip.Addr, payload int) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 2},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    src.AsSlice(),
		DstIP:    dst.AsSlice(),
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, gopacket.Payload(make([]byte, payload))))
	return buf.Bytes()
}

func arpFrame(t *testing.T) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
		DstMAC:       layers.EthernetBroadcast,
		EthernetType: layers.EthernetTypeARP,
	}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   []byte{0x02, 0, 0, 0, 0, 1},
		SourceProtAddress: watched.AsSlice(),
		DstHwAddress:      make([]byte, 6),
		DstProtAddress:    peer.AsSlice(),
	}
	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, eth, arp))
	return buf.Bytes()
}

func writePcap(t *testing.T, linkType layers.LinkType, frames ...[]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "replay.pcap")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65535, linkType))
	ts := time.Unix(1700000000, 0)
	for i, frame := range frames {
		ci := gopacket.CaptureInfo{
			Timestamp:     ts.Add(time.Duration(i) * time.Millisecond),
			CaptureLength: len(frame),
			Length:        len(frame),
		}
		require.NoError(t, w.WritePacket(ci, frame))
	}
	return path
}

func TestReplayYieldsOnlyWatchedSource(t *testing.T) {
	first := ipv4Frame(t, watched, peer, 10)
	second := ipv4Frame(t, watched, peer, 20)
	path := writePcap(t, layers.LinkTypeEthernet,
		first,
		ipv4Frame(t, peer, watched, 10),
		arpFrame(t),
		second,
	)

	s, err := Open(Config{Path: path, WatchedIP: watched})
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	got, err := s.ReadFrame(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, got.Data)
	assert.Equal(t, uint32(len(first)), got.CaptureLen)
	assert.Equal(t, int64(1700000000), got.Timestamp.Unix())

	got, err = s.ReadFrame(ctx)
	require.NoError(t, err)
	assert.Equal(t, second, got.Data)

	_, err = s.ReadFrame(ctx)
	assert.ErrorIs(t, err, io.EOF)

	read, accepted := s.Stats()
	assert.Equal(t, uint64(4), read)
	assert.Equal(t, uint64(2), accepted)
}

func TestReplayTruncatesToSnapLen(t *testing.T) {
	path := writePcap(t, layers.LinkTypeEthernet, ipv4Frame(t, watched, peer, 200))

	s, err := Open(Config{Path: path, WatchedIP: watched, SnapLen: 64})
	require.NoError(t, err)
	defer s.Close()

	got, err := s.ReadFrame(context.Background())
	require.NoError(t, err)
	assert.Len(t, got.Data, 64)
	assert.Equal(t, uint32(64), got.CaptureLen)
	assert.Greater(t, got.OrigLen, uint32(64))
}

func TestReplayStopsOnCancelledContext(t *testing.T) {
	path := writePcap(t, layers.LinkTypeEthernet, ipv4Frame(t, watched, peer, 10))

	s, err := Open(Config{Path: path, WatchedIP: watched})
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.ReadFrame(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpenRejects(t *testing.T) {
	_, err := Open(Config{WatchedIP: watched})
	assert.Error(t, err, "missing path")

	_, err = Open(Config{Path: filepath.Join(t.TempDir(), "missing.pcap"), WatchedIP: watched})
	assert.Error(t, err, "missing file")

	path := writePcap(t, layers.LinkTypeEthernet)
	_, err = Open(Config{Path: path, WatchedIP: netip.MustParseAddr("2001:db8::1")})
	assert.Error(t, err, "IPv6 watched address")

	raw := writePcap(t, layers.LinkTypeRaw)
	_, err = Open(Config{Path: raw, WatchedIP: watched})
	assert.Error(t, err, "non-Ethernet link type")
}

func TestCloseIdempotent(t *testing.T) {
	s, err := Open(Config{Path: writePcap(t, layers.LinkTypeEthernet), WatchedIP: watched})
	require.NoError(t, err)
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())

	_, err = s.ReadFrame(context.Background())
	assert.Error(t, err)
}
