package afpacket

import (
	"net"
	"net/netip"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/bpf"
)

func serialize(t *testing.T, ls ...gopacket.SerializableLayer) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true}, ls...))
	return buf.Bytes()
}

func ipv4Frame(t *testing.T, src string) []byte {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		DstMAC:       net.HardwareAddr{0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.ParseIP(src).To4(),
		DstIP:    net.IPv4(10, 0, 0, 5).To4(),
	}
	return serialize(t, eth, ip, gopacket.Payload([]byte("data")))
}

func runFilter(t *testing.T, prog []bpf.RawInstruction, frame []byte) int {
	t.Helper()
	insns, ok := bpf.Disassemble(prog)
	require.True(t, ok, "program must disassemble")
	vm, err := bpf.NewVM(insns)
	require.NoError(t, err)
	n, err := vm.Run(frame)
	require.NoError(t, err)
	return n
}

func TestWatchedSourceFilter(t *testing.T) {
	prog, err := WatchedSourceFilter(netip.MustParseAddr("192.168.1.10"), 1514)
	require.NoError(t, err)

	t.Run("accepts watched source", func(t *testing.T) {
		assert.Greater(t, runFilter(t, prog, ipv4Frame(t, "192.168.1.10")), 0)
	})

	t.Run("rejects other source", func(t *testing.T) {
		assert.Zero(t, runFilter(t, prog, ipv4Frame(t, "192.168.1.11")))
	})

	t.Run("rejects arp", func(t *testing.T) {
		eth := &layers.Ethernet{
			SrcMAC:       net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
			DstMAC:       layers.EthernetBroadcast,
			EthernetType: layers.EthernetTypeARP,
		}
		arp := &layers.ARP{
			AddrType:          layers.LinkTypeEthernet,
			Protocol:          layers.EthernetTypeIPv4,
			HwAddressSize:     6,
			ProtAddressSize:   4,
			Operation:         layers.ARPRequest,
			SourceHwAddress:   []byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
			SourceProtAddress: []byte{192, 168, 1, 10},
			DstHwAddress:      make([]byte, 6),
			DstProtAddress:    []byte{10, 0, 0, 5},
		}
		assert.Zero(t, runFilter(t, prog, serialize(t, eth, arp)))
	})
}

func TestWatchedSourceFilterInvalid(t *testing.T) {
	_, err := WatchedSourceFilter(netip.MustParseAddr("2001:db8::1"), 1514)
	assert.Error(t, err)

	_, err = WatchedSourceFilter(netip.MustParseAddr("10.0.0.1"), 0)
	assert.Error(t, err)
}

// runWithPktType evaluates prog in the VM with the packet type extension
// replaced by a constant, since the VM only implements ExtLen.
func runWithPktType(t *testing.T, prog []bpf.RawInstruction, pktType uint32, frame []byte) int {
	t.Helper()
	insns, ok := bpf.Disassemble(prog)
	require.True(t, ok, "program must disassemble")
	replaced := 0
	for i, ins := range insns {
		if ext, ok := ins.(bpf.LoadExtension); ok && ext.Num == bpf.ExtType {
			insns[i] = bpf.LoadConstant{Dst: bpf.RegA, Val: pktType}
			replaced++
		}
	}
	require.Equal(t, 1, replaced, "program loads the packet type once")
	vm, err := bpf.NewVM(insns)
	require.NoError(t, err)
	n, err := vm.Run(frame)
	require.NoError(t, err)
	return n
}

func TestCaptureFilterRejectsOutgoing(t *testing.T) {
	prog, err := CaptureFilter(netip.MustParseAddr("192.168.1.10"), 1514)
	require.NoError(t, err)

	watched := ipv4Frame(t, "192.168.1.10")

	const (
		pktHost      = 0
		pktOtherHost = 3
	)
	assert.Equal(t, 1514, runWithPktType(t, prog, pktHost, watched))
	assert.Equal(t, 1514, runWithPktType(t, prog, pktOtherHost, watched))
	assert.Zero(t, runWithPktType(t, prog, pktOutgoing, watched), "own transmissions are not captured")
	assert.Zero(t, runWithPktType(t, prog, pktHost, ipv4Frame(t, "192.168.1.11")))
}

func TestCaptureFilterInvalid(t *testing.T) {
	_, err := CaptureFilter(netip.MustParseAddr("2001:db8::1"), 1514)
	assert.Error(t, err)
}
