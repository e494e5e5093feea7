package resolver

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"icc.tech/l2relay/internal/core"
)

// Prober asks the network for the owner of ip. It returns once the request
// is on the wire; answers land in the kernel neighbor table.
type Prober interface {
	Probe(ip netip.Addr) error
}

// FrameSender writes a complete link-layer frame.
type FrameSender interface {
	SendFrame(f []byte) (int, error)
}

// ARPProber broadcasts ARP who-has requests from the egress interface.
type ARPProber struct {
	sender FrameSender
	srcMAC net.HardwareAddr
	srcIP  netip.Addr
}

// NewARPProber creates a prober that sends as srcMAC/srcIP through sender.
func NewARPProber(sender FrameSender, srcMAC net.HardwareAddr, srcIP netip.Addr) (*ARPProber, error) {
	if !core.ValidHardwareAddr(srcMAC) {
		return nil, fmt.Errorf("arp probe: invalid source hardware address %v", srcMAC)
	}
	if !srcIP.Is4() {
		return nil, fmt.Errorf("arp probe: source address %v is not IPv4", srcIP)
	}
	return &ARPProber{sender: sender, srcMAC: srcMAC, srcIP: srcIP}, nil
}

// Probe implements Prober.
func (p *ARPProber) Probe(ip netip.Addr) error {
	frame, err := BuildARPRequest(p.srcMAC, p.srcIP, ip)
	if err != nil {
		return err
	}
	if _, err := p.sender.SendFrame(frame); err != nil {
		return fmt.Errorf("arp probe for %s: %w", ip, err)
	}
	return nil
}

// BuildARPRequest serializes a broadcast who-has for target.
func BuildARPRequest(srcMAC net.HardwareAddr, srcIP, target netip.Addr) ([]byte, error) {
	if !target.Is4() {
		return nil, fmt.Errorf("arp probe: target %v is not IPv4", target)
	}
	sip, tip := srcIP.As4(), target.As4()

	eth := &layers.Ethernet{
		SrcMAC:       srcMAC,
		DstMAC:       layers.EthernetBroadcast,
		EthernetType: layers.EthernetTypeARP,
	}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   srcMAC,
		SourceProtAddress: sip[:],
		DstHwAddress:      make([]byte, 6),
		DstProtAddress:    tip[:],
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, arp); err != nil {
		return nil, fmt.Errorf("arp probe: serialize: %w", err)
	}
	return buf.Bytes(), nil
}
