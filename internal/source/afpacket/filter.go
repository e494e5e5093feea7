package afpacket

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"golang.org/x/net/bpf"
)

// Offsets into an untagged Ethernet II frame.
const (
	offEtherType = 12
	offIPv4Src   = 14 + 12
)

// pktOutgoing is PACKET_OUTGOING from linux/if_packet.h.
const pktOutgoing = 4

// WatchedSourceFilter assembles the classic BPF program equivalent to
// "ip and src host <watched>". Accepted frames are cut at snapLen.
//
// The program is assembled here instead of compiled through libpcap so the
// binary does not need cgo. It uses no kernel extensions, so it also runs in
// the x/net/bpf VM for replayed captures.
func WatchedSourceFilter(watched netip.Addr, snapLen int) ([]bpf.RawInstruction, error) {
	insns, err := watchedSource(watched, snapLen)
	if err != nil {
		return nil, err
	}
	return assemble(insns)
}

// CaptureFilter is WatchedSourceFilter preceded by a packet type check that
// rejects frames this host transmits. Without it a capture socket bound to the
// egress interface sees every redirected frame again.
func CaptureFilter(watched netip.Addr, snapLen int) ([]bpf.RawInstruction, error) {
	body, err := watchedSource(watched, snapLen)
	if err != nil {
		return nil, err
	}
	// body ends in the reject return.
	insns := append([]bpf.Instruction{
		bpf.LoadExtension{Num: bpf.ExtType},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: pktOutgoing, SkipTrue: uint8(len(body) - 1)},
	}, body...)
	return assemble(insns)
}

func watchedSource(watched netip.Addr, snapLen int) ([]bpf.Instruction, error) {
	if !watched.Is4() {
		return nil, fmt.Errorf("bpf: watched address %v is not IPv4", watched)
	}
	if snapLen <= 0 {
		return nil, fmt.Errorf("bpf: snap length must be positive, got %d", snapLen)
	}
	ip4 := watched.As4()

	return []bpf.Instruction{
		bpf.LoadAbsolute{Off: offEtherType, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpNotEqual, Val: 0x0800, SkipTrue: 3},
		bpf.LoadAbsolute{Off: offIPv4Src, Size: 4},
		bpf.JumpIf{Cond: bpf.JumpNotEqual, Val: binary.BigEndian.Uint32(ip4[:]), SkipTrue: 1},
		bpf.RetConstant{Val: uint32(snapLen)},
		bpf.RetConstant{Val: 0},
	}, nil
}

func assemble(insns []bpf.Instruction) ([]bpf.RawInstruction, error) {
	raw, err := bpf.Assemble(insns)
	if err != nil {
		return nil, fmt.Errorf("bpf: assemble: %w", err)
	}
	return raw, nil
}
