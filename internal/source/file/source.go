// Package file replays frames from a pcap file through the same watched-source
// filter the live capture installs in the kernel.
package file

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"os"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"golang.org/x/net/bpf"

	"icc.tech/l2relay/internal/core"
	"icc.tech/l2relay/internal/source/afpacket"
)

const defaultSnapLen = 65535

// Config describes a replay source.
type Config struct {
	Path      string     // required, pcap file with Ethernet link type
	WatchedIP netip.Addr // required
	SnapLen   int        // optional, default 65535
}

// Source yields the frames of a pcap file that originate from the watched host.
type Source struct {
	path   string
	file   *os.File
	reader *pcapgo.Reader
	vm     *bpf.VM
	buf    []byte

	read     uint64
	accepted uint64
}

// Open opens the pcap file and prepares the filter.
func Open(cfg Config) (*Source, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("file_path is required")
	}
	if cfg.SnapLen <= 0 {
		cfg.SnapLen = defaultSnapLen
	}

	raw, err := afpacket.WatchedSourceFilter(cfg.WatchedIP, cfg.SnapLen)
	if err != nil {
		return nil, err
	}
	insns, ok := bpf.Disassemble(raw)
	if !ok {
		return nil, fmt.Errorf("bpf: filter did not disassemble")
	}
	vm, err := bpf.NewVM(insns)
	if err != nil {
		return nil, fmt.Errorf("bpf: %w", err)
	}

	f, err := os.Open(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pcap file %s: %w", cfg.Path, err)
	}
	r, err := pcapgo.NewReader(bufio.NewReader(f))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read pcap header of %s: %w", cfg.Path, err)
	}
	if lt := r.LinkType(); lt != layers.LinkTypeEthernet {
		f.Close()
		return nil, fmt.Errorf("pcap file %s has link type %v, want Ethernet", cfg.Path, lt)
	}

	slog.Info("replay source opened", "path", cfg.Path, "watched_ip", cfg.WatchedIP)
	return &Source{
		path:   cfg.Path,
		file:   f,
		reader: r,
		vm:     vm,
		buf:    make([]byte, 0, cfg.SnapLen),
	}, nil
}

// ReadFrame returns the next accepted frame, or io.EOF once the file is
// exhausted. The returned Data is valid until the next call.
func (s *Source) ReadFrame(ctx context.Context) (core.RawFrame, error) {
	if s.reader == nil {
		return core.RawFrame{}, fmt.Errorf("file source not opened")
	}
	for {
		if err := ctx.Err(); err != nil {
			return core.RawFrame{}, err
		}

		data, ci, err := s.reader.ReadPacketData()
		if err == io.EOF {
			return core.RawFrame{}, io.EOF
		}
		if err != nil {
			return core.RawFrame{}, fmt.Errorf("failed to read packet: %w", err)
		}
		s.read++

		keep, err := s.vm.Run(data)
		if err != nil {
			return core.RawFrame{}, fmt.Errorf("bpf: %w", err)
		}
		if keep == 0 {
			continue
		}
		s.accepted++
		if keep > len(data) {
			keep = len(data)
		}

		s.buf = append(s.buf[:0], data[:keep]...)
		return core.RawFrame{
			Data:           s.buf,
			Timestamp:      ci.Timestamp,
			CaptureLen:     uint32(len(s.buf)),
			OrigLen:        uint32(ci.Length),
			InterfaceIndex: ci.InterfaceIndex,
		}, nil
	}
}

// Stats returns frames read from the file and frames that passed the filter.
func (s *Source) Stats() (read, accepted uint64) {
	return s.read, s.accepted
}

// Close closes the file.
func (s *Source) Close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	s.reader = nil
	slog.Info("replay source closed", "path", s.path, "read", s.read, "accepted", s.accepted)
	return err
}
