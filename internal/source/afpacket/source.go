// Package afpacket implements the AF_PACKET_V3 capture source used by the redirector.
package afpacket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/gopacket/afpacket"

	"icc.tech/l2relay/internal/core"
)

const (
	// Default configuration values
	defaultSnapLen      = 65535
	defaultRingBufferMB = 8
	defaultPollTimeout  = 100 * time.Millisecond
)

// Config describes one capture handle.
type Config struct {
	Interface    string        // required
	WatchedIP    netip.Addr    // required, IPv4 source the kernel filter accepts
	SnapLen      int           // optional, default 65535
	RingBufferMB int           // optional, default 8
	PollTimeout  time.Duration // optional, default 100ms; bounds how long a stop can be delayed
}

// Source reads frames sourced from the watched host off a TPACKET_V3 ring.
// It is used by exactly one goroutine.
type Source struct {
	cfg    Config
	handle *afpacket.TPacket
	buf    []byte

	packetsReceived atomic.Uint64
	packetsDropped  atomic.Uint64
}

// Open creates the TPacket handle and installs the watched-source filter.
func Open(cfg Config) (*Source, error) {
	if cfg.Interface == "" {
		return nil, fmt.Errorf("afpacket: interface is required")
	}
	if !cfg.WatchedIP.Is4() {
		return nil, fmt.Errorf("afpacket: watched ip %v is not IPv4", cfg.WatchedIP)
	}
	if cfg.SnapLen <= 0 {
		cfg.SnapLen = defaultSnapLen
	}
	if cfg.RingBufferMB <= 0 {
		cfg.RingBufferMB = defaultRingBufferMB
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}

	frameSize, blockSize, numBlocks, err := recomputeSize(cfg.RingBufferMB, cfg.SnapLen, os.Getpagesize())
	if err != nil {
		return nil, fmt.Errorf("afpacket: ring sizing: %w", err)
	}

	handle, err := afpacket.NewTPacket(
		afpacket.OptInterface(cfg.Interface),
		afpacket.OptFrameSize(frameSize),
		afpacket.OptBlockSize(blockSize),
		afpacket.OptNumBlocks(numBlocks),
		afpacket.OptPollTimeout(cfg.PollTimeout),
		afpacket.OptTPacketVersion(afpacket.TPacketVersion3),
		afpacket.SocketRaw,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create TPacket handle: %w", err)
	}

	prog, err := CaptureFilter(cfg.WatchedIP, cfg.SnapLen)
	if err != nil {
		handle.Close()
		return nil, err
	}
	if err := handle.SetBPF(prog); err != nil {
		handle.Close()
		return nil, fmt.Errorf("failed to set BPF: %w", err)
	}

	if err := handle.InitSocketStats(); err != nil {
		slog.Warn("failed to init socket stats", "error", err)
	}

	slog.Info("afpacket capture opened",
		"interface", cfg.Interface,
		"watched_ip", cfg.WatchedIP,
		"frame_size", frameSize,
		"block_size", blockSize,
		"num_blocks", numBlocks)

	return &Source{
		cfg:    cfg,
		handle: handle,
		buf:    make([]byte, 0, cfg.SnapLen),
	}, nil
}

// ReadFrame blocks until a frame arrives or ctx is done. The returned Data is
// owned by the source and valid until the next call.
//
// The poll timeout makes each underlying read return periodically so that a
// cancelled ctx is noticed within one PollTimeout.
func (s *Source) ReadFrame(ctx context.Context) (core.RawFrame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return core.RawFrame{}, err
		}

		data, ci, err := s.handle.ZeroCopyReadPacketData()
		if err != nil {
			if ctx.Err() != nil {
				return core.RawFrame{}, ctx.Err()
			}
			if errors.Is(err, afpacket.ErrTimeout) || errors.Is(err, afpacket.ErrPoll) {
				continue
			}
			return core.RawFrame{}, fmt.Errorf("afpacket read on %s: %w", s.cfg.Interface, err)
		}

		s.packetsReceived.Add(1)
		if stats, _, statsErr := s.handle.SocketStats(); statsErr == nil {
			s.packetsDropped.Store(uint64(stats.Drops()))
		}

		// Ring memory is recycled on the next read; the redirector rewrites in place.
		s.buf = append(s.buf[:0], data...)
		return core.RawFrame{
			Data:           s.buf,
			Timestamp:      ci.Timestamp,
			CaptureLen:     uint32(ci.CaptureLength),
			OrigLen:        uint32(ci.Length),
			InterfaceIndex: ci.InterfaceIndex,
		}, nil
	}
}

// Stats returns frames received and dropped by the kernel ring.
func (s *Source) Stats() (received, dropped uint64) {
	return s.packetsReceived.Load(), s.packetsDropped.Load()
}

// Close releases the ring. It must not be called while ReadFrame is running.
func (s *Source) Close() error {
	if s.handle != nil {
		s.handle.Close()
		s.handle = nil
		slog.Info("afpacket capture closed", "interface", s.cfg.Interface)
	}
	return nil
}
