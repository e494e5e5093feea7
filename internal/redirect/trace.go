package redirect

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

const traceQueueLen = 4096

type traceSnapshot struct {
	data      []byte
	length    int
	timestamp time.Time
}

// Trace writes redirected frames to a pcap stream from a background
// goroutine. When the writer falls behind, frames are dropped and counted
// rather than stalling the capture loop.
type Trace struct {
	cancel   context.CancelFunc
	dropped  atomic.Uint64
	errch    chan error
	snaps    chan traceSnapshot
	once     sync.Once
	snapSize int
	wc       io.WriteCloser
}

// NewTrace starts a trace on wc, keeping at most snapSize bytes per frame.
func NewTrace(wc io.WriteCloser, snapSize int) *Trace {
	ctx, cancel := context.WithCancel(context.Background())
	tr := &Trace{
		cancel:   cancel,
		errch:    make(chan error, 1),
		snaps:    make(chan traceSnapshot, traceQueueLen),
		snapSize: snapSize,
		wc:       wc,
	}
	go tr.saveLoop(ctx)
	return tr
}

// Dump queues a copy of frame.
func (tr *Trace) Dump(frame []byte, ts time.Time) {
	snap := make([]byte, min(len(frame), tr.snapSize))
	copy(snap, frame)
	select {
	case tr.snaps <- traceSnapshot{data: snap, length: len(frame), timestamp: ts}:
	default:
		tr.dropped.Add(1)
	}
}

// Dropped returns the number of frames lost to a full queue.
func (tr *Trace) Dropped() uint64 {
	return tr.dropped.Load()
}

func (tr *Trace) saveLoop(ctx context.Context) {
	w := pcapgo.NewWriter(tr.wc)
	if err := w.WriteFileHeader(uint32(tr.snapSize), layers.LinkTypeEthernet); err != nil {
		tr.errch <- err
		return
	}

	for {
		select {
		case <-ctx.Done():
			// drain what is already queued
			for {
				select {
				case snap := <-tr.snaps:
					if err := tr.save(w, snap); err != nil {
						tr.errch <- err
						return
					}
				default:
					tr.errch <- nil
					return
				}
			}
		case snap := <-tr.snaps:
			if err := tr.save(w, snap); err != nil {
				tr.errch <- err
				return
			}
		}
	}
}

func (tr *Trace) save(w *pcapgo.Writer, snap traceSnapshot) error {
	ts := snap.timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return w.WritePacket(gopacket.CaptureInfo{
		Timestamp:     ts,
		CaptureLength: len(snap.data),
		Length:        snap.length,
	}, snap.data)
}

// Close stops the writer goroutine, flushing queued frames, then closes wc.
func (tr *Trace) Close() (err error) {
	tr.once.Do(func() {
		tr.cancel()
		err1 := <-tr.errch
		err2 := tr.wc.Close()
		err = errors.Join(err1, err2)
	})
	return
}
