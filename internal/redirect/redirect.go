// Package redirect implements the Layer-2 redirector: frames sourced from a
// watched host are re-addressed to the hardware address of their IPv4
// destination and re-emitted on the egress interface.
//
// Each captured frame moves through
//
//	captured -> filtered (non-IPv4 or own egress, dropped silently)
//	         -> parsed -> resolved | unresolved
//	         -> rewritten -> sent | send_failed
//
// Per-frame failures are reported and never stop the loop.
package redirect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"icc.tech/l2relay/internal/core"
	"icc.tech/l2relay/internal/frame"
	"icc.tech/l2relay/internal/metrics"
	"icc.tech/l2relay/internal/report"
	"icc.tech/l2relay/internal/resolver"
)

const (
	defaultMaxFrameSize = 65535
	minFrameSize        = 60
)

// Source yields captured frames. ReadFrame returns ctx.Err() once ctx is
// done and io.EOF when a finite source is exhausted. The returned data may be
// modified by the caller and is valid until the next call.
type Source interface {
	ReadFrame(ctx context.Context) (core.RawFrame, error)
	Close() error
}

// Sender writes a complete frame on the egress link.
type Sender interface {
	SendFrame(f []byte) (int, error)
}

// Config holds the redirector's startup-resolved settings.
type Config struct {
	EgressMAC    net.HardwareAddr // source address of every re-emitted frame
	MaxFrameSize int              // longer frames are truncated before parsing
	ReportSent   bool             // also report successfully sent frames
}

// Deps are the collaborators a Redirector drives. Trace is optional.
type Deps struct {
	Source   Source
	Sender   Sender
	Resolver resolver.AddressResolver
	Reporter report.Reporter
	Trace    *Trace
}

// Redirector runs the capture loop. Run must be called at most once.
type Redirector struct {
	cfg  Config
	deps Deps

	stats Stats
}

// Stats are per-stage frame counters.
type Stats struct {
	Captured   atomic.Uint64
	Filtered   atomic.Uint64
	Malformed  atomic.Uint64
	Unresolved atomic.Uint64
	Sent       atomic.Uint64
	SendFailed atomic.Uint64
}

// Snapshot is a point-in-time copy of Stats.
type Snapshot struct {
	Captured   uint64 `json:"captured"`
	Filtered   uint64 `json:"filtered"`
	Malformed  uint64 `json:"malformed"`
	Unresolved uint64 `json:"unresolved"`
	Sent       uint64 `json:"sent"`
	SendFailed uint64 `json:"send_failed"`
}

// New validates cfg and deps.
func New(cfg Config, deps Deps) (*Redirector, error) {
	if !core.ValidHardwareAddr(cfg.EgressMAC) {
		return nil, fmt.Errorf("egress hardware address %v: %w", cfg.EgressMAC, core.ErrConfigInvalid)
	}
	if cfg.MaxFrameSize == 0 {
		cfg.MaxFrameSize = defaultMaxFrameSize
	}
	if cfg.MaxFrameSize < minFrameSize {
		return nil, fmt.Errorf("max frame size %d below %d: %w", cfg.MaxFrameSize, minFrameSize, core.ErrConfigInvalid)
	}
	if deps.Source == nil || deps.Sender == nil || deps.Resolver == nil {
		return nil, fmt.Errorf("redirector needs a source, a sender and a resolver: %w", core.ErrConfigInvalid)
	}
	if deps.Reporter == nil {
		deps.Reporter = report.NewLogReporter(nil)
	}
	return &Redirector{cfg: cfg, deps: deps}, nil
}

// Run reads and redirects frames until ctx is done or the source is
// exhausted. Only a source failure is returned as an error.
func (r *Redirector) Run(ctx context.Context) error {
	slog.Info("redirector started", "egress_mac", r.cfg.EgressMAC.String(), "max_frame_size", r.cfg.MaxFrameSize)
	defer func() {
		s := r.Stats()
		slog.Info("redirector stopped",
			"captured", s.Captured,
			"sent", s.Sent,
			"filtered", s.Filtered,
			"unresolved", s.Unresolved,
			"malformed", s.Malformed,
			"send_failed", s.SendFailed)
	}()

	for {
		raw, err := r.deps.Source.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("capture: %w", err)
		}
		r.handle(ctx, raw)
	}
}

// handle drives one frame through the pipeline and returns its final stage.
func (r *Redirector) handle(ctx context.Context, raw core.RawFrame) core.Stage {
	r.stats.Captured.Add(1)

	data := frame.Truncate(raw.Data, r.cfg.MaxFrameSize)
	ev := core.Event{Timestamp: raw.Timestamp, Length: len(data)}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	eth, err := frame.ParseEthernet(data)
	if err != nil {
		return r.finish(ctx, core.StageMalformed, ev, err)
	}
	// Frames already carrying the egress address are our own transmissions
	// seen again on the capture socket.
	if !eth.IsIPv4() || core.EqualHardwareAddr(eth.Src(), r.cfg.EgressMAC) {
		r.stats.Filtered.Add(1)
		metrics.RedirectFramesTotal.WithLabelValues(string(core.StageFiltered)).Inc()
		return core.StageFiltered
	}

	ip, err := frame.ParseIPv4(eth.Payload())
	if err != nil {
		return r.finish(ctx, core.StageMalformed, ev, err)
	}
	ev.SrcIP, ev.DstIP = ip.Src(), ip.Dst()

	mac, err := r.deps.Resolver.Resolve(ctx, ev.DstIP)
	if err != nil {
		if !errors.Is(err, core.ErrResolutionFailed) {
			err = fmt.Errorf("%w: %v", core.ErrResolutionFailed, err)
		}
		return r.finish(ctx, core.StageUnresolved, ev, err)
	}
	ev.DstMAC = mac

	out, err := frame.Rewrite(data, r.cfg.EgressMAC, mac)
	if err != nil {
		return r.finish(ctx, core.StageMalformed, ev, err)
	}

	n, err := r.deps.Sender.SendFrame(out)
	if err == nil && n != len(out) {
		err = fmt.Errorf("short write: %d of %d bytes", n, len(out))
	}
	if err != nil {
		return r.finish(ctx, core.StageSendFailed, ev, fmt.Errorf("%w: %v", core.ErrSendFailed, err))
	}

	metrics.RedirectBytesTotal.Add(float64(n))
	if r.deps.Trace != nil {
		r.deps.Trace.Dump(out, ev.Timestamp)
	}
	return r.finish(ctx, core.StageSent, ev, nil)
}

func (r *Redirector) finish(ctx context.Context, stage core.Stage, ev core.Event, err error) core.Stage {
	switch stage {
	case core.StageMalformed:
		r.stats.Malformed.Add(1)
	case core.StageUnresolved:
		r.stats.Unresolved.Add(1)
	case core.StageSendFailed:
		r.stats.SendFailed.Add(1)
	case core.StageSent:
		r.stats.Sent.Add(1)
	}
	metrics.RedirectFramesTotal.WithLabelValues(string(stage)).Inc()

	if stage == core.StageSent && !r.cfg.ReportSent {
		return stage
	}
	ev.Stage, ev.Err = stage, err
	if rerr := r.deps.Reporter.Report(ctx, ev); rerr != nil {
		metrics.ReporterErrorsTotal.WithLabelValues(r.deps.Reporter.Name()).Inc()
		slog.Debug("event report failed", "reporter", r.deps.Reporter.Name(), "error", rerr)
	}
	return stage
}

// Stats returns a snapshot of the per-stage counters.
func (r *Redirector) Stats() Snapshot {
	return Snapshot{
		Captured:   r.stats.Captured.Load(),
		Filtered:   r.stats.Filtered.Load(),
		Malformed:  r.stats.Malformed.Load(),
		Unresolved: r.stats.Unresolved.Load(),
		Sent:       r.stats.Sent.Load(),
		SendFailed: r.stats.SendFailed.Load(),
	}
}

// Close releases the source and the trace. The sender is owned by the caller.
func (r *Redirector) Close() error {
	var errs []error
	if err := r.deps.Source.Close(); err != nil {
		errs = append(errs, err)
	}
	if r.deps.Trace != nil {
		if err := r.deps.Trace.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
