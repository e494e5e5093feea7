// Package report delivers redirector events to operators.
package report

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/netip"

	"icc.tech/l2relay/internal/core"
)

// Reporter receives redirector events. Report is called from the capture
// loop and must not block for long.
type Reporter interface {
	Name() string
	Report(ctx context.Context, ev core.Event) error
	Close() error
}

// LogReporter writes events to a slog logger.
type LogReporter struct {
	logger *slog.Logger
}

// NewLogReporter creates a reporter on logger, or on slog.Default when nil.
func NewLogReporter(logger *slog.Logger) *LogReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogReporter{logger: logger.With("component", "redirector")}
}

// Name implements Reporter.
func (r *LogReporter) Name() string { return "log" }

// Report implements Reporter.
func (r *LogReporter) Report(ctx context.Context, ev core.Event) error {
	level := slog.LevelWarn
	if ev.Stage == core.StageSent || ev.Stage == core.StageFiltered {
		level = slog.LevelDebug
	}
	if !r.logger.Enabled(ctx, level) {
		return nil
	}

	attrs := []slog.Attr{
		slog.String("stage", string(ev.Stage)),
		slog.Int("length", ev.Length),
	}
	if ev.SrcIP.IsValid() {
		attrs = append(attrs, slog.String("src_ip", ev.SrcIP.String()))
	}
	if ev.DstIP.IsValid() {
		attrs = append(attrs, slog.String("dst_ip", ev.DstIP.String()))
	}
	if len(ev.DstMAC) > 0 {
		attrs = append(attrs, slog.String("dst_mac", ev.DstMAC.String()))
	}
	if ev.Err != nil {
		attrs = append(attrs, slog.String("error", ev.Err.Error()))
	}
	r.logger.LogAttrs(ctx, level, "frame "+string(ev.Stage), attrs...)
	return nil
}

// Close implements Reporter.
func (r *LogReporter) Close() error { return nil }

// Multi fans events out to several reporters.
type Multi []Reporter

// Name implements Reporter.
func (m Multi) Name() string { return "multi" }

// Report implements Reporter. Every reporter is tried; errors are joined.
func (m Multi) Report(ctx context.Context, ev core.Event) error {
	var errs []error
	for _, r := range m {
		if err := r.Report(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close implements Reporter.
func (m Multi) Close() error {
	var errs []error
	for _, r := range m {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Record is the wire form of an Event.
type Record struct {
	Stage     string `json:"stage"`
	Timestamp int64  `json:"timestamp"` // unix millis
	SrcIP     string `json:"src_ip,omitempty"`
	DstIP     string `json:"dst_ip,omitempty"`
	DstMAC    string `json:"dst_mac,omitempty"`
	Length    int    `json:"length"`
	Error     string `json:"error,omitempty"`
}

// NewRecord converts ev into its wire form.
func NewRecord(ev core.Event) Record {
	rec := Record{
		Stage:     string(ev.Stage),
		Timestamp: ev.Timestamp.UnixMilli(),
		SrcIP:     addrString(ev.SrcIP),
		DstIP:     addrString(ev.DstIP),
		Length:    ev.Length,
	}
	if len(ev.DstMAC) > 0 {
		rec.DstMAC = ev.DstMAC.String()
	}
	if ev.Err != nil {
		rec.Error = ev.Err.Error()
	}
	return rec
}

// Encode serializes ev as JSON.
func Encode(ev core.Event) ([]byte, error) {
	return json.Marshal(NewRecord(ev))
}

func addrString(a netip.Addr) string {
	if !a.IsValid() {
		return ""
	}
	return a.String()
}
