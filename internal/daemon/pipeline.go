package daemon

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"icc.tech/l2relay/internal/config"
	"icc.tech/l2relay/internal/egress"
	"icc.tech/l2relay/internal/redirect"
	"icc.tech/l2relay/internal/report"
	"icc.tech/l2relay/internal/report/kafka"
	"icc.tech/l2relay/internal/resolver"
	"icc.tech/l2relay/internal/source/afpacket"
	"icc.tech/l2relay/internal/source/file"
)

// pipeline holds the redirector and every resource opened for it.
type pipeline struct {
	redirector *redirect.Redirector
	source     redirect.Source // owned by redirector once it exists
	closers    []io.Closer // released in reverse order after the redirector
}

// Close releases the redirector, then the remaining resources.
func (p *pipeline) Close() error {
	var errs []error
	if p.redirector != nil {
		if err := p.redirector.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// buildPipeline resolves the egress link and opens the capture source,
// resolver chain and reporters. Everything is resolved once here; the
// running redirector never reopens them.
func buildPipeline(cfg *config.GlobalConfig) (_ *pipeline, err error) {
	if err := cfg.ValidateRedirector(); err != nil {
		return nil, err
	}
	rc := cfg.Redirector
	p := &pipeline{}
	defer func() {
		if err != nil {
			if p.redirector == nil && p.source != nil {
				_ = p.source.Close()
			}
			_ = p.Close()
		}
	}()

	iface, err := egress.LookupInterface(rc.EgressInterface)
	if err != nil {
		return nil, err
	}
	sock, err := egress.Open(iface)
	if err != nil {
		return nil, err
	}
	p.closers = append(p.closers, sock)

	addrs, err := BuildResolver(cfg.Resolver, iface, sock)
	if err != nil {
		return nil, err
	}
	p.closers = append(p.closers, addrs)

	reporter, err := buildReporter(cfg.Events)
	if err != nil {
		return nil, err
	}
	p.closers = append(p.closers, reporter)

	var trace *redirect.Trace
	if rc.TraceFile != "" {
		f, err := os.Create(rc.TraceFile)
		if err != nil {
			return nil, fmt.Errorf("failed to create trace file: %w", err)
		}
		trace = redirect.NewTrace(f, rc.MaxFrameSize)
	}

	src, err := openSource(rc)
	if err != nil {
		if trace != nil {
			_ = trace.Close()
		}
		return nil, err
	}
	p.source = src

	p.redirector, err = redirect.New(redirect.Config{
		EgressMAC:    iface.MAC,
		MaxFrameSize: rc.MaxFrameSize,
		ReportSent:   rc.ReportSent,
	}, redirect.Deps{
		Source:   src,
		Sender:   sock,
		Resolver: addrs,
		Reporter: reporter,
		Trace:    trace,
	})
	if err != nil {
		if trace != nil {
			_ = trace.Close()
		}
		return nil, err
	}
	return p, nil
}

func openSource(rc config.RedirectorConfig) (redirect.Source, error) {
	if rc.ReplayFile != "" {
		return file.Open(file.Config{
			Path:      rc.ReplayFile,
			WatchedIP: rc.WatchedIP,
			SnapLen:   rc.MaxFrameSize,
		})
	}
	return afpacket.Open(afpacket.Config{
		Interface:    rc.CaptureInterface,
		WatchedIP:    rc.WatchedIP,
		SnapLen:      rc.MaxFrameSize,
		RingBufferMB: rc.RingBufferMB,
		PollTimeout:  rc.PollTimeout,
	})
}

// BuildResolver assembles the resolver chain for iface: static entries, the
// kernel neighbor table over netlink, then procfs. Discovery probes go out
// through sender when enabled and iface has an IPv4 address. The caller
// closes the result to release the netlink connection.
func BuildResolver(rc config.ResolverConfig, iface egress.Interface, sender resolver.FrameSender) (resolver.ClosingResolver, error) {
	static, err := rc.StaticNeighbors()
	if err != nil {
		return nil, err
	}

	var tables []resolver.NeighborTable
	if len(static) > 0 {
		tables = append(tables, resolver.StaticTable(static))
	}
	tables = append(tables,
		&resolver.NetlinkTable{IfIndex: iface.Index},
		&resolver.ProcTable{Path: rc.ProcARPPath, Device: iface.Name},
	)

	var prober resolver.Prober
	switch {
	case !rc.Probe || sender == nil:
	case !iface.Addr.IsValid():
		slog.Warn("egress interface has no IPv4 address, discovery probes disabled", "interface", iface.Name)
	default:
		arp, err := resolver.NewARPProber(sender, iface.MAC, iface.Addr)
		if err != nil {
			return nil, err
		}
		prober = arp
	}

	r := resolver.New(resolver.Config{
		Timeout:       rc.Timeout,
		ProbeInterval: rc.ProbeInterval,
	}, prober, tables...)

	if rc.CacheTTL > 0 {
		return resolver.NewCached(r, rc.CacheTTL), nil
	}
	return r, nil
}

func buildReporter(ec config.EventsConfig) (report.Reporter, error) {
	reporters := report.Multi{report.NewLogReporter(nil)}
	if k := ec.Kafka; k.Enabled {
		kr, err := kafka.New(kafka.Config{
			Brokers:      k.Brokers,
			Topic:        k.Topic,
			BatchSize:    k.BatchSize,
			BatchTimeout: k.BatchTimeout,
			Compression:  k.Compression,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create kafka reporter: %w", err)
		}
		reporters = append(reporters, kr)
	}
	return reporters, nil
}
