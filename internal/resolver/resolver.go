// Package resolver maps next-hop IPv4 addresses to hardware addresses.
//
// Lookups consult the configured neighbor tables in order. When none of them
// knows the address and a Prober is configured, one discovery request is sent
// and the tables are polled with exponential backoff until the address shows
// up or the resolution budget runs out. Resolve never blocks past that budget.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"github.com/cenkalti/backoff/v4"

	"icc.tech/l2relay/internal/core"
	"icc.tech/l2relay/internal/metrics"
)

const (
	defaultTimeout       = time.Second
	defaultProbeInterval = 10 * time.Millisecond
)

// Entry is a successful resolution.
type Entry struct {
	IP     netip.Addr
	MAC    net.HardwareAddr
	Source string // name of the table that answered
}

// Config bounds a Resolver.
type Config struct {
	Timeout       time.Duration // total budget per Resolve, default 1s
	ProbeInterval time.Duration // first poll delay after a probe, default 10ms
}

// Resolver implements address resolution over a chain of neighbor tables.
type Resolver struct {
	tables        []NeighborTable
	prober        Prober
	timeout       time.Duration
	probeInterval time.Duration
}

// New creates a Resolver. prober may be nil, in which case a miss in every
// table fails immediately.
func New(cfg Config, prober Prober, tables ...NeighborTable) *Resolver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = defaultProbeInterval
	}
	return &Resolver{
		tables:        tables,
		prober:        prober,
		timeout:       cfg.Timeout,
		probeInterval: cfg.ProbeInterval,
	}
}

// Resolve returns the hardware address for ip, or an error wrapping
// core.ErrResolutionFailed.
func (r *Resolver) Resolve(ctx context.Context, ip netip.Addr) (net.HardwareAddr, error) {
	e, err := r.ResolveEntry(ctx, ip)
	if err != nil {
		return nil, err
	}
	return e.MAC, nil
}

// Close releases the tables that hold resources.
func (r *Resolver) Close() error {
	var errs []error
	for _, t := range r.tables {
		if c, ok := t.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", t.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}

// ResolveEntry is Resolve with the answering table reported.
func (r *Resolver) ResolveEntry(ctx context.Context, ip netip.Addr) (Entry, error) {
	start := time.Now()
	defer func() {
		metrics.ResolverLatencySeconds.Observe(time.Since(start).Seconds())
	}()

	if !ip.IsValid() {
		return Entry{}, fmt.Errorf("invalid address: %w", core.ErrResolutionFailed)
	}

	if e, ok := r.lookup(ip); ok {
		return e, nil
	}
	if r.prober == nil {
		metrics.ResolverLookupsTotal.WithLabelValues(metrics.ResultMiss, "none").Inc()
		return Entry{}, fmt.Errorf("%s: %w", ip, core.ErrResolutionFailed)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.prober.Probe(ip); err != nil {
		// The tables may still learn the address from traffic we did not send.
		slog.Debug("discovery probe failed", "ip", ip, "error", err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.probeInterval
	bo.MaxInterval = r.timeout / 4
	bo.MaxElapsedTime = 0 // bounded by ctx
	bo.Reset()

	for {
		if !waitBackoff(ctx, bo) {
			metrics.ResolverLookupsTotal.WithLabelValues(metrics.ResultMiss, "probe").Inc()
			return Entry{}, fmt.Errorf("%s after %v: %w", ip, time.Since(start).Round(time.Millisecond), core.ErrResolutionFailed)
		}
		if e, ok := r.lookup(ip); ok {
			return e, nil
		}
	}
}

// lookup asks every table once. Table errors are not fatal.
func (r *Resolver) lookup(ip netip.Addr) (Entry, bool) {
	for _, t := range r.tables {
		mac, err := t.Lookup(ip)
		if err != nil {
			slog.Debug("neighbor table lookup failed", "table", t.Name(), "ip", ip, "error", err)
			continue
		}
		if mac == nil {
			continue
		}
		metrics.ResolverLookupsTotal.WithLabelValues(metrics.ResultHit, t.Name()).Inc()
		return Entry{IP: ip, MAC: mac, Source: t.Name()}, true
	}
	return Entry{}, false
}

func waitBackoff(ctx context.Context, bo backoff.BackOff) bool {
	next := bo.NextBackOff()
	if next == backoff.Stop {
		return false
	}
	t := time.NewTimer(next)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// IsNotFound reports whether err is a resolution miss.
func IsNotFound(err error) bool {
	return errors.Is(err, core.ErrResolutionFailed)
}
