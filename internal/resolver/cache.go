package resolver

import (
	"context"
	"io"
	"net"
	"net/netip"
	"time"

	"github.com/patrickmn/go-cache"
)

// AddressResolver is what the redirector needs from a resolver.
type AddressResolver interface {
	Resolve(ctx context.Context, ip netip.Addr) (net.HardwareAddr, error)
}

// ClosingResolver is an AddressResolver that owns sockets or files.
type ClosingResolver interface {
	AddressResolver
	io.Closer
}

// Cached keeps successful resolutions for a TTL. Misses are never cached so
// a host that shows up later is picked up on the next frame.
type Cached struct {
	next  AddressResolver
	cache *cache.Cache
}

// NewCached wraps next with a TTL cache.
func NewCached(next AddressResolver, ttl time.Duration) *Cached {
	cleanup := ttl * 2
	if cleanup < time.Second {
		cleanup = time.Second
	}
	return &Cached{
		next:  next,
		cache: cache.New(ttl, cleanup),
	}
}

// Resolve implements AddressResolver.
func (c *Cached) Resolve(ctx context.Context, ip netip.Addr) (net.HardwareAddr, error) {
	key := ip.String()
	if v, ok := c.cache.Get(key); ok {
		return v.(net.HardwareAddr), nil
	}
	mac, err := c.next.Resolve(ctx, ip)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(key, mac)
	return mac, nil
}

// Close flushes the cache and closes next when it is closable.
func (c *Cached) Close() error {
	c.cache.Flush()
	if cl, ok := c.next.(io.Closer); ok {
		return cl.Close()
	}
	return nil
}

// Flush drops every cached entry.
func (c *Cached) Flush() {
	c.cache.Flush()
}
