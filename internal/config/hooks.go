package config

import (
	"fmt"
	"net"
	"net/netip"
	"reflect"
	"strconv"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

// durationHook decodes durations from Go duration strings ("250ms") or from
// bare numbers, which are taken as seconds.
func durationHook() mapstructure.DecodeHookFuncType {
	durType := reflect.TypeOf(time.Duration(0))
	return func(f reflect.Type, t reflect.Type, data any) (any, error) {
		if t != durType {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			if v == "" {
				return time.Duration(0), nil
			}
			if d, err := time.ParseDuration(v); err == nil {
				return d, nil
			}
			secs, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid duration %q", v)
			}
			return seconds(secs), nil
		case int:
			return seconds(float64(v)), nil
		case int64:
			return seconds(float64(v)), nil
		case float64:
			return seconds(v), nil
		case time.Duration:
			return v, nil
		}
		return data, nil
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// addrHook decodes netip.Addr from its text form. An empty string leaves the
// zero Addr.
func addrHook() mapstructure.DecodeHookFuncType {
	addrType := reflect.TypeOf(netip.Addr{})
	return func(f reflect.Type, t reflect.Type, data any) (any, error) {
		if t != addrType || f.Kind() != reflect.String {
			return data, nil
		}
		s := data.(string)
		if s == "" {
			return netip.Addr{}, nil
		}
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return nil, fmt.Errorf("invalid IP address %q: %w", s, err)
		}
		return addr, nil
	}
}

func parseMAC(s string) (net.HardwareAddr, error) {
	mac, err := net.ParseMAC(s)
	if err != nil {
		return nil, err
	}
	if len(mac) != 6 {
		return nil, fmt.Errorf("%s is not an Ethernet address", s)
	}
	return mac, nil
}

// StaticNeighbors returns resolver.static as typed entries.
func (c ResolverConfig) StaticNeighbors() (map[netip.Addr]net.HardwareAddr, error) {
	out := make(map[netip.Addr]net.HardwareAddr, len(c.Static))
	for i, n := range c.Static {
		addr, err := netip.ParseAddr(n.IP)
		if err != nil {
			return nil, fmt.Errorf("resolver.static[%d]: %w", i, err)
		}
		if !addr.Is4() {
			return nil, fmt.Errorf("resolver.static[%d]: %s is not IPv4", i, addr)
		}
		hw, err := parseMAC(n.MAC)
		if err != nil {
			return nil, fmt.Errorf("resolver.static[%d]: %w", i, err)
		}
		out[addr] = hw
	}
	return out, nil
}
