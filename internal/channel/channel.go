// Package channel implements the TLS control channel: a SecureChannel, the
// listener goroutine that owns its receive path, and the coordinator that
// pairs each outbound request with the next inbound outcome.
package channel

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"icc.tech/l2relay/internal/core"
)

const (
	defaultDialTimeout    = 10 * time.Second
	defaultReadBufferSize = 64 * 1024
)

// Config describes how to reach and authenticate the peer.
type Config struct {
	Host              string
	Port              int
	VerifyCertificate bool
	CACertFile        string        // optional PEM bundle replacing the system roots
	ServerName        string        // optional SNI / verification name, defaults to Host
	DialTimeout       time.Duration // TCP connect plus handshake, default 10s
	ReadBufferSize    int           // upper bound of one Receive, default 64KiB

	// TLSConfig, when set, is used as the base configuration.
	TLSConfig *tls.Config
}

// Addr returns host:port.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// SecureChannel is a connected TLS stream. Send may be called from one
// goroutine while Receive runs on another.
type SecureChannel struct {
	conn *tls.Conn
	buf  []byte

	closeOnce sync.Once
	closeErr  error
}

// Dial connects and completes the TLS handshake. Failures wrap core.ErrConnect.
func Dial(ctx context.Context, cfg Config) (*SecureChannel, error) {
	tlsCfg, err := clientTLSConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrConnect, err)
	}
	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	bufSize := cfg.ReadBufferSize
	if bufSize <= 0 {
		bufSize = defaultReadBufferSize
	}

	d := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: timeout},
		Config:    tlsCfg,
	}
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := d.DialContext(dctx, "tcp", cfg.Addr())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", core.ErrConnect, cfg.Addr(), err)
	}
	return &SecureChannel{conn: conn.(*tls.Conn), buf: make([]byte, bufSize)}, nil
}

// Send writes msg in full. Failures wrap core.ErrSend.
func (c *SecureChannel) Send(msg []byte) error {
	if _, err := c.conn.Write(msg); err != nil {
		return fmt.Errorf("%w: %v", core.ErrSend, err)
	}
	return nil
}

// Receive blocks for at most one transport read. It returns the bytes read,
// an error wrapping core.ErrChannelClosed when the peer or Close ended the
// stream, or one wrapping core.ErrReceive on any other failure. Only one
// goroutine may call Receive.
func (c *SecureChannel) Receive() ([]byte, error) {
	n, err := c.conn.Read(c.buf)
	if n > 0 {
		out := make([]byte, n)
		copy(out, c.buf[:n])
		return out, nil
	}
	switch {
	case err == nil, errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, net.ErrClosed):
		return nil, core.ErrChannelClosed
	default:
		return nil, fmt.Errorf("%w: %v", core.ErrReceive, err)
	}
}

// Close shuts the connection down, unblocking a pending Receive. It is safe
// to call more than once.
func (c *SecureChannel) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// RemoteAddr returns the peer address.
func (c *SecureChannel) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func clientTLSConfig(cfg Config) (*tls.Config, error) {
	var tc *tls.Config
	if cfg.TLSConfig != nil {
		tc = cfg.TLSConfig.Clone()
	} else {
		tc = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	tc.InsecureSkipVerify = !cfg.VerifyCertificate
	if tc.ServerName == "" {
		tc.ServerName = cfg.ServerName
	}
	if tc.ServerName == "" {
		tc.ServerName = cfg.Host
	}

	if cfg.CACertFile != "" {
		pem, err := os.ReadFile(cfg.CACertFile)
		if err != nil {
			return nil, fmt.Errorf("read CA bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates in %s", cfg.CACertFile)
		}
		tc.RootCAs = pool
	}
	return tc, nil
}
