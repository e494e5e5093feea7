package config

import (
	"errors"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"icc.tech/l2relay/internal/core"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return configPath
}

func TestLoadValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
l2relay:
  redirector:
    watched_ip: "192.168.1.10"
    egress_interface: "eth1"
    max_frame_size: 1514
    poll_timeout: "50ms"
  resolver:
    timeout: "2s"
    cache_ttl: "30s"
    static:
      - ip: "10.0.0.5"
        mac: "aa:bb:cc:dd:ee:ff"
  channel:
    host: "relay.example"
    port: 8443
    verify_certificate: false
    request_timeout: 3
  events:
    kafka:
      enabled: true
      brokers:
        - "localhost:9092"
  log:
    level: "debug"
    format: "text"
  control:
    pid_file: "/tmp/test.pid"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Redirector.WatchedIP != netip.MustParseAddr("192.168.1.10") {
		t.Errorf("Expected watched_ip 192.168.1.10, got %v", cfg.Redirector.WatchedIP)
	}
	if cfg.Redirector.CaptureInterface != "eth1" {
		t.Errorf("Expected capture interface to default to egress eth1, got %q", cfg.Redirector.CaptureInterface)
	}
	if cfg.Redirector.MaxFrameSize != 1514 {
		t.Errorf("Expected max_frame_size 1514, got %d", cfg.Redirector.MaxFrameSize)
	}
	if cfg.Redirector.PollTimeout != 50*time.Millisecond {
		t.Errorf("Expected poll_timeout 50ms, got %v", cfg.Redirector.PollTimeout)
	}
	if cfg.Resolver.Timeout != 2*time.Second {
		t.Errorf("Expected resolver timeout 2s, got %v", cfg.Resolver.Timeout)
	}
	if cfg.Channel.RequestTimeout != 3*time.Second {
		t.Errorf("Expected bare number request_timeout to mean 3s, got %v", cfg.Channel.RequestTimeout)
	}
	if cfg.Channel.VerifyCertificate {
		t.Error("Expected verify_certificate false")
	}
	if cfg.Channel.Port != 8443 {
		t.Errorf("Expected port 8443, got %d", cfg.Channel.Port)
	}
	if cfg.Events.Kafka.Topic != "l2relay-events" {
		t.Errorf("Expected default kafka topic, got %q", cfg.Events.Kafka.Topic)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "text" {
		t.Errorf("Expected debug/text logging, got %s/%s", cfg.Log.Level, cfg.Log.Format)
	}
	if cfg.Control.PIDFile != "/tmp/test.pid" {
		t.Errorf("Expected PIDFile /tmp/test.pid, got %s", cfg.Control.PIDFile)
	}

	static, err := cfg.Resolver.StaticNeighbors()
	if err != nil {
		t.Fatalf("StaticNeighbors: %v", err)
	}
	want := net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}
	if got := static[netip.MustParseAddr("10.0.0.5")]; got.String() != want.String() {
		t.Errorf("Expected static neighbor %s, got %s", want, got)
	}

	if err := cfg.ValidateRedirector(); err != nil {
		t.Errorf("ValidateRedirector: %v", err)
	}
	if err := cfg.ValidateChannel(); err != nil {
		t.Errorf("ValidateChannel: %v", err)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "l2relay: {}\n"))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Redirector.MaxFrameSize != 65535 {
		t.Errorf("Expected default max_frame_size 65535, got %d", cfg.Redirector.MaxFrameSize)
	}
	if cfg.Resolver.Timeout != time.Second {
		t.Errorf("Expected default resolver timeout 1s, got %v", cfg.Resolver.Timeout)
	}
	if !cfg.Resolver.Probe {
		t.Error("Expected discovery probe enabled by default")
	}
	if cfg.Channel.RequestTimeout != 5*time.Second {
		t.Errorf("Expected default request_timeout 5s, got %v", cfg.Channel.RequestTimeout)
	}
	if !cfg.Channel.VerifyCertificate {
		t.Error("Expected certificate verification on by default")
	}
	if cfg.Metrics.Listen != ":9092" {
		t.Errorf("Expected default metrics listen :9092, got %s", cfg.Metrics.Listen)
	}
	if cfg.Redirector.WatchedIP.IsValid() {
		t.Errorf("Expected no watched ip by default, got %v", cfg.Redirector.WatchedIP)
	}

	if err := cfg.ValidateRedirector(); !errors.Is(err, core.ErrConfigInvalid) {
		t.Errorf("Expected ErrConfigInvalid without watched_ip, got %v", err)
	}
	if err := cfg.ValidateChannel(); !errors.Is(err, core.ErrConfigInvalid) {
		t.Errorf("Expected ErrConfigInvalid without channel.host, got %v", err)
	}
}

func TestLoadWithoutFile(t *testing.T) {
	t.Setenv("L2RELAY_CHANNEL_HOST", "10.1.2.3")
	t.Setenv("L2RELAY_CHANNEL_REQUEST_TIMEOUT", "1.5")
	t.Setenv("L2RELAY_LOG_LEVEL", "warn")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Channel.Host != "10.1.2.3" {
		t.Errorf("Expected env host 10.1.2.3, got %q", cfg.Channel.Host)
	}
	if cfg.Channel.RequestTimeout != 1500*time.Millisecond {
		t.Errorf("Expected env request_timeout 1.5s, got %v", cfg.Channel.RequestTimeout)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Expected env log level warn, got %s", cfg.Log.Level)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"log level", "l2relay:\n  log:\n    level: verbose\n"},
		{"log format", "l2relay:\n  log:\n    format: xml\n"},
		{"ipv6 watched ip", "l2relay:\n  redirector:\n    watched_ip: \"2001:db8::1\"\n"},
		{"frame size too small", "l2relay:\n  redirector:\n    max_frame_size: 59\n"},
		{"frame size too large", "l2relay:\n  redirector:\n    max_frame_size: 70000\n"},
		{"port out of range", "l2relay:\n  channel:\n    port: 0\n"},
		{"kafka without brokers", "l2relay:\n  events:\n    kafka:\n      enabled: true\n"},
		{"bad static mac", "l2relay:\n  resolver:\n    static:\n      - ip: 10.0.0.5\n        mac: zz\n"},
		{"bad static ip", "l2relay:\n  resolver:\n    static:\n      - ip: nowhere\n        mac: aa:bb:cc:dd:ee:ff\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !errors.Is(err, core.ErrConfigInvalid) {
				t.Errorf("Expected ErrConfigInvalid, got %v", err)
			}
		})
	}
}

func TestLoadUnparsable(t *testing.T) {
	if _, err := Load(writeConfig(t, "l2relay:\n  redirector:\n    watched_ip: \"not-an-ip\"\n")); err == nil {
		t.Error("Expected decode error for bad watched_ip")
	}
	if _, err := Load(writeConfig(t, "l2relay:\n  channel:\n    request_timeout: \"soon\"\n")); err == nil {
		t.Error("Expected decode error for bad duration")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Error("Expected error for missing file")
	}
}
