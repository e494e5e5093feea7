// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"icc.tech/l2relay/internal/core"
)

// GlobalConfig represents the top-level static configuration.
// Maps to the `l2relay:` root key in YAML.
type GlobalConfig struct {
	Redirector RedirectorConfig `mapstructure:"redirector" yaml:"redirector"`
	Resolver   ResolverConfig   `mapstructure:"resolver" yaml:"resolver"`
	Channel    ChannelConfig    `mapstructure:"channel" yaml:"channel"`
	Events     EventsConfig     `mapstructure:"events" yaml:"events"`
	Metrics    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
	Control    ControlConfig    `mapstructure:"control" yaml:"control"`
}

// ─── Redirector ───

// RedirectorConfig configures capture and re-emission of frames.
type RedirectorConfig struct {
	WatchedIP        netip.Addr    `mapstructure:"watched_ip" yaml:"watched_ip"`
	CaptureInterface string        `mapstructure:"capture_interface" yaml:"capture_interface"` // empty = egress_interface
	EgressInterface  string        `mapstructure:"egress_interface" yaml:"egress_interface"`
	MaxFrameSize     int           `mapstructure:"max_frame_size" yaml:"max_frame_size"`
	PollTimeout      time.Duration `mapstructure:"poll_timeout" yaml:"poll_timeout"`
	RingBufferMB     int           `mapstructure:"ring_buffer_mb" yaml:"ring_buffer_mb"`
	TraceFile        string        `mapstructure:"trace_file" yaml:"trace_file"`   // pcap of re-emitted frames, empty = off
	ReplayFile       string        `mapstructure:"replay_file" yaml:"replay_file"` // read frames from pcap instead of capturing
	ReportSent       bool          `mapstructure:"report_sent" yaml:"report_sent"`
}

// ─── Resolver ───

// ResolverConfig configures next-hop hardware address resolution.
type ResolverConfig struct {
	Timeout       time.Duration     `mapstructure:"timeout" yaml:"timeout"`
	Probe         bool              `mapstructure:"probe" yaml:"probe"`
	ProbeInterval time.Duration     `mapstructure:"probe_interval" yaml:"probe_interval"`
	CacheTTL      time.Duration     `mapstructure:"cache_ttl" yaml:"cache_ttl"` // 0 = resolve every frame
	ProcARPPath   string            `mapstructure:"proc_arp_path" yaml:"proc_arp_path"`
	Static        []StaticNeighbor  `mapstructure:"static" yaml:"static,omitempty"` // consulted first
}

// StaticNeighbor pins a next hop to a hardware address.
type StaticNeighbor struct {
	IP  string `mapstructure:"ip" yaml:"ip"`
	MAC string `mapstructure:"mac" yaml:"mac"`
}

// ─── Secure Channel ───

// ChannelConfig configures the TLS control channel.
type ChannelConfig struct {
	Host              string        `mapstructure:"host" yaml:"host"`
	Port              int           `mapstructure:"port" yaml:"port"`
	VerifyCertificate bool          `mapstructure:"verify_certificate" yaml:"verify_certificate"`
	CACert            string        `mapstructure:"ca_cert" yaml:"ca_cert"`
	ServerName        string        `mapstructure:"server_name" yaml:"server_name"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"` // bare number = seconds
	DialTimeout       time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
}

// ─── Events ───

// EventsConfig selects where redirector events go besides the log.
type EventsConfig struct {
	Kafka KafkaEventsConfig `mapstructure:"kafka" yaml:"kafka"`
}

// KafkaEventsConfig configures the Kafka event reporter.
type KafkaEventsConfig struct {
	Enabled      bool          `mapstructure:"enabled" yaml:"enabled"`
	Brokers      []string      `mapstructure:"brokers" yaml:"brokers"`
	Topic        string        `mapstructure:"topic" yaml:"topic"`
	Compression  string        `mapstructure:"compression" yaml:"compression"` // none | gzip | snappy | lz4 | zstd
	BatchSize    int           `mapstructure:"batch_size" yaml:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout" yaml:"batch_timeout"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level" yaml:"level"`   // debug / info / warn / error
	Format  string           `mapstructure:"format" yaml:"format"` // json / text
	Outputs LogOutputsConfig `mapstructure:"outputs" yaml:"outputs"`
}

// LogOutputsConfig contains structured log output destinations.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file" yaml:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled" yaml:"enabled"`
	Path     string         `mapstructure:"path" yaml:"path"`
	Rotation RotationConfig `mapstructure:"rotation" yaml:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days" yaml:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups" yaml:"max_backups"`
	Compress   bool `mapstructure:"compress" yaml:"compress"`
}

// ─── Control ───

// ControlConfig contains local process control settings.
type ControlConfig struct {
	PIDFile string `mapstructure:"pid_file" yaml:"pid_file"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `l2relay: ...`.
type configRoot struct {
	L2Relay GlobalConfig `mapstructure:"l2relay"`
}

// Load loads configuration from path. An empty path loads defaults and
// environment overrides only. Env vars use the L2RELAY_ prefix, e.g.
// L2RELAY_CHANNEL_HOST for l2relay.channel.host.
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// The `l2relay.` key prefix maps to `L2RELAY_` through the replacer.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root, viper.DecodeHook(decodeHook())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.L2Relay

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationHook(),
		addrHook(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// setDefaults sets default values for configuration.
// All keys use the "l2relay." prefix to match the YAML root wrapper, and
// every key is listed so environment overrides apply to it.
func setDefaults(v *viper.Viper) {
	// Redirector defaults
	v.SetDefault("l2relay.redirector.watched_ip", "")
	v.SetDefault("l2relay.redirector.capture_interface", "")
	v.SetDefault("l2relay.redirector.egress_interface", "")
	v.SetDefault("l2relay.redirector.max_frame_size", 65535)
	v.SetDefault("l2relay.redirector.poll_timeout", "100ms")
	v.SetDefault("l2relay.redirector.ring_buffer_mb", 8)
	v.SetDefault("l2relay.redirector.trace_file", "")
	v.SetDefault("l2relay.redirector.replay_file", "")
	v.SetDefault("l2relay.redirector.report_sent", false)

	// Resolver defaults
	v.SetDefault("l2relay.resolver.timeout", "1s")
	v.SetDefault("l2relay.resolver.probe", true)
	v.SetDefault("l2relay.resolver.probe_interval", "10ms")
	v.SetDefault("l2relay.resolver.cache_ttl", "0s")
	v.SetDefault("l2relay.resolver.proc_arp_path", "/proc/net/arp")

	// Channel defaults
	v.SetDefault("l2relay.channel.host", "")
	v.SetDefault("l2relay.channel.port", 443)
	v.SetDefault("l2relay.channel.verify_certificate", true)
	v.SetDefault("l2relay.channel.ca_cert", "")
	v.SetDefault("l2relay.channel.server_name", "")
	v.SetDefault("l2relay.channel.request_timeout", "5s")
	v.SetDefault("l2relay.channel.dial_timeout", "10s")

	// Event reporter defaults
	v.SetDefault("l2relay.events.kafka.enabled", false)
	v.SetDefault("l2relay.events.kafka.brokers", []string{})
	v.SetDefault("l2relay.events.kafka.topic", "l2relay-events")
	v.SetDefault("l2relay.events.kafka.compression", "snappy")
	v.SetDefault("l2relay.events.kafka.batch_size", 100)
	v.SetDefault("l2relay.events.kafka.batch_timeout", "100ms")

	// Metrics defaults
	v.SetDefault("l2relay.metrics.enabled", true)
	v.SetDefault("l2relay.metrics.listen", ":9092")
	v.SetDefault("l2relay.metrics.path", "/metrics")

	// Log defaults
	v.SetDefault("l2relay.log.level", "info")
	v.SetDefault("l2relay.log.format", "json")
	v.SetDefault("l2relay.log.outputs.file.enabled", false)
	v.SetDefault("l2relay.log.outputs.file.path", "/var/log/l2relay/l2relay.log")
	v.SetDefault("l2relay.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("l2relay.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("l2relay.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("l2relay.log.outputs.file.rotation.compress", true)

	// Control defaults
	v.SetDefault("l2relay.control.pid_file", "/var/run/l2relay.pid")
}

// ValidateAndApplyDefaults validates settings shared by every command.
// Command-specific requirements live in ValidateRedirector and ValidateChannel.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return invalid("invalid log level: %s (must be debug/info/warn/error)", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return invalid("invalid log format: %s (must be json/text)", cfg.Log.Format)
	}

	// ── Redirector ──
	r := &cfg.Redirector
	if r.WatchedIP.IsValid() && !r.WatchedIP.Is4() {
		return invalid("redirector.watched_ip must be IPv4, got %s", r.WatchedIP)
	}
	if r.MaxFrameSize < 60 || r.MaxFrameSize > 65535 {
		return invalid("redirector.max_frame_size must be within [60, 65535], got %d", r.MaxFrameSize)
	}
	if r.CaptureInterface == "" {
		r.CaptureInterface = r.EgressInterface
	}

	// ── Resolver ──
	if cfg.Resolver.Timeout <= 0 {
		return invalid("resolver.timeout must be positive, got %v", cfg.Resolver.Timeout)
	}
	if _, err := cfg.Resolver.StaticNeighbors(); err != nil {
		return invalid("%v", err)
	}

	// ── Channel ──
	if cfg.Channel.Port < 1 || cfg.Channel.Port > 65535 {
		return invalid("channel.port must be within [1, 65535], got %d", cfg.Channel.Port)
	}
	if cfg.Channel.RequestTimeout <= 0 {
		return invalid("channel.request_timeout must be positive, got %v", cfg.Channel.RequestTimeout)
	}

	// ── Events ──
	if k := cfg.Events.Kafka; k.Enabled {
		if len(k.Brokers) == 0 {
			return invalid("events.kafka.brokers is required when events.kafka.enabled=true")
		}
		if k.Topic == "" {
			return invalid("events.kafka.topic is required when events.kafka.enabled=true")
		}
	}
	return nil
}

// ValidateRedirector checks what the redirect command needs.
func (cfg *GlobalConfig) ValidateRedirector() error {
	if !cfg.Redirector.WatchedIP.IsValid() {
		return invalid("redirector.watched_ip is required")
	}
	if cfg.Redirector.EgressInterface == "" {
		return invalid("redirector.egress_interface is required")
	}
	return nil
}

// ValidateChannel checks what the request command needs.
func (cfg *GlobalConfig) ValidateChannel() error {
	if cfg.Channel.Host == "" {
		return invalid("channel.host is required")
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", core.ErrConfigInvalid, fmt.Sprintf(format, args...))
}
