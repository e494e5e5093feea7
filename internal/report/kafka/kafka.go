// Package kafka publishes redirector events to a Kafka topic.
package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"icc.tech/l2relay/internal/core"
	"icc.tech/l2relay/internal/metrics"
	"icc.tech/l2relay/internal/report"
)

const (
	defaultBatchSize    = 100
	defaultBatchTimeout = 100 * time.Millisecond
	defaultCompression  = "snappy"
	defaultMaxAttempts  = 3
)

// Config represents Kafka reporter configuration.
type Config struct {
	Brokers      []string      // required
	Topic        string        // required
	BatchSize    int           // optional, default 100
	BatchTimeout time.Duration // optional, default 100ms
	Compression  string        // optional: none|gzip|snappy|lz4|zstd, default snappy
	MaxAttempts  int           // optional, default 3
}

// Reporter sends events to Kafka. Writes are asynchronous so the capture
// loop never waits on the broker; delivery errors are counted on completion.
type Reporter struct {
	writer *kafka.Writer
	config Config

	reportedCount atomic.Uint64
	errorCount    atomic.Uint64
}

var _ report.Reporter = (*Reporter)(nil)

// New validates cfg and creates the writer. No connection is made until the
// first batch is flushed.
func New(cfg Config) (*Reporter, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = defaultBatchTimeout
	}
	if cfg.Compression == "" {
		cfg.Compression = defaultCompression
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}

	codec, err := parseCompression(cfg.Compression)
	if err != nil {
		return nil, err
	}

	r := &Reporter{config: cfg}
	r.writer = &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{}, // events for one destination stay ordered
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		MaxAttempts:  cfg.MaxAttempts,
		Compression:  codec,
		Async:        true,
		Completion:   r.complete,
	}

	slog.Info("kafka reporter created",
		"brokers", cfg.Brokers,
		"topic", cfg.Topic,
		"batch_size", cfg.BatchSize,
		"batch_timeout", cfg.BatchTimeout,
		"compression", cfg.Compression,
	)
	return r, nil
}

// Name implements report.Reporter.
func (r *Reporter) Name() string { return "kafka" }

// Report implements report.Reporter.
func (r *Reporter) Report(ctx context.Context, ev core.Event) error {
	msg, err := newMessage(ev)
	if err != nil {
		r.errorCount.Add(1)
		return fmt.Errorf("serialize event failed: %w", err)
	}
	if err := r.writer.WriteMessages(ctx, msg); err != nil {
		r.errorCount.Add(1)
		return fmt.Errorf("kafka write failed: %w", err)
	}
	return nil
}

// Close flushes pending batches and closes the writer.
func (r *Reporter) Close() error {
	if err := r.writer.Close(); err != nil {
		slog.Error("error closing kafka writer", "error", err)
		return err
	}
	slog.Info("kafka reporter stopped",
		"total_reported", r.reportedCount.Load(),
		"total_errors", r.errorCount.Load(),
	)
	return nil
}

// Stats returns delivered and failed message counts.
func (r *Reporter) Stats() (reported, failed uint64) {
	return r.reportedCount.Load(), r.errorCount.Load()
}

func (r *Reporter) complete(messages []kafka.Message, err error) {
	if err != nil {
		r.errorCount.Add(uint64(len(messages)))
		metrics.ReporterErrorsTotal.WithLabelValues(r.Name()).Add(float64(len(messages)))
		slog.Warn("kafka batch failed", "messages", len(messages), "error", err)
		return
	}
	r.reportedCount.Add(uint64(len(messages)))
}

func newMessage(ev core.Event) (kafka.Message, error) {
	value, err := report.Encode(ev)
	if err != nil {
		return kafka.Message{}, err
	}
	msg := kafka.Message{
		Value:   value,
		Time:    ev.Timestamp,
		Headers: []kafka.Header{{Key: "stage", Value: []byte(ev.Stage)}},
	}
	if ev.DstIP.IsValid() {
		msg.Key = []byte(ev.DstIP.String())
	}
	return msg, nil
}

func parseCompression(name string) (compress.Compression, error) {
	switch name {
	case "none":
		return compress.None, nil
	case "gzip":
		return compress.Gzip, nil
	case "snappy":
		return compress.Snappy, nil
	case "lz4":
		return compress.Lz4, nil
	case "zstd":
		return compress.Zstd, nil
	default:
		return 0, fmt.Errorf("invalid compression type: %s", name)
	}
}
