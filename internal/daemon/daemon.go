// Package daemon implements the redirector process lifecycle.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"icc.tech/l2relay/internal/config"
	logpkg "icc.tech/l2relay/internal/log"
	"icc.tech/l2relay/internal/metrics"
	"icc.tech/l2relay/internal/redirect"
	"icc.tech/l2relay/internal/source/afpacket"
)

const statsInterval = 10 * time.Second

// Daemon manages the redirector process lifecycle.
type Daemon struct {
	// Configuration
	config     *config.GlobalConfig
	configPath string
	pidFile    string

	// Core components
	build         func(*config.GlobalConfig) (*pipeline, error)
	pipe          *pipeline
	metricsServer *metrics.Server // nil if metrics disabled

	// Lifecycle management
	ctx          context.Context
	cancel       context.CancelFunc
	runDone      chan error // result of the redirector loop
	shutdownChan chan struct{}
	sigChan      chan os.Signal
	stopOnce     sync.Once
}

// New creates a new Daemon instance. An empty pidFile falls back to
// control.pid_file.
func New(configPath, pidFile string) (*Daemon, error) {
	globalConfig, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if pidFile == "" {
		pidFile = globalConfig.Control.PIDFile
	}

	d := &Daemon{
		config:       globalConfig,
		configPath:   configPath,
		pidFile:      pidFile,
		build:        buildPipeline,
		runDone:      make(chan error, 1),
		shutdownChan: make(chan struct{}, 1),
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d, nil
}

// Start initializes all components and launches the redirector loop.
func (d *Daemon) Start() error {
	// 1. Initialize logging system
	if err := d.initLogging(); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	slog.Info("starting l2relay redirector",
		"config", d.configPath,
		"watched_ip", d.config.Redirector.WatchedIP,
		"capture_interface", d.config.Redirector.CaptureInterface,
		"egress_interface", d.config.Redirector.EgressInterface,
	)

	// 2. Build the pipeline before anything is left behind on disk
	pipe, err := d.build(d.config)
	if err != nil {
		return fmt.Errorf("failed to build redirector: %w", err)
	}

	// 3. Write PID file
	if err := d.writePIDFile(); err != nil {
		_ = pipe.Close()
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	// 4. Start metrics server
	if err := d.startMetrics(); err != nil {
		_ = pipe.Close()
		_ = d.removePIDFile()
		return fmt.Errorf("failed to start metrics server: %w", err)
	}
	d.pipe = pipe

	// 5. Run the redirector
	go func() {
		d.runDone <- d.pipe.redirector.Run(d.ctx)
	}()
	go d.statsLoop()

	slog.Info("redirector daemon started")
	return nil
}

// Run blocks until shutdown is triggered by SIGTERM/SIGINT, TriggerShutdown,
// or the redirector loop ending. SIGHUP reloads logging.
func (d *Daemon) Run() error {
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	for {
		select {
		case sig := <-d.sigChan:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				slog.Info("received shutdown signal", "signal", sig)
				return d.Stop()

			case syscall.SIGHUP:
				slog.Info("received reload signal")
				if err := d.Reload(); err != nil {
					slog.Error("failed to reload config", "error", err)
				}
			}

		case <-d.shutdownChan:
			slog.Info("shutdown triggered")
			return d.Stop()

		case err := <-d.runDone:
			// Replay exhausted or the capture source failed.
			d.runDone <- err
			if err != nil {
				slog.Error("redirector stopped", "error", err)
			}
			return d.Stop()
		}
	}
}

// Stop cancels the redirector, waits for it, and releases every resource.
// It returns the redirector loop's error, if any.
func (d *Daemon) Stop() error {
	var runErr error
	d.stopOnce.Do(func() {
		slog.Info("initiating graceful shutdown")

		// 1. Stop the capture loop; it notices within one poll timeout.
		d.cancel()
		if d.pipe != nil {
			runErr = <-d.runDone
			if err := d.pipe.Close(); err != nil {
				slog.Error("error closing redirector", "error", err)
			}
			stats := d.pipe.redirector.Stats()
			slog.Info("redirector totals",
				"captured", stats.Captured,
				"sent", stats.Sent,
				"unresolved", stats.Unresolved,
				"send_failed", stats.SendFailed)
		}

		// 2. Stop metrics server
		if d.metricsServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := d.metricsServer.Stop(shutdownCtx); err != nil {
				slog.Error("error stopping metrics server", "error", err)
			}
		}

		// 3. Unregister signal handler
		if d.sigChan != nil {
			signal.Stop(d.sigChan)
		}

		// 4. Remove PID file
		if err := d.removePIDFile(); err != nil {
			slog.Error("error removing PID file", "error", err)
		}

		slog.Info("daemon stopped gracefully")
		if err := logpkg.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "error closing log file: %v\n", err)
		}
	})
	return runErr
}

// TriggerShutdown asks Run to stop.
func (d *Daemon) TriggerShutdown() {
	select {
	case d.shutdownChan <- struct{}{}:
	default:
	}
}

// Reload re-reads the configuration and applies the logging section.
// Everything else is resolved once at startup and needs a restart.
func (d *Daemon) Reload() error {
	slog.Info("reloading configuration", "path", d.configPath)

	newConfig, err := config.Load(d.configPath)
	if err != nil {
		return fmt.Errorf("failed to load new config: %w", err)
	}

	requiresRestart := []string{}
	if newConfig.Redirector != d.config.Redirector {
		requiresRestart = append(requiresRestart, "redirector")
	}
	if newConfig.Metrics != d.config.Metrics {
		requiresRestart = append(requiresRestart, "metrics")
	}

	d.config.Log = newConfig.Log
	if err := d.initLogging(); err != nil {
		return fmt.Errorf("failed to reinitialize logging: %w", err)
	}

	slog.Info("configuration reloaded",
		"hot_reloaded", []string{"log"},
		"requires_restart", requiresRestart,
	)
	return nil
}

// Stats returns the redirector counters; zero before Start.
func (d *Daemon) Stats() redirect.Snapshot {
	if d.pipe == nil {
		return redirect.Snapshot{}
	}
	return d.pipe.redirector.Stats()
}

// statsLoop mirrors kernel ring drops into metrics.
func (d *Daemon) statsLoop() {
	src, ok := d.pipe.source.(*afpacket.Source)
	if !ok {
		return
	}
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			received, dropped := src.Stats()
			metrics.CaptureDropsTotal.Set(float64(dropped))
			slog.Debug("capture stats", "received", received, "dropped", dropped)
		case <-d.ctx.Done():
			return
		}
	}
}

// initLogging initializes the logging system from config.
func (d *Daemon) initLogging() error {
	if err := logpkg.Init(d.config.Log); err != nil {
		return err
	}
	slog.Debug("logging initialized",
		"level", d.config.Log.Level,
		"format", d.config.Log.Format,
	)
	return nil
}

// startMetrics starts the metrics HTTP server if enabled.
func (d *Daemon) startMetrics() error {
	if !d.config.Metrics.Enabled {
		slog.Info("metrics server disabled")
		return nil
	}

	d.metricsServer = metrics.NewServer(d.config.Metrics.Listen, d.config.Metrics.Path)
	if err := d.metricsServer.Start(d.ctx); err != nil {
		d.metricsServer = nil
		return err
	}

	slog.Info("metrics server started",
		"addr", d.metricsServer.Addr(),
		"path", d.config.Metrics.Path,
	)
	return nil
}

// writePIDFile writes the current process ID to the PID file.
func (d *Daemon) writePIDFile() error {
	if d.pidFile == "" {
		return nil
	}

	pid := os.Getpid()
	data := []byte(strconv.Itoa(pid) + "\n")

	if err := os.WriteFile(d.pidFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write PID file %s: %w", d.pidFile, err)
	}

	slog.Debug("PID file written", "path", d.pidFile, "pid", pid)
	return nil
}

// removePIDFile removes the PID file.
func (d *Daemon) removePIDFile() error {
	if d.pidFile == "" {
		return nil
	}

	if err := os.Remove(d.pidFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove PID file %s: %w", d.pidFile, err)
	}

	slog.Debug("PID file removed", "path", d.pidFile)
	return nil
}
