package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"icc.tech/l2relay/internal/config"
	"icc.tech/l2relay/internal/core"
)

// ProcessSignaler delivers a signal to a process.
type ProcessSignaler interface {
	Signal(pid int, sig syscall.Signal) error
}

var signalNames = map[syscall.Signal]string{
	syscall.SIGTERM: "SIGTERM",
	syscall.SIGHUP:  "SIGHUP",
}

type killSignaler struct{}

func (killSignaler) Signal(pid int, sig syscall.Signal) error {
	return syscall.Kill(pid, sig)
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a running redirector",
	Long: `Stop a running redirector gracefully by sending SIGTERM to the process named
in the PID file. The redirector drains its current frame, closes its sockets
and removes the PID file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := controlPIDFile()
		if err != nil {
			return err
		}
		return runSignal(path, syscall.SIGTERM, killSignaler{}, cmd.OutOrStdout())
	},
}

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload logging configuration of a running redirector",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := controlPIDFile()
		if err != nil {
			return err
		}
		return runSignal(path, syscall.SIGHUP, killSignaler{}, cmd.OutOrStdout())
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether a redirector is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := controlPIDFile()
		if err != nil {
			return err
		}
		return runStatus(path, killSignaler{}, cmd.OutOrStdout())
	},
}

func controlPIDFile() (string, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return "", err
	}
	return cfg.Control.PIDFile, nil
}

func runSignal(path string, sig syscall.Signal, signaler ProcessSignaler, out io.Writer) error {
	pid, err := readPID(path)
	if err != nil {
		return err
	}
	if err := signaler.Signal(pid, sig); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return fmt.Errorf("pid %d: %w", pid, core.ErrDaemonNotRunning)
		}
		return fmt.Errorf("failed to signal pid %d: %w", pid, err)
	}
	fmt.Fprintf(out, "✓ Sent %s to redirector (pid %d)\n", signalNames[sig], pid)
	return nil
}

func runStatus(path string, signaler ProcessSignaler, out io.Writer) error {
	pid, err := readPID(path)
	if err != nil {
		return err
	}
	if err := signaler.Signal(pid, 0); err != nil && !errors.Is(err, syscall.EPERM) {
		return fmt.Errorf("pid %d: %w", pid, core.ErrDaemonNotRunning)
	}
	fmt.Fprintf(out, "running (pid %d)\n", pid)
	return nil
}

func readPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("no PID file at %s: %w", path, core.ErrDaemonNotRunning)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read PID file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("PID file %s is corrupt: %q", path, data)
	}
	return pid, nil
}
