package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"icc.tech/l2relay/internal/daemon"
)

// redirectCmd runs the redirector in the foreground.
var redirectCmd = &cobra.Command{
	Use:     "redirect",
	Aliases: []string{"daemon"},
	Short:   "Run the frame redirector in foreground",
	Long: `Run the frame redirector in foreground.

The redirector will:
  1. Load configuration and initialize logging and metrics
  2. Resolve the egress interface and open the raw egress socket
  3. Capture frames from redirector.watched_ip (or replay redirector.replay_file)
  4. Rewrite each IPv4 frame's Ethernet addresses and send it on the egress link
  5. Handle SIGTERM/SIGINT for graceful shutdown and SIGHUP for log reload

Requires CAP_NET_RAW.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRedirect()
	},
}

var pidFile string

func init() {
	redirectCmd.Flags().StringVarP(&pidFile, "pidfile", "p", "",
		"PID file path (default: control.pid_file)")
}

func runRedirect() error {
	d, err := daemon.New(configFile, pidFile)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	if err := d.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	// Blocks until shutdown.
	return d.Run()
}
