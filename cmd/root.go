// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "l2relay",
	Short: "l2relay - layer-2 redirector with a TLS control channel",
	Long: `l2relay captures IPv4 frames sent by one watched host and re-emits them on an
egress link with rewritten Ethernet addresses. The destination address is the
next hop's hardware address, resolved from the kernel neighbor table.

It also carries a TLS control channel client that pairs each request with the
next message the peer sends, bounded by a timeout.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/l2relay/config.yml",
		"config file path (empty for defaults and L2RELAY_* environment only)")

	rootCmd.AddCommand(redirectCmd)
	rootCmd.AddCommand(requestCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(reloadCmd)
	rootCmd.AddCommand(statusCmd)
}
