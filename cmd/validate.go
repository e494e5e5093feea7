package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"icc.tech/l2relay/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long: `Load and validate the configuration without starting anything.

The effective configuration, with defaults and environment overrides applied,
is printed as YAML.

Examples:
  l2relay validate -c config.yml
  l2relay validate -c config.yml --redirector --channel`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate(configFile, validateRedirector, validateChannel, cmd.OutOrStdout())
	},
}

var (
	validateRedirector bool
	validateChannel    bool
)

func init() {
	validateCmd.Flags().BoolVar(&validateRedirector, "redirector", false,
		"also require the settings the redirect command needs")
	validateCmd.Flags().BoolVar(&validateChannel, "channel", false,
		"also require the settings the request command needs")
}

func runValidate(path string, redirector, channel bool, out io.Writer) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("INVALID: %w", err)
	}
	if redirector {
		if err := cfg.ValidateRedirector(); err != nil {
			return fmt.Errorf("INVALID: %w", err)
		}
	}
	if channel {
		if err := cfg.ValidateChannel(); err != nil {
			return fmt.Errorf("INVALID: %w", err)
		}
	}

	data, err := yaml.Marshal(map[string]*config.GlobalConfig{"l2relay": cfg})
	if err != nil {
		return fmt.Errorf("failed to render config: %w", err)
	}
	fmt.Fprintf(out, "VALID: %s\n---\n%s", displayPath(path), data)
	return nil
}

func displayPath(path string) string {
	if path == "" {
		return "(defaults and environment)"
	}
	return path
}
