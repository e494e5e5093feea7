package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"icc.tech/l2relay/internal/channel"
	"icc.tech/l2relay/internal/config"
	"icc.tech/l2relay/internal/core"
	logpkg "icc.tech/l2relay/internal/log"
)

// Requester performs one request/response exchange on an open channel.
type Requester interface {
	RequestResponse(ctx context.Context, msg []byte, timeout time.Duration) ([]byte, error)
	Close() error
}

var requestCmd = &cobra.Command{
	Use:   "request",
	Short: "Send a request over the TLS channel and print the response",
	Long: `Open the TLS control channel, send a message and print the next message the
peer sends. The wait is bounded by channel.request_timeout unless --timeout is
given.

Examples:
  l2relay request -m ping
  l2relay request -f request.bin --count 3 --timeout 2s`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}
		if err := cfg.ValidateChannel(); err != nil {
			return err
		}
		if err := logpkg.Init(cfg.Log); err != nil {
			return err
		}

		msg, err := requestPayload()
		if err != nil {
			return err
		}
		timeout := cfg.Channel.RequestTimeout
		if requestTimeout > 0 {
			timeout = requestTimeout
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		session, err := channel.Open(ctx, channelConfig(cfg.Channel))
		if err != nil {
			return err
		}
		return runRequest(ctx, session, msg, requestCount, timeout, cmd.OutOrStdout())
	},
}

var (
	requestMessage string
	requestFile    string
	requestCount   int
	requestTimeout time.Duration
)

func init() {
	requestCmd.Flags().StringVarP(&requestMessage, "message", "m", "", "message to send")
	requestCmd.Flags().StringVarP(&requestFile, "file", "f", "", "send the contents of a file")
	requestCmd.Flags().IntVarP(&requestCount, "count", "n", 1, "number of sequential requests")
	requestCmd.Flags().DurationVarP(&requestTimeout, "timeout", "t", 0,
		"response timeout (default: channel.request_timeout)")
	requestCmd.MarkFlagsMutuallyExclusive("message", "file")
	requestCmd.MarkFlagsOneRequired("message", "file")
}

func requestPayload() ([]byte, error) {
	if requestFile != "" {
		data, err := os.ReadFile(requestFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read file %s: %w", requestFile, err)
		}
		return data, nil
	}
	return []byte(requestMessage), nil
}

// runRequest sends msg count times and writes each response to out. The
// client is closed on return.
func runRequest(ctx context.Context, client Requester, msg []byte, count int, timeout time.Duration, out io.Writer) (err error) {
	defer func() {
		if cerr := client.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close channel: %w", cerr)
		}
	}()

	if count < 1 {
		count = 1
	}
	for i := 0; i < count; i++ {
		resp, err := client.RequestResponse(ctx, msg, timeout)
		switch {
		case errors.Is(err, core.ErrTimeout):
			return fmt.Errorf("no response within %v: %w", timeout, err)
		case errors.Is(err, core.ErrChannelClosed):
			return fmt.Errorf("peer closed the channel: %w", err)
		case err != nil:
			return fmt.Errorf("request failed: %w", err)
		}
		if _, err := out.Write(resp); err != nil {
			return fmt.Errorf("failed to write response: %w", err)
		}
		if !bytes.HasSuffix(resp, []byte("\n")) {
			if _, err := fmt.Fprintln(out); err != nil {
				return fmt.Errorf("failed to write response: %w", err)
			}
		}
	}
	return nil
}

func channelConfig(cc config.ChannelConfig) channel.Config {
	return channel.Config{
		Host:              cc.Host,
		Port:              cc.Port,
		VerifyCertificate: cc.VerifyCertificate,
		CACertFile:        cc.CACert,
		ServerName:        cc.ServerName,
		DialTimeout:       cc.DialTimeout,
	}
}
