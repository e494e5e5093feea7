package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/netip"

	"github.com/spf13/cobra"

	"icc.tech/l2relay/internal/config"
	"icc.tech/l2relay/internal/daemon"
	"icc.tech/l2relay/internal/egress"
	logpkg "icc.tech/l2relay/internal/log"
	"icc.tech/l2relay/internal/resolver"
)

// AddressResolver maps an IPv4 address to a hardware address.
type AddressResolver interface {
	Resolve(ctx context.Context, ip netip.Addr) (net.HardwareAddr, error)
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <ipv4>",
	Short: "Resolve a next hop's hardware address the way the redirector does",
	Long: `Resolve the hardware address of an IPv4 next hop through the configured chain:
static entries, the kernel neighbor table, /proc/net/arp, then an ARP probe on
the egress interface when resolver.probe is set and the raw socket can be opened.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ip, err := netip.ParseAddr(args[0])
		if err != nil || !ip.Is4() {
			return fmt.Errorf("%q is not an IPv4 address", args[0])
		}

		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}
		if err := logpkg.Init(cfg.Log); err != nil {
			return err
		}
		ifname := resolveInterface
		if ifname == "" {
			ifname = cfg.Redirector.EgressInterface
		}
		if ifname == "" {
			return fmt.Errorf("no interface: set --interface or redirector.egress_interface")
		}

		iface, err := egress.LookupInterface(ifname)
		if err != nil {
			return err
		}

		var sender resolver.FrameSender
		if cfg.Resolver.Probe {
			sock, err := egress.Open(iface)
			if err != nil {
				slog.Warn("raw socket unavailable, resolving without probes", "error", err)
			} else {
				defer sock.Close()
				sender = sock
			}
		}

		r, err := daemon.BuildResolver(cfg.Resolver, iface, sender)
		if err != nil {
			return err
		}
		defer r.Close()
		return runResolve(cmd.Context(), r, ip, cmd.OutOrStdout())
	},
}

var resolveInterface string

func init() {
	resolveCmd.Flags().StringVarP(&resolveInterface, "interface", "i", "",
		"interface to resolve on (default: redirector.egress_interface)")
}

func runResolve(ctx context.Context, r AddressResolver, ip netip.Addr, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	mac, err := r.Resolve(ctx, ip)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", ip, err)
	}
	fmt.Fprintf(out, "%s is-at %s\n", ip, mac)
	return nil
}
