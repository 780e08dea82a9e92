package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rudransh-shrivastava/peer-drop/internal/discovery"
	"github.com/rudransh-shrivastava/peer-drop/internal/node"
	"github.com/rudransh-shrivastava/peer-drop/internal/transfer"
	"github.com/rudransh-shrivastava/peer-drop/internal/transport"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newReceiveCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "receive",
		Short: "wait for a peer and receive files",
		Long: `receive listens for a peer, announces this device on the local network and
saves incoming files into the download directory until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runReceive(cmd.Context(), cmd)
		},
	}
	cmd.Flags().Int("port", 0, "port to listen on (overrides server.port)")
	_ = a.v.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	return cmd
}

func (a *app) runReceive(ctx context.Context, cmd *cobra.Command) error {
	serverTLS, err := transport.ServerTLSConfig(a.cfg.TLS.CertFile, a.cfg.TLS.KeyFile)
	if err != nil {
		return fmt.Errorf("%w (run `peerdrop certs` first)", err)
	}

	n, closeNode, err := a.openNode(ctx, serverTLS, nil)
	if err != nil {
		return err
	}
	defer closeNode()

	if err := n.StartServer(ctx, a.cfg.Server.Port); err != nil {
		return err
	}

	host := "127.0.0.1"
	if ip, err := discovery.LocalIPv4(); err == nil {
		host = ip.String()
	} else {
		a.log.Warnf("Falling back to loopback: %v", err)
	}
	self := discovery.PeerAddress{Host: host, Port: uint16(a.cfg.Server.Port), DeviceName: a.cfg.Device.Name}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Ready to receive as %q\n", self.DeviceName)
	fmt.Fprintf(out, "Pair manually with: %s\n", self)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return discovery.Announce(gctx, self, a.cfg.Discovery.Port, a.cfg.Discovery.Interval, a.log)
	})
	g.Go(func() error {
		return a.watchEvents(gctx, g, cmd, n)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// watchEvents reports node events until ctx ends. Each incoming file gets its own progress goroutine.
func (a *app) watchEvents(ctx context.Context, g *errgroup.Group, cmd *cobra.Command, n *node.Node) error {
	out := cmd.OutOrStdout()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-n.Events():
			if !ok {
				return nil
			}
			switch ev.Type {
			case node.EventConnected:
				fmt.Fprintf(out, "Connected to %s\n", ev.Peer)
			case node.EventDisconnected:
				fmt.Fprintf(out, "Disconnected from %s\n", peerLabel(ev.Peer))
			case node.EventWarning:
				a.log.Warnf("%v", ev.Err)
			case node.EventIncoming:
				pending := ev.Pending
				g.Go(func() error {
					if _, err := trackProgress(ctx, os.Stderr, pending); err != nil {
						if !errors.Is(err, context.Canceled) && !errors.Is(err, transfer.ErrSessionClosed) {
							a.log.Errorf("Receiving %s failed: %v", pending.Descriptor().Name, err)
						}
					}
					return nil
				})
			}
		}
	}
}

func peerLabel(name string) string {
	if name == "" {
		return "peer"
	}
	return name
}
