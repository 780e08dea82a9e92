package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rudransh-shrivastava/peer-drop/internal/discovery"
	"github.com/rudransh-shrivastava/peer-drop/internal/transport"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var ErrNoPeers = errors.New("no peers found")

func newSendCommand(a *app) *cobra.Command {
	var (
		to   string
		wait time.Duration
	)

	cmd := &cobra.Command{
		Use:   "send file...",
		Short: "send files to a nearby peer",
		Long: `send connects to a receiver, either the first one discovered on the local
network or the one given with --to, and sends the files one after another.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var addr discovery.PeerAddress
			if to != "" {
				parsed, err := discovery.ParseAddress(to)
				if err != nil {
					return err
				}
				addr = parsed
			} else {
				found, err := a.findPeer(ctx, wait)
				if err != nil {
					return err
				}
				addr = found
			}

			return a.runSend(ctx, cmd, addr, args)
		},
	}

	cmd.Flags().StringVar(&to, "to", "", "receiver address as tcp://host:port|name")
	cmd.Flags().DurationVar(&wait, "wait", 10*time.Second, "how long to look for a receiver")
	return cmd
}

func (a *app) runSend(ctx context.Context, cmd *cobra.Command, addr discovery.PeerAddress, paths []string) error {
	clientTLS, err := transport.ClientTLSConfig(a.cfg.TLS.CAFile)
	if err != nil {
		return err
	}

	n, closeNode, err := a.openNode(ctx, nil, clientTLS)
	if err != nil {
		return err
	}
	defer closeNode()

	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	err = n.Connect(connectCtx, addr)
	cancel()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Connected to %s\n", addr.DeviceName)

	for _, path := range paths {
		pending, err := n.SendFile(ctx, path)
		if err != nil {
			return fmt.Errorf("sending %s: %w", path, err)
		}
		if _, err := trackProgress(ctx, os.Stderr, pending); err != nil {
			return fmt.Errorf("sending %s: %w", path, err)
		}
	}

	n.Disconnect()
	return nil
}

// findPeer returns the first receiver other than this device to announce itself within wait.
func (a *app) findPeer(ctx context.Context, wait time.Duration) (discovery.PeerAddress, error) {
	beacon, err := discovery.Listen(a.cfg.Discovery.Port, a.log)
	if err != nil {
		return discovery.PeerAddress{}, err
	}
	defer beacon.Close()

	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	g, gctx := errgroup.WithContext(waitCtx)
	g.Go(func() error { return beacon.Run(gctx) })

	a.log.Infof("Looking for receivers for %s...", wait)
	var found *discovery.PeerAddress
	for peer := range beacon.All(gctx) {
		if peer.DeviceName == a.cfg.Device.Name {
			continue
		}
		found = &peer
		break
	}
	cancel()
	_ = g.Wait()

	if found == nil {
		if ctx.Err() != nil {
			return discovery.PeerAddress{}, ctx.Err()
		}
		return discovery.PeerAddress{}, ErrNoPeers
	}
	a.log.Infof("Found %s at %s", found.DeviceName, found.Addr())
	return *found, nil
}
