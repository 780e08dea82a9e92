package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rudransh-shrivastava/peer-drop/internal/discovery"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newDiscoverCommand(a *app) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "list receivers announcing themselves nearby",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			beacon, err := discovery.Listen(a.cfg.Discovery.Port, a.log)
			if err != nil {
				return err
			}
			defer beacon.Close()

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return beacon.Run(gctx) })

			out := cmd.OutOrStdout()
			start := time.Now()
			count := 0
			for peer := range beacon.All(gctx) {
				count++
				fmt.Fprintf(out, "%-20s %s\n", peer.DeviceName, peer)
			}
			if err := g.Wait(); err != nil {
				return err
			}

			fmt.Fprintf(out, "%d peer(s) found since %s\n", count, humanize.Time(start))
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "how long to listen (0 means until interrupted)")
	return cmd
}
