package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rudransh-shrivastava/peer-drop/internal/transfer"
	"github.com/schollz/progressbar/v3"
)

const progressTick = 100 * time.Millisecond

// trackProgress draws a bar for p until it resolves and returns its outcome.
func trackProgress(ctx context.Context, out io.Writer, p *transfer.Pending) (*transfer.Record, error) {
	desc := p.Descriptor()
	operation := "Receiving"
	if p.Direction() == transfer.DirectionSent {
		operation = "Sending"
	}

	bar := progressbar.NewOptions64(int64(desc.Size),
		progressbar.OptionSetDescription(fmt.Sprintf("%s %s", operation, desc.Name)),
		progressbar.OptionSetWriter(out),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(50),
		progressbar.OptionThrottle(progressTick),
		progressbar.OptionShowCount(),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(false),
	)

	start := time.Now()
	ticker := time.NewTicker(progressTick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = bar.Set64(int64(p.Progress()))
		case <-ctx.Done():
			_ = bar.Exit()
			return nil, ctx.Err()
		case outcome := <-p.Done():
			if outcome.Err != nil {
				_ = bar.Exit()
				fmt.Fprintln(out)
				return nil, outcome.Err
			}
			_ = bar.Set64(int64(desc.Size))
			_ = bar.Finish()
			fmt.Fprintln(out)
			printSummary(out, operation, outcome.Record, time.Since(start))
			return outcome.Record, nil
		}
	}
}

func printSummary(out io.Writer, operation string, rec *transfer.Record, elapsed time.Duration) {
	rate := "n/a"
	if secs := elapsed.Seconds(); secs > 0 {
		rate = humanize.Bytes(uint64(float64(rec.Size)/secs)) + "/s"
	}
	fmt.Fprintf(out, "%s %s done: %s in %s (%s)\n",
		operation, rec.Name, humanize.Bytes(rec.Size), elapsed.Round(time.Millisecond), rate)
	if rec.Direction == transfer.DirectionReceived {
		fmt.Fprintf(out, "  saved to %s\n", rec.LocalPath)
	}
	fmt.Fprintf(out, "  sha256 %s\n", rec.Checksum)
}
