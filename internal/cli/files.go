package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/rudransh-shrivastava/peer-drop/internal/db"
	"github.com/rudransh-shrivastava/peer-drop/internal/files"
	"github.com/rudransh-shrivastava/peer-drop/internal/store"
	"github.com/rudransh-shrivastava/peer-drop/internal/transfer"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

func newFilesCommand(a *app) *cobra.Command {
	var listDir bool

	cmd := &cobra.Command{
		Use:   "files",
		Short: "list sent and received files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if listDir {
				return a.listDownloadDir(cmd.OutOrStdout(), afero.NewOsFs())
			}
			return a.showHistory(cmd)
		},
	}

	cmd.Flags().BoolVar(&listDir, "dir", false, "list the download directory instead of the transfer history")
	return cmd
}

func (a *app) listDownloadDir(out io.Writer, fs afero.Fs) error {
	dir, err := files.ExpandHome(a.cfg.Storage.DownloadDir)
	if err != nil {
		return err
	}

	entries, err := files.List(fs, dir)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintf(out, "No files in %s\n", dir)
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSIZE\tTYPE\tPATH")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Name, humanize.Bytes(uint64(e.Size)), e.Ext, e.Path)
	}
	return w.Flush()
}

func (a *app) showHistory(cmd *cobra.Command) error {
	gdb, err := a.openDB()
	if err != nil {
		return err
	}
	defer func() { _ = db.Close(gdb) }()

	return a.listRecords(cmd.Context(), cmd.OutOrStdout(), afero.NewOsFs(), store.NewRecordStore(gdb))
}

// listRecords prints the history and flags records whose local file has gone
// missing or no longer matches its checksum.
func (a *app) listRecords(ctx context.Context, out io.Writer, fs afero.Fs, rs store.RecordRepository) error {
	records, err := rs.GetRecords(ctx)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(out, "No transfers yet")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tDIR\tPEER\tNAME\tSIZE\tAVAILABLE")
	for _, r := range records {
		if r.Available && !a.intact(fs, r) {
			if err := rs.SetAvailable(ctx, r.ID, false); err != nil {
				a.log.Warnf("Failed to update %s: %v", r.Name, err)
			}
			r.Available = false
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%t\n",
			humanize.Time(r.CreatedAt), r.Direction, r.Peer, r.Name, humanize.Bytes(uint64(r.Size)), r.Available)
	}
	return w.Flush()
}

func (a *app) intact(fs afero.Fs, r db.FileRecord) bool {
	if r.LocalPath == "" {
		return false
	}
	f, err := fs.Open(r.LocalPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			a.log.Debugf("Opening %s: %v", r.LocalPath, err)
		}
		return false
	}
	defer f.Close()

	sum, err := transfer.HashReader(f)
	if err != nil {
		a.log.Debugf("Hashing %s: %v", r.LocalPath, err)
		return false
	}
	return r.Checksum == "" || sum == r.Checksum
}
