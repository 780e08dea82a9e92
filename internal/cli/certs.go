package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rudransh-shrivastava/peer-drop/internal/transport"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

const (
	certFileName = "server-cert.pem"
	keyFileName  = "server-key.pem"
)

func newCertsCommand(a *app) *cobra.Command {
	var (
		outDir string
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "certs",
		Short: "generate the TLS pair shared by paired devices",
		Long: `certs writes a self-signed certificate and key. Copy both files to every device
you want to pair; the certificate doubles as the trusted CA.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			certPath, keyPath, err := writeCerts(afero.NewOsFs(), outDir, force)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s and %s\n", certPath, keyPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&outDir, "out", "certs", "directory to write the pair into")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing pair")
	return cmd
}

func writeCerts(fs afero.Fs, dir string, force bool) (string, string, error) {
	certPath := filepath.Join(dir, certFileName)
	keyPath := filepath.Join(dir, keyFileName)

	if !force {
		for _, p := range []string{certPath, keyPath} {
			if exists, _ := afero.Exists(fs, p); exists {
				return "", "", fmt.Errorf("%s already exists (use --force to overwrite): %w", p, os.ErrExist)
			}
		}
	}

	certPEM, keyPEM, err := transport.GenerateSelfSignedCert()
	if err != nil {
		return "", "", fmt.Errorf("generating certificate: %w", err)
	}

	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return "", "", err
	}
	if err := afero.WriteFile(fs, certPath, certPEM, 0o644); err != nil {
		return "", "", err
	}
	if err := afero.WriteFile(fs, keyPath, keyPEM, 0o600); err != nil {
		return "", "", err
	}
	return certPath, keyPath, nil
}
