package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rudransh-shrivastava/peer-drop/internal/config"
	"github.com/rudransh-shrivastava/peer-drop/internal/files"
	"github.com/rudransh-shrivastava/peer-drop/internal/logger"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// app carries what every subcommand needs once the root has parsed flags.
type app struct {
	v       *viper.Viper
	cfg     *config.Config
	log     *logrus.Logger
	cfgFile string
	verbose bool
}

func NewRootCommand() *cobra.Command {
	a := &app{v: viper.New(), log: logger.NewLogger()}

	rootCmd := &cobra.Command{
		Use:   "peerdrop",
		Short: "peerdrop sends files to nearby devices",
		Long: `peerdrop is a peer to peer file transfer tool for the local network.

Receivers announce themselves over UDP broadcast; senders pick one up (or take a
typed tcp://host:port|name address), connect over TLS and push files one at a time.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.initConfig()
		},
	}

	rootCmd.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default is $HOME/.peerdrop.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().String("name", "", "device name shown to peers")
	_ = a.v.BindPFlag("device.name", rootCmd.PersistentFlags().Lookup("name"))

	a.v.SetEnvPrefix("PEERDROP")
	a.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	a.v.AutomaticEnv()

	rootCmd.AddCommand(
		newReceiveCommand(a),
		newSendCommand(a),
		newDiscoverCommand(a),
		newFilesCommand(a),
		newCertsCommand(a),
	)
	return rootCmd
}

// initConfig reads the config file and env vars and validates the result.
func (a *app) initConfig() error {
	if a.verbose {
		a.log.SetLevel(logrus.DebugLevel)
	}

	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		a.v.AddConfigPath(home)
		a.v.SetConfigType("yaml")
		a.v.SetConfigName(".peerdrop")
	}

	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return err
		}
	} else {
		a.log.Debugf("Using config file: %s", a.v.ConfigFileUsed())
	}

	cfg, err := config.Load(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

func (a *app) dbPath() (string, error) {
	return files.ExpandHome(a.cfg.Storage.DBPath)
}

// Execute runs the CLI with a context that is cancelled on SIGINT or SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
