// Command cardsync manages a personal vocabulary and keeps it in sync
// between machines through a cloud-synchronized folder.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wordcards/cardsync/internal/config"
	"github.com/wordcards/cardsync/internal/logging"
	"github.com/wordcards/cardsync/internal/ui"
)

var (
	cfgFile    string
	verbose    bool
	jsonOutput bool

	cfg         *config.Config
	logger      *zap.Logger
	closeLogger func() error
)

var rootCmd = &cobra.Command{
	Use:   "cardsync",
	Short: "Vocabulary flash cards kept in sync across machines",
	Long: `cardsync stores vocabulary cards locally and synchronizes them with
other machines through a shared folder such as Dropbox or OneDrive.

Every machine keeps its own database. A sync pass merges it with the shared
replica for each repository: the most recent edit of a card wins, and
deletions travel as tombstones so a card removed on one machine is removed
everywhere.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}

		level := cfg.Log.Level
		switch {
		case verbose:
			level = "debug"
		case cfg.Log.File == "" && cmd.Name() != "daemon":
			// Console logs would interleave with command output.
			level = "warn"
		}
		logger, closeLogger, err = logging.New(logging.Options{
			File:       cfg.Log.File,
			Level:      level,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
		})
		return err
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if closeLogger != nil {
			return closeLogger()
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: $XDG_CONFIG_HOME/cardsync/cardsync.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	rootCmd.AddGroup(
		&cobra.Group{ID: "cards", Title: "Cards:"},
		&cobra.Group{ID: "sync", Title: "Synchronization:"},
		&cobra.Group{ID: "settings", Title: "Settings:"},
	)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, ui.RenderFailIcon(err.Error()))
		cancel()
		os.Exit(1)
	}
}
