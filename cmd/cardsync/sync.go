package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wordcards/cardsync/internal/daemon"
	"github.com/wordcards/cardsync/internal/dashboard"
	csync "github.com/wordcards/cardsync/internal/sync"
	"github.com/wordcards/cardsync/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync [repository...]",
	GroupID: "sync",
	Short:   "Run a sync pass now",
	Long: `Merge the local store with the shared replicas in the sync folder.

Without arguments every repository is synchronized; otherwise only the named
ones (learning, translations). A pass that finds the lock held by another
cardsync process on this machine is skipped. Skips are counted across
invocations, and once sync.lock_contention_threshold passes in a row were
skipped the command fails.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			s, err := a.synchronizer(nil)
			if err != nil {
				return err
			}
			d := daemon.New(s, a.pauses, &daemon.Config{Logger: logger})

			var (
				results []*csync.Result
				syncErr error
			)
			if len(args) == 0 {
				results, syncErr = d.SyncNow(ctx)
			} else {
				var errs []error
				for _, name := range args {
					r, err := d.SyncRepository(ctx, name)
					if r != nil {
						results = append(results, r)
					}
					if err != nil {
						errs = append(errs, fmt.Errorf("%s: %w", name, err))
					}
				}
				syncErr = errors.Join(errs...)
			}

			if jsonOutput {
				return errors.Join(syncErr, printJSON(results))
			}
			printResults(results)
			return syncErr
		})
	},
}

func printResults(results []*csync.Result) {
	for _, r := range results {
		switch {
		case r.Skipped:
			fmt.Println(ui.RenderWarnIcon(r.Repository + ": skipped, another sync is running"))
		case !r.Changed():
			fmt.Println(ui.RenderPassIcon(r.Repository + ": up to date"))
		default:
			fmt.Println(ui.RenderPassIcon(fmt.Sprintf("%s: %d pushed, %d pulled, %d deleted here, %d deleted there, %d rejected",
				r.Repository, r.Pushed, r.Pulled, r.DeletedLocal, r.DeletedShared, r.Rejected)))
		}
	}
}

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Synchronize in the background",
	Long: `Run until interrupted: synchronize on an interval and whenever another
machine's replica arrives in the sync folder, and pause review while a
blacklisted process is running.

With --port (or dashboard.port) a WebSocket dashboard streams pause state,
sync results and card changes:
  ws://127.0.0.1:<port>/ws`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port := cfg.Dashboard.Port
		if cmd.Flags().Changed("port") {
			port, _ = cmd.Flags().GetInt("port")
		}

		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			var events *dashboard.Handler
			if port > 0 {
				server := dashboard.NewServer(&dashboard.Config{Port: port, Logger: logger})
				if err := server.Start(); err != nil {
					return err
				}
				defer func() { logErr("dashboard shutdown", server.Stop()) }()

				events = dashboard.NewHandler(server, a.pauses, logger)
				unsubscribe := a.pauses.Subscribe(events.OnPauseEvent)
				defer unsubscribe()
				fmt.Println(ui.RenderPassIcon("Dashboard on ws://" + server.Addr() + "/ws"))
			}

			s, err := a.synchronizer(events)
			if err != nil {
				return err
			}

			dcfg := daemon.DefaultConfig()
			dcfg.SyncInterval = cfg.Sync.Interval
			dcfg.Debounce = cfg.Sync.Debounce
			dcfg.MonitorInterval = cfg.Monitor.Interval
			dcfg.Blacklist = a.settings.BlacklistedProcesses
			dcfg.Logger = logger
			if dcfg.Processes == nil {
				logger.Info("process monitor not supported on this platform")
			}

			d := daemon.New(s, a.pauses, dcfg)
			if events != nil {
				d.OnResult(events.OnSyncResult)
			}

			logger.Info("daemon running",
				zap.String("sync_root", s.Paths().SyncRoot),
				zap.Strings("repositories", s.Repositories()))
			fmt.Println(ui.RenderPassIcon("Syncing " + s.Paths().SyncRoot + " (Ctrl+C to stop)"))
			return d.Run(ctx)
		})
	},
}

func init() {
	daemonCmd.Flags().IntP("port", "p", 0, "Dashboard port (0 disables)")

	rootCmd.AddCommand(syncCmd, daemonCmd)
}
