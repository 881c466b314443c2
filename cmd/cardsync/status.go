package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/wordcards/cardsync/internal/learning"
	"github.com/wordcards/cardsync/internal/ledger"
	"github.com/wordcards/cardsync/internal/pause"
	"github.com/wordcards/cardsync/internal/tracked"
	"github.com/wordcards/cardsync/internal/ui"
)

type repositoryStatus struct {
	Name       string     `json:"name" yaml:"name"`
	Entities   int        `json:"entities" yaml:"entities"`
	Tombstones int        `json:"tombstones" yaml:"tombstones"`
	LastSync   *time.Time `json:"last_sync,omitempty" yaml:"last_sync,omitempty"`
	Shared     bool       `json:"shared_replica" yaml:"shared_replica"`
}

type statusReport struct {
	Machine      string             `json:"machine" yaml:"machine"`
	DataDir      string             `json:"data_dir" yaml:"data_dir"`
	SyncRoot     string             `json:"sync_root" yaml:"sync_root"`
	Paused       bool               `json:"paused" yaml:"paused"`
	PauseReasons string             `json:"pause_reasons,omitempty" yaml:"pause_reasons,omitempty"`
	PauseTotals  map[string]string  `json:"pause_totals,omitempty" yaml:"pause_totals,omitempty"`
	Repositories []repositoryStatus `json:"repositories" yaml:"repositories"`
	UILanguage   string             `json:"ui_language,omitempty" yaml:"ui_language,omitempty"`
	Excluded     []string           `json:"excluded_words,omitempty" yaml:"excluded_words,omitempty"`
	Blacklisted  []string           `json:"blacklisted_processes,omitempty" yaml:"blacklisted_processes,omitempty"`
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show sync and pause state",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		asYAML, _ := cmd.Flags().GetBool("yaml")

		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			report, err := buildStatus(ctx, a)
			if err != nil {
				return err
			}
			switch {
			case jsonOutput:
				return printJSON(report)
			case asYAML:
				enc := yaml.NewEncoder(os.Stdout)
				enc.SetIndent(2)
				if err := enc.Encode(report); err != nil {
					return err
				}
				return enc.Close()
			}
			printStatus(report)
			return nil
		})
	},
}

func buildStatus(ctx context.Context, a *app) (*statusReport, error) {
	paths := a.paths()
	report := &statusReport{
		Machine:     cfg.Sync.MachineName,
		DataDir:     cfg.DataDir,
		SyncRoot:    paths.SyncRoot,
		PauseTotals: map[string]string{},
	}
	report.PauseReasons, report.Paused = a.pauses.PauseReasons()
	for _, r := range pause.AllReasons {
		if total := a.pauses.TotalDuration(r); total > 0 {
			report.PauseTotals[r.String()] = total.Round(time.Second).String()
		}
	}

	var err error
	if report.UILanguage, err = a.settings.UILanguage(ctx); err != nil {
		return nil, err
	}
	if report.Excluded, err = a.settings.ExcludedWords(ctx); err != nil {
		return nil, err
	}
	if report.Blacklisted, err = a.settings.BlacklistedProcesses(ctx); err != nil {
		return nil, err
	}

	infos, err := repositoryState(ctx, a, learning.LearningCollection, a.cards.Infos().Count, a.cards.Infos().Ledger())
	if err != nil {
		return nil, err
	}
	translations, err := repositoryState(ctx, a, learning.TranslationCollection, a.cards.Translations().Count, a.cards.Translations().Ledger())
	if err != nil {
		return nil, err
	}
	report.Repositories = []repositoryStatus{infos, translations}
	return report, nil
}

func repositoryState(ctx context.Context, a *app, name string,
	count func(context.Context) (int, error), l *ledger.Ledger,
) (repositoryStatus, error) {
	st := repositoryStatus{Name: name}

	var err error
	if st.Entities, err = count(ctx); err != nil {
		return st, err
	}
	tombstones, err := tracked.Collect(l.All(ctx))
	if err != nil {
		return st, err
	}
	st.Tombstones = len(tombstones)

	last, err := a.settings.GetSyncTime(ctx, name)
	if err != nil {
		return st, err
	}
	if !last.IsZero() {
		st.LastSync = &last
	}
	_, statErr := os.Stat(a.paths().SharedFile(name))
	st.Shared = statErr == nil
	return st, nil
}

func printStatus(r *statusReport) {
	fmt.Println(ui.RenderHeader("cardsync on " + r.Machine))
	fmt.Printf("  data:      %s\n", r.DataDir)
	fmt.Printf("  sync root: %s\n", r.SyncRoot)
	if r.Paused {
		fmt.Printf("  review:    %s\n", ui.RenderWarn("paused: "+r.PauseReasons))
	} else {
		fmt.Printf("  review:    %s\n", ui.RenderPass("active"))
	}
	fmt.Println()

	for _, repo := range r.Repositories {
		last := ui.RenderWarn("never synced")
		if repo.LastSync != nil {
			last = "synced " + repo.LastSync.Local().Format("2006-01-02 15:04:05")
		}
		shared := ""
		if !repo.Shared {
			shared = ui.RenderMuted(" (no shared replica yet)")
		}
		fmt.Printf("  %-13s %5d entities  %4d tombstones  %s%s\n",
			repo.Name, repo.Entities, repo.Tombstones, last, shared)
	}

	if len(r.PauseTotals) > 0 {
		fmt.Println()
		fmt.Println(ui.RenderMuted("  time paused:"))
		for _, reason := range pause.AllReasons {
			if total, ok := r.PauseTotals[reason.String()]; ok {
				fmt.Printf("    %-20s %s\n", reason, total)
			}
		}
	}
}

func init() {
	statusCmd.Flags().Bool("yaml", false, "Output in YAML format")
	rootCmd.AddCommand(statusCmd)
}
