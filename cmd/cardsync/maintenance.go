package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/wordcards/cardsync/internal/ui"
)

var maintenanceCmd = &cobra.Command{
	Use:     "maintenance",
	GroupID: "sync",
	Short:   "Housekeeping for the local store",
}

var pruneTombstonesCmd = &cobra.Command{
	Use:   "prune-tombstones",
	Short: "Forget old deletion records",
	Long: `Remove deletion records older than --older-than from the local store and
from the shared replicas in the sync folder.

Each repository is pruned under its sync lock, so the command fails for a
repository another cardsync process is synchronizing. A machine that has not
synchronized since a pruned deletion can bring the card back, so choose an
age longer than any machine stays offline.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ageText, _ := cmd.Flags().GetString("older-than")
		age, err := parseAge(ageText)
		if err != nil {
			return err
		}
		cutoff := time.Now().Add(-age)

		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			s, err := a.synchronizer(nil)
			if err != nil {
				return err
			}
			results, err := s.PruneTombstones(ctx, cutoff)
			if jsonOutput {
				if perr := printJSON(results); perr != nil {
					return errors.Join(err, perr)
				}
				return err
			}

			var local, shared int64
			for _, r := range results {
				local += r.Local
				shared += r.Shared
			}
			fmt.Println(ui.RenderPassIcon(fmt.Sprintf(
				"Pruned %d local and %d shared deletion records older than %s",
				local, shared, cutoff.Local().Format("2006-01-02"))))
			return err
		})
	},
}

// parseAge accepts Go durations plus a day suffix, e.g. "90d" or "36h".
func parseAge(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 1 {
			return 0, fmt.Errorf("invalid age %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid age %q", s)
	}
	return d, nil
}

func init() {
	pruneTombstonesCmd.Flags().String("older-than", "180d", "Minimum age of records to remove")
	maintenanceCmd.AddCommand(pruneTombstonesCmd)
	rootCmd.AddCommand(maintenanceCmd)
}
