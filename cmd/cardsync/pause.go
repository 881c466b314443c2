package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wordcards/cardsync/internal/pause"
	"github.com/wordcards/cardsync/internal/ui"
)

var pauseCmd = &cobra.Command{
	Use:     "pause [note]",
	GroupID: "settings",
	Short:   "Stop showing cards until resumed",
	Long: `Switch to inactive mode. No cards are scheduled until 'cardsync resume',
including after a restart. Synchronization continues.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		note := strings.Join(args, " ")
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			if err := a.pauses.Pause(ctx, pause.InactiveMode, note); err != nil {
				return err
			}
			fmt.Println(ui.RenderPassIcon("Paused"))
			return nil
		})
	},
}

var pauseResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear the recorded pause history",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			if err := a.pauses.ResetPauseTimes(ctx); err != nil {
				return err
			}
			fmt.Println(ui.RenderPassIcon("Pause history cleared"))
			return nil
		})
	},
}

var resumeCmd = &cobra.Command{
	Use:     "resume",
	GroupID: "settings",
	Short:   "Leave inactive mode",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			if err := a.pauses.Resume(ctx, pause.InactiveMode); err != nil {
				return err
			}
			if reasons, paused := a.pauses.PauseReasons(); paused {
				fmt.Println(ui.RenderWarnIcon("Resumed, still paused: " + reasons))
				return nil
			}
			fmt.Println(ui.RenderPassIcon("Resumed"))
			return nil
		})
	},
}

func init() {
	pauseCmd.AddCommand(pauseResetCmd)
	rootCmd.AddCommand(pauseCmd, resumeCmd)
}
