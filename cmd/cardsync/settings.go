package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wordcards/cardsync/internal/ui"
)

var excludeCmd = &cobra.Command{
	Use:     "exclude [word...]",
	GroupID: "settings",
	Short:   "Keep words from arriving on this machine",
	Long: `Add words to this machine's exclusion list. Cards for excluded words
that other machines add or edit are not pulled here. Without arguments the
list is printed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		wipe, _ := cmd.Flags().GetBool("clear")
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			if wipe {
				if err := a.settings.SetExcludedWords(ctx, nil); err != nil {
					return err
				}
				fmt.Println(ui.RenderPassIcon("Exclusion list cleared"))
				return nil
			}
			for _, w := range args {
				if err := a.settings.AddExcludedWord(ctx, w); err != nil {
					return err
				}
			}
			words, err := a.settings.ExcludedWords(ctx)
			if err != nil {
				return err
			}
			return printList(words, "No excluded words.")
		})
	},
}

var blacklistCmd = &cobra.Command{
	Use:     "blacklist [process...]",
	GroupID: "settings",
	Short:   "Pause review while these processes run",
	Long: `Replace the list of process names that pause review while running,
for example games or presentation software. Names match case-insensitively,
with or without .exe. Without arguments the list is printed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		wipe, _ := cmd.Flags().GetBool("clear")
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			if wipe || len(args) > 0 {
				if err := a.settings.SetBlacklistedProcesses(ctx, args); err != nil {
					return err
				}
			}
			names, err := a.settings.BlacklistedProcesses(ctx)
			if err != nil {
				return err
			}
			return printList(names, "No blacklisted processes.")
		})
	},
}

var languageCmd = &cobra.Command{
	Use:     "language [code]",
	GroupID: "settings",
	Short:   "Get or set the interface language",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			if len(args) == 1 {
				if err := a.settings.SetUILanguage(ctx, strings.TrimSpace(args[0])); err != nil {
					return err
				}
			}
			lang, err := a.settings.UILanguage(ctx)
			if err != nil {
				return err
			}
			if lang == "" {
				fmt.Println(ui.RenderMuted("System default"))
				return nil
			}
			fmt.Println(lang)
			return nil
		})
	},
}

func printList(items []string, empty string) error {
	if jsonOutput {
		if items == nil {
			items = []string{}
		}
		return printJSON(items)
	}
	if len(items) == 0 {
		fmt.Println(ui.RenderMuted(empty))
		return nil
	}
	for _, it := range items {
		fmt.Println(it)
	}
	return nil
}

func init() {
	excludeCmd.Flags().Bool("clear", false, "Remove every excluded word")
	blacklistCmd.Flags().Bool("clear", false, "Remove every process name")

	rootCmd.AddCommand(excludeCmd, blacklistCmd, languageCmd)
}
