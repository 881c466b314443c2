package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wordcards/cardsync/internal/importer"
	"github.com/wordcards/cardsync/internal/ui"
)

var importCmd = &cobra.Command{
	Use:     "import <file.jsonl>",
	GroupID: "cards",
	Short:   "Import cards from a JSONL file",
	Long: `Import cards, one JSON object per line:

  {"text":"Haus","source":"de","target":"en","translation":"house","categories":["home"]}

Cards that already exist are left alone. Lines without languages use --from
and --to, then languages.source and languages.target from the config.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		from, _ := cmd.Flags().GetString("from")
		to, _ := cmd.Flags().GetString("to")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		if from == "" {
			from = cfg.Languages.Source
		}
		if to == "" {
			to = cfg.Languages.Target
		}

		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			res, err := importer.ImportFile(ctx, a.cards, args[0], importer.Options{
				DefaultSource: from,
				DefaultTarget: to,
				DryRun:        dryRun,
			})
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(res)
			}

			verb := "Imported"
			if dryRun {
				verb = "Would import"
			}
			fmt.Println(ui.RenderPassIcon(fmt.Sprintf("%s %d cards, %d already present", verb, res.Imported, res.Existing)))
			if res.Invalid > 0 {
				fmt.Println(ui.RenderWarnIcon(fmt.Sprintf("%d invalid lines", res.Invalid)))
				for _, e := range res.Errors {
					fmt.Println("  " + ui.RenderMuted(e))
				}
			}
			return nil
		})
	},
}

func init() {
	addKeyFlags(importCmd)
	importCmd.Flags().Bool("dry-run", false, "Validate without writing")
	rootCmd.AddCommand(importCmd)
}
