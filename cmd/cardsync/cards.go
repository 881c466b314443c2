package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wordcards/cardsync/internal/classify"
	"github.com/wordcards/cardsync/internal/learning"
	"github.com/wordcards/cardsync/internal/tracked"
	"github.com/wordcards/cardsync/internal/ui"
)

var addCmd = &cobra.Command{
	Use:     "add <text> [translation]",
	GroupID: "cards",
	Short:   "Add a card",
	Long: `Add a card that is due for review immediately.

Examples:
  cardsync add Haus house --from de --to en
  cardsync add "to make do" --alt "to manage" --example "We'll make do." --favorite`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		from, _ := cmd.Flags().GetString("from")
		to, _ := cmd.Flags().GetString("to")
		alts, _ := cmd.Flags().GetStringSlice("alt")
		example, _ := cmd.Flags().GetString("example")
		favorite, _ := cmd.Flags().GetBool("favorite")
		categories, _ := cmd.Flags().GetStringSlice("category")

		key, err := parseKey(args[0], from, to)
		if err != nil {
			return err
		}
		req := learning.AddRequest{
			Key:          key,
			Alternatives: alts,
			Example:      example,
			Favorite:     favorite,
			Categories:   categories,
		}
		if len(args) > 1 {
			req.Translation = args[1]
		}

		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			card, err := a.cards.Add(ctx, req)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(card)
			}
			fmt.Println(ui.RenderPassIcon("Added " + key.String()))
			return nil
		})
	},
}

var showCmd = &cobra.Command{
	Use:     "show <text>",
	GroupID: "cards",
	Short:   "Show a card and its progress",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		from, _ := cmd.Flags().GetString("from")
		to, _ := cmd.Flags().GetString("to")
		key, err := parseKey(args[0], from, to)
		if err != nil {
			return err
		}

		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			card, err := a.cards.Get(ctx, key)
			if err != nil {
				return cardError(key.String(), err)
			}
			if jsonOutput {
				return printJSON(card)
			}
			fmt.Println(renderCard(card, true))
			return nil
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:     "delete <text>",
	Aliases: []string{"rm"},
	GroupID: "cards",
	Short:   "Delete a card on every machine",
	Long: `Delete a card. The deletion is recorded as a tombstone and reaches the
other machines with their next sync. A card that another machine edits after
the deletion comes back.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		from, _ := cmd.Flags().GetString("from")
		to, _ := cmd.Flags().GetString("to")
		key, err := parseKey(args[0], from, to)
		if err != nil {
			return err
		}

		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			if err := a.cards.Delete(ctx, key); err != nil {
				return cardError(key.String(), err)
			}
			fmt.Println(ui.RenderPassIcon("Deleted " + key.String()))
			return nil
		})
	},
}

var favoriteCmd = &cobra.Command{
	Use:     "favorite <text>",
	GroupID: "cards",
	Short:   "Mark a card as a favorite",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		from, _ := cmd.Flags().GetString("from")
		to, _ := cmd.Flags().GetString("to")
		unset, _ := cmd.Flags().GetBool("unset")
		key, err := parseKey(args[0], from, to)
		if err != nil {
			return err
		}

		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			if err := a.cards.SetFavorite(ctx, key, !unset); err != nil {
				return cardError(key.String(), err)
			}
			if unset {
				fmt.Println(ui.RenderPassIcon("Unmarked " + key.String()))
			} else {
				fmt.Println(ui.RenderPassIcon("Marked " + key.String() + " " + ui.IconStar))
			}
			return nil
		})
	},
}

var classifyCmd = &cobra.Command{
	Use:     "classify <text>",
	GroupID: "cards",
	Short:   "Assign topic categories to a card",
	Long: `Ask the Anthropic API for topic categories and store them on the card.
Cards sharing a category are reviewed together.

Requires classify.api_key in the config or ANTHROPIC_API_KEY.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		from, _ := cmd.Flags().GetString("from")
		to, _ := cmd.Flags().GetString("to")
		key, err := parseKey(args[0], from, to)
		if err != nil {
			return err
		}

		classifier, err := classify.NewAnthropic(classify.Config{
			APIKey: cfg.Classify.APIKey,
			Model:  cfg.Classify.Model,
		})
		if err != nil {
			return err
		}

		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			categories, err := a.cards.Classify(ctx, key, classifier)
			if err != nil {
				return cardError(key.String(), err)
			}
			if jsonOutput {
				return printJSON(categories)
			}
			fmt.Println(ui.RenderPassIcon(key.String() + ": " + strings.Join(categories, ", ")))
			return nil
		})
	},
}

func renderCard(card *learning.Card, detail bool) string {
	info := card.Info
	c := ui.Card{
		Text:       info.ID.Text,
		Languages:  info.ID.SourceLanguage + "→" + info.ID.TargetLanguage,
		Favorite:   info.IsFavorited,
		Categories: info.Categories,
	}
	if tr := card.Translation; tr != nil {
		c.Translation = tr.Translation
		c.Alternatives = tr.Alternatives
		c.Example = tr.Example
	}
	if detail {
		c.Detail = fmt.Sprintf("level %s · shown %d times · next %s",
			info.RepeatType, info.ShowCount, info.NextShowTime.Local().Format("2006-01-02 15:04"))
	}
	return ui.RenderCard(c)
}

func cardError(name string, err error) error {
	if errors.Is(err, tracked.ErrNotFound) {
		return fmt.Errorf("no card %s", name)
	}
	return err
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func addKeyFlags(cmd *cobra.Command) {
	cmd.Flags().String("from", "", "Source language (default: languages.source)")
	cmd.Flags().String("to", "", "Target language (default: languages.target)")
}

func init() {
	for _, cmd := range []*cobra.Command{addCmd, showCmd, deleteCmd, favoriteCmd, classifyCmd} {
		addKeyFlags(cmd)
		rootCmd.AddCommand(cmd)
	}

	addCmd.Flags().StringSlice("alt", nil, "Alternative translations")
	addCmd.Flags().String("example", "", "Example sentence")
	addCmd.Flags().Bool("favorite", false, "Mark as favorite")
	addCmd.Flags().StringSlice("category", nil, "Topic categories, most relevant first")

	favoriteCmd.Flags().Bool("unset", false, "Remove the favorite mark")
}
