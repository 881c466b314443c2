package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/wordcards/cardsync/internal/learning"
	"github.com/wordcards/cardsync/internal/pause"
	"github.com/wordcards/cardsync/internal/schema"
	"github.com/wordcards/cardsync/internal/ui"
)

var dueCmd = &cobra.Command{
	Use:     "due [n]",
	GroupID: "cards",
	Short:   "List the cards the scheduler would show next",
	Long: `List up to n cards (default 10) in the order they would be reviewed.

Nothing is listed while review is paused unless --ignore-pause is given.
--at evaluates due dates at another time and accepts RFC 3339 or natural
language such as "tomorrow 9am" or "in 3 days".`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := countArg(args, 10)
		if err != nil {
			return err
		}
		ignorePause, _ := cmd.Flags().GetBool("ignore-pause")
		atText, _ := cmd.Flags().GetString("at")
		at, err := parseWhen(atText, time.Now())
		if err != nil {
			return err
		}

		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			if !ignorePause {
				if reasons, paused := a.pauses.PauseReasons(); paused {
					fmt.Println(ui.RenderWarnIcon("Paused: " + reasons))
					return nil
				}
			}

			seq, err := a.scheduler(ignorePause, at).MostSuitable(ctx, n)
			if err != nil {
				return err
			}
			var cards []*schema.LearningInfo
			for info := range seq {
				cards = append(cards, info)
			}

			if jsonOutput {
				return printJSON(cards)
			}
			if len(cards) == 0 {
				fmt.Println(ui.RenderMuted("Nothing due."))
				return nil
			}
			for i, info := range cards {
				star := ""
				if info.IsFavorited {
					star = " " + ui.IconStar
				}
				fmt.Printf("%2d. %s%s %s\n", i+1, ui.RenderAccent(info.ID.Text), star,
					ui.RenderMuted(fmt.Sprintf("(%s→%s, %s, shown %d)",
						info.ID.SourceLanguage, info.ID.TargetLanguage, info.RepeatType, info.ShowCount)))
			}
			return nil
		})
	},
}

var reviewCmd = &cobra.Command{
	Use:     "review [n]",
	GroupID: "cards",
	Short:   "Review due cards interactively",
	Long: `Show up to n due cards (default 10) one at a time and record whether
you remembered each. Remembering moves a card one level up; forgetting moves
it one level down.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := countArg(args, 10)
		if err != nil {
			return err
		}
		if !ui.IsInteractive() {
			return errors.New("review needs an interactive terminal; use 'cardsync due' to list cards")
		}

		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			if reasons, paused := a.pauses.PauseReasons(); paused {
				fmt.Println(ui.RenderWarnIcon("Paused: " + reasons))
				return nil
			}

			seq, err := a.scheduler(false, time.Time{}).MostSuitable(ctx, n)
			if err != nil {
				return err
			}
			// Collect first: showing a card pauses the scheduler.
			var due []*schema.LearningInfo
			for info := range seq {
				due = append(due, info)
			}
			if len(due) == 0 {
				fmt.Println(ui.RenderMuted("Nothing due."))
				return nil
			}

			var remembered, forgot int
			for _, info := range due {
				answer, err := reviewOne(ctx, a, info.ID)
				if err != nil {
					return err
				}
				switch answer {
				case answerStop:
					printReviewSummary(remembered, forgot)
					return nil
				case answerRemembered:
					remembered++
				case answerForgot:
					forgot++
				}
			}
			printReviewSummary(remembered, forgot)
			return nil
		})
	},
}

const (
	answerRemembered = "remembered"
	answerForgot     = "forgot"
	answerSkip       = "skip"
	answerStop       = "stop"
)

func reviewOne(ctx context.Context, a *app, key schema.EntityKey) (string, error) {
	logErr("pause for loading", a.pauses.Pause(ctx, pause.CardLoading, key.Text))
	card, err := a.cards.Get(ctx, key)
	logErr("resume after loading", a.pauses.Resume(ctx, pause.CardLoading))
	if err != nil {
		return "", err
	}

	logErr("pause for card", a.pauses.Pause(ctx, pause.CardVisible, key.Text))
	defer func() {
		logErr("resume after card", a.pauses.Resume(context.WithoutCancel(ctx), pause.CardVisible))
	}()

	front := &learning.Card{Info: card.Info}
	fmt.Println(renderCard(front, false))

	answer := answerRemembered
	prompt := huh.NewSelect[string]().
		Title("Did you remember it?").
		Options(
			huh.NewOption("Remembered", answerRemembered),
			huh.NewOption("Forgot", answerForgot),
			huh.NewOption("Skip", answerSkip),
			huh.NewOption("Stop reviewing", answerStop),
		).
		Value(&answer)
	err = huh.NewForm(huh.NewGroup(prompt)).RunWithContext(ctx)
	if errors.Is(err, huh.ErrUserAborted) {
		return answerStop, nil
	}
	if err != nil {
		return "", err
	}

	if answer == answerRemembered || answer == answerForgot {
		info, err := a.cards.Review(ctx, key, answer == answerRemembered)
		if err != nil {
			return "", err
		}
		card.Info = info
		fmt.Println(renderCard(card, true))
	}
	return answer, nil
}

func printReviewSummary(remembered, forgot int) {
	fmt.Printf("%s remembered, %s forgot\n",
		ui.RenderPass(strconv.Itoa(remembered)), ui.RenderFail(strconv.Itoa(forgot)))
}

func countArg(args []string, def int) (int, error) {
	if len(args) == 0 {
		return def, nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 {
		return 0, fmt.Errorf("count must be a positive number, got %q", args[0])
	}
	return n, nil
}

// parseWhen accepts RFC 3339 or a natural-language time relative to base.
// An empty string yields the zero time.
func parseWhen(text string, base time.Time) (time.Time, error) {
	if text == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, text); err == nil {
		return t, nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	r, err := w.Parse(text, base)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse time %q: %w", text, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("unrecognized time %q", text)
	}
	return r.Time, nil
}

func init() {
	dueCmd.Flags().Bool("ignore-pause", false, "List cards even while review is paused")
	dueCmd.Flags().String("at", "", "Evaluate due dates at this time")

	rootCmd.AddCommand(dueCmd, reviewCmd)
}
