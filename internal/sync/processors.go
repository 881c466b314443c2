package sync

import (
	"context"

	"github.com/wordcards/cardsync/internal/schema"
)

// WordSource returns the current list of excluded words.
type WordSource func(ctx context.Context) ([]string, error)

// ExcludedWords rejects pulls of entities whose text the user excluded on
// this machine. Deletions always pass.
func ExcludedWords[T schema.Entity](words WordSource) PreProcessor[T] {
	return func(ctx context.Context, c Change[T]) (bool, error) {
		if c.Deleted {
			return true, nil
		}
		list, err := words(ctx)
		if err != nil {
			return false, err
		}
		for _, w := range list {
			if schema.NormalizeText(w) == c.Key.Text {
				return false, nil
			}
		}
		return true, nil
	}
}
