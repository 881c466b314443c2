// Package learning is the card service used by the CLI and daemon: it
// adds, reviews and removes cards through the two tracked collections.
package learning

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/wordcards/cardsync/internal/classify"
	"github.com/wordcards/cardsync/internal/schema"
	"github.com/wordcards/cardsync/internal/tracked"
)

// Collection names, also used as shared replica names.
const (
	LearningCollection    = "learning"
	TranslationCollection = "translations"
)

// ErrExists is returned by Add for a key that already has a card.
var ErrExists = errors.New("card already exists")

// Card is a LearningInfo together with its translation, which may be nil
// when only progress has been synchronized so far.
type Card struct {
	Info        *schema.LearningInfo `json:"info"`
	Translation *schema.Translation  `json:"translation,omitempty"`
}

// NewInfo allocates an empty LearningInfo for decoding.
func NewInfo() *schema.LearningInfo { return new(schema.LearningInfo) }

// NewTranslation allocates an empty Translation for decoding.
func NewTranslation() *schema.Translation { return new(schema.Translation) }

// Service manages cards.
type Service struct {
	infos        *tracked.Repository[*schema.LearningInfo]
	translations *tracked.Repository[*schema.Translation]
	clock        func() time.Time
	logger       *zap.Logger
}

// NewService wires the service to its repositories. A nil logger discards
// output.
func NewService(
	infos *tracked.Repository[*schema.LearningInfo],
	translations *tracked.Repository[*schema.Translation],
	clock func() time.Time,
	logger *zap.Logger,
) *Service {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{infos: infos, translations: translations, clock: clock, logger: logger}
}

// Infos returns the learning progress repository.
func (s *Service) Infos() *tracked.Repository[*schema.LearningInfo] {
	return s.infos
}

// Translations returns the translation repository.
func (s *Service) Translations() *tracked.Repository[*schema.Translation] {
	return s.translations
}

// AddRequest describes a new card.
type AddRequest struct {
	Key          schema.EntityKey
	Translation  string
	Alternatives []string
	Example      string
	Favorite     bool
	Categories   []string
}

// Add creates a card that is due immediately.
func (s *Service) Add(ctx context.Context, req AddRequest) (*Card, error) {
	if err := req.Key.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.infos.Get(ctx, req.Key); err == nil {
		return nil, fmt.Errorf("%s: %w", req.Key, ErrExists)
	} else if !errors.Is(err, tracked.ErrNotFound) {
		return nil, err
	}

	info := schema.NewLearningInfo(req.Key, s.clock())
	info.IsFavorited = req.Favorite
	info.Categories = classify.Normalize(req.Categories)
	if err := s.infos.Upsert(ctx, info); err != nil {
		return nil, err
	}

	card := &Card{Info: info}
	if req.Translation != "" {
		tr := &schema.Translation{
			ID:           req.Key,
			Translation:  req.Translation,
			Alternatives: req.Alternatives,
			Example:      req.Example,
		}
		if err := s.translations.Upsert(ctx, tr); err != nil {
			return nil, err
		}
		card.Translation = tr
	}

	s.logger.Info("card added", zap.Stringer("key", req.Key))
	return card, nil
}

// Get returns the card for key. A missing translation is not an error.
func (s *Service) Get(ctx context.Context, key schema.EntityKey) (*Card, error) {
	info, err := s.infos.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	card := &Card{Info: info}
	tr, err := s.translations.Get(ctx, key)
	switch {
	case err == nil:
		card.Translation = tr
	case !errors.Is(err, tracked.ErrNotFound):
		return nil, err
	}
	return card, nil
}

// Review records one showing of the card. Remembering it moves it one
// level up, forgetting one level down; either way the next showing is
// scheduled after the new level's interval.
func (s *Service) Review(ctx context.Context, key schema.EntityKey, remembered bool) (*schema.LearningInfo, error) {
	info, err := s.infos.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	info.ShowCount++
	if remembered {
		info.RepeatType = info.RepeatType.Next()
	} else {
		info.RepeatType = info.RepeatType.Previous()
	}
	info.NextShowTime = s.clock().Add(info.RepeatType.Interval())

	if err := s.infos.Upsert(ctx, info); err != nil {
		return nil, err
	}
	s.logger.Debug("card reviewed",
		zap.Stringer("key", key),
		zap.Bool("remembered", remembered),
		zap.Stringer("repeat_type", info.RepeatType))
	return info, nil
}

// SetFavorite marks or unmarks the card as a favorite.
func (s *Service) SetFavorite(ctx context.Context, key schema.EntityKey, favorite bool) error {
	info, err := s.infos.Get(ctx, key)
	if err != nil {
		return err
	}
	if info.IsFavorited == favorite {
		return nil
	}
	info.IsFavorited = favorite
	return s.infos.Upsert(ctx, info)
}

// Delete removes the card from both collections, leaving tombstones so the
// deletion reaches other machines.
func (s *Service) Delete(ctx context.Context, key schema.EntityKey) error {
	if err := s.infos.Delete(ctx, key); err != nil {
		return err
	}
	err := s.translations.Delete(ctx, key)
	if err != nil && !errors.Is(err, tracked.ErrNotFound) {
		return err
	}
	s.logger.Info("card deleted", zap.Stringer("key", key))
	return nil
}

// Classify looks up categories for the card and stores them. Nothing is
// written when the lookup fails or ctx is cancelled.
func (s *Service) Classify(ctx context.Context, key schema.EntityKey, c classify.Classifier) ([]string, error) {
	card, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	var translation string
	if card.Translation != nil {
		translation = card.Translation.Translation
	}
	categories, err := c.Classify(ctx, key, translation)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	card.Info.Categories = classify.Normalize(categories)
	if err := s.infos.Upsert(ctx, card.Info); err != nil {
		return nil, err
	}
	return card.Info.Categories, nil
}

// Due returns cards due at the given time, soonest first.
func (s *Service) Due(ctx context.Context, at time.Time) ([]*schema.LearningInfo, error) {
	var due []*schema.LearningInfo
	for info, err := range s.infos.All(ctx) {
		if err != nil {
			return nil, err
		}
		if info.IsDue(at) {
			due = append(due, info)
		}
	}
	slices.SortFunc(due, func(a, b *schema.LearningInfo) int {
		return a.NextShowTime.Compare(b.NextShowTime)
	})
	return due, nil
}
