// Package scheduler picks the cards to review next.
//
// A call to MostSuitable draws four ranking flags once, orders every due
// card by the rules whose flag came up, breaks the remaining ties at random,
// and returns the best card followed by cards on the same topics.
package scheduler

import (
	"context"
	"fmt"
	"iter"
	"math/rand"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wordcards/cardsync/internal/schema"
)

// Config holds the probabilities of each ranking rule being applied in a
// call, and how many leading categories of the primary card define its
// topic.
type Config struct {
	FavoriteProbability         float64
	SmallerShowCountProbability float64
	LowerRepeatTypeProbability  float64
	OlderProbability            float64
	CategoryAffinity            int
}

// DefaultConfig returns the probabilities used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		FavoriteProbability:         0.3,
		SmallerShowCountProbability: 0.5,
		LowerRepeatTypeProbability:  0.5,
		OlderProbability:            0.3,
		CategoryAffinity:            3,
	}
}

// Source lists learning progress. *tracked.Repository satisfies it.
type Source interface {
	All(ctx context.Context) iter.Seq2[*schema.LearningInfo, error]
}

// PauseState reports whether cards should be withheld.
type PauseState interface {
	IsPaused() bool
}

// Scheduler selects due cards. It is safe for concurrent use.
type Scheduler struct {
	source Source
	pause  PauseState
	cfg    Config
	clock  func() time.Time
	logger *zap.Logger

	mu  sync.Mutex // guards rng
	rng *rand.Rand
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithRand sets the random source, e.g. a seeded one in tests.
func WithRand(rng *rand.Rand) Option {
	return func(s *Scheduler) { s.rng = rng }
}

func WithClock(clock func() time.Time) Option {
	return func(s *Scheduler) { s.clock = clock }
}

// WithPauseState makes MostSuitable return nothing while paused.
func WithPauseState(p PauseState) Option {
	return func(s *Scheduler) { s.pause = p }
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Scheduler) {
		if logger == nil {
			logger = zap.NewNop()
		}
		s.logger = logger
	}
}

// New returns a scheduler reading from source.
func New(source Source, cfg Config, opts ...Option) *Scheduler {
	if cfg.CategoryAffinity <= 0 {
		cfg.CategoryAffinity = DefaultConfig().CategoryAffinity
	}
	s := &Scheduler{
		source: source,
		cfg:    cfg,
		clock:  time.Now,
		logger: zap.NewNop(),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// flags are the ranking rules drawn for one call.
type flags struct {
	favorite        bool
	smallerShows    bool
	lowerRepeatType bool
	older           bool
}

// MostSuitable returns up to n due cards: the best one first, then cards
// sharing one of its leading categories (or any due cards when it has none),
// in the same order.
//
// The call reads the due set and finds the best card; the other cards are
// only filtered and ordered once the consumer ranges past the first one.
// The sequence can be ranged over once; stopping early is fine. It is empty
// when nothing is due, when n < 1 or when the application is paused. A
// context cancelled before the call returns an error and no sequence; one
// cancelled afterwards ends the sequence before the next card, so a
// sequence ranged after cancellation yields nothing.
func (s *Scheduler) MostSuitable(ctx context.Context, n int) (iter.Seq[*schema.LearningInfo], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if n < 1 || (s.pause != nil && s.pause.IsPaused()) {
		return empty, nil
	}

	now := s.clock()
	var due []*schema.LearningInfo
	for info, err := range s.source.All(ctx) {
		if err != nil {
			return nil, fmt.Errorf("failed to list learning progress: %w", err)
		}
		if info.IsDue(now) {
			due = append(due, info)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(due) == 0 {
		return empty, nil
	}

	s.mu.Lock()
	f := s.drawFlags()
	s.rng.Shuffle(len(due), func(i, j int) { due[i], due[j] = due[j], due[i] })
	s.mu.Unlock()

	s.logger.Debug("scheduling cards",
		zap.Int("due", len(due)),
		zap.Int("requested", n),
		zap.Bool("favorite_first", f.favorite),
		zap.Bool("smaller_show_count_first", f.smallerShows),
		zap.Bool("lower_repeat_type_first", f.lowerRepeatType),
		zap.Bool("older_first", f.older))

	// The first minimum in shuffled order is what a stable sort would put
	// first.
	best := 0
	for i := 1; i < len(due); i++ {
		if f.compare(due[i], due[best]) < 0 {
			best = i
		}
	}
	primary := due[best]
	rest := append(due[:best:best], due[best+1:]...)
	topic := primary.TopCategories(s.cfg.CategoryAffinity)

	var used atomic.Bool
	return func(yield func(*schema.LearningInfo) bool) {
		if !used.CompareAndSwap(false, true) {
			return
		}
		if ctx.Err() != nil || !yield(primary) || n == 1 {
			return
		}

		others := make([]*schema.LearningInfo, 0, len(rest))
		for _, info := range rest {
			if len(topic) == 0 || info.SharesCategory(topic) {
				others = append(others, info)
			}
		}
		slices.SortStableFunc(others, f.compare)

		for _, info := range others[:min(n-1, len(others))] {
			if ctx.Err() != nil || !yield(info) {
				return
			}
		}
	}, nil
}

func (s *Scheduler) drawFlags() flags {
	return flags{
		favorite:        s.rng.Float64() < s.cfg.FavoriteProbability,
		smallerShows:    s.rng.Float64() < s.cfg.SmallerShowCountProbability,
		lowerRepeatType: s.rng.Float64() < s.cfg.LowerRepeatTypeProbability,
		older:           s.rng.Float64() < s.cfg.OlderProbability,
	}
}

// compare orders a before b by the enabled rules in sequence. Ties are left
// to the caller's shuffle.
func (f flags) compare(a, b *schema.LearningInfo) int {
	if f.favorite && a.IsFavorited != b.IsFavorited {
		if a.IsFavorited {
			return -1
		}
		return 1
	}
	if f.smallerShows && a.ShowCount != b.ShowCount {
		return a.ShowCount - b.ShowCount
	}
	if f.lowerRepeatType && a.RepeatType != b.RepeatType {
		return int(a.RepeatType) - int(b.RepeatType)
	}
	if f.older {
		return a.CreatedAt.Compare(b.CreatedAt)
	}
	return 0
}

func empty(func(*schema.LearningInfo) bool) {}
