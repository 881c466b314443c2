package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wordcards/cardsync/internal/dashboard"
	"github.com/wordcards/cardsync/internal/db"
	"github.com/wordcards/cardsync/internal/learning"
	"github.com/wordcards/cardsync/internal/pause"
	"github.com/wordcards/cardsync/internal/scheduler"
	"github.com/wordcards/cardsync/internal/schema"
	"github.com/wordcards/cardsync/internal/settings"
	csync "github.com/wordcards/cardsync/internal/sync"
	"github.com/wordcards/cardsync/internal/tracked"
)

// app holds everything a command needs, opened against the local store.
type app struct {
	db       *db.DB
	settings *settings.Store
	cards    *learning.Service
	pauses   *pause.Manager
}

func openApp(ctx context.Context) (*app, error) {
	local, err := db.Open(ctx, cfg.LocalDB(), db.ModeLocal)
	if err != nil {
		return nil, err
	}

	store := settings.New(local.Conn())
	pauses, err := pause.NewManager(ctx, store, pause.WithLogger(logger))
	if err != nil {
		_ = local.Close()
		return nil, err
	}

	infos := tracked.New(local.Conn(), learning.LearningCollection, learning.NewInfo)
	translations := tracked.New(local.Conn(), learning.TranslationCollection, learning.NewTranslation)

	return &app{
		db:       local,
		settings: store,
		cards:    learning.NewService(infos, translations, time.Now, logger),
		pauses:   pauses,
	}, nil
}

func (a *app) Close() error {
	// Close runs after the command context may have been cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return errors.Join(a.pauses.Close(ctx), a.db.Close())
}

// withApp opens the local store for the duration of fn.
func withApp(ctx context.Context, fn func(ctx context.Context, a *app) error) (err error) {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, a.Close())
	}()
	return fn(ctx, a)
}

func (a *app) paths() csync.Paths {
	return csync.NewPaths(cfg.Sync.Root, cfg.Sync.AppName, cfg.DataDir, cfg.Sync.MachineName)
}

// synchronizer registers both card repositories. When events is set, card
// changes applied by a pass are reported to the dashboard.
func (a *app) synchronizer(events *dashboard.Handler) (*csync.Synchronizer, error) {
	paths := a.paths()
	if err := paths.Ensure(); err != nil {
		return nil, err
	}

	s := csync.New(paths, a.db.Conn(), a.settings,
		csync.WithLogger(logger),
		csync.WithLockContentionThreshold(cfg.Sync.LockContentionThreshold))

	infoSpec := csync.RepositorySpec[*schema.LearningInfo]{
		Name: learning.LearningCollection,
		New:  learning.NewInfo,
		PreProcessors: []csync.PreProcessor[*schema.LearningInfo]{
			csync.ExcludedWords[*schema.LearningInfo](a.settings.ExcludedWords),
		},
	}
	translationSpec := csync.RepositorySpec[*schema.Translation]{
		Name: learning.TranslationCollection,
		New:  learning.NewTranslation,
		PreProcessors: []csync.PreProcessor[*schema.Translation]{
			csync.ExcludedWords[*schema.Translation](a.settings.ExcludedWords),
		},
	}
	if events != nil {
		infoSpec.PostProcessors = append(infoSpec.PostProcessors,
			dashboard.CardUpdates[*schema.LearningInfo](events, learning.LearningCollection))
		translationSpec.PostProcessors = append(translationSpec.PostProcessors,
			dashboard.CardUpdates[*schema.Translation](events, learning.TranslationCollection))
	}

	if err := csync.Register(s, infoSpec); err != nil {
		return nil, err
	}
	if err := csync.Register(s, translationSpec); err != nil {
		return nil, err
	}
	return s, nil
}

// scheduler returns a scheduler over the learning repository. With
// ignorePause the pause state does not suppress cards; a non-zero at
// evaluates due dates at that time instead of now.
func (a *app) scheduler(ignorePause bool, at time.Time) *scheduler.Scheduler {
	opts := []scheduler.Option{scheduler.WithLogger(logger)}
	if !at.IsZero() {
		opts = append(opts, scheduler.WithClock(func() time.Time { return at }))
	}
	if !ignorePause {
		opts = append(opts, scheduler.WithPauseState(a.pauses))
	}
	return scheduler.New(a.cards.Infos(), scheduler.Config{
		FavoriteProbability:         cfg.Scheduler.FavoriteProbability,
		SmallerShowCountProbability: cfg.Scheduler.SmallerShowCountProbability,
		LowerRepeatTypeProbability:  cfg.Scheduler.LowerRepeatTypeProbability,
		OlderProbability:            cfg.Scheduler.OlderProbability,
		CategoryAffinity:            cfg.Scheduler.CategoryAffinity,
	}, opts...)
}

// parseKey builds a key from the command arguments and the --from/--to
// flags, falling back to the configured default languages.
func parseKey(text, from, to string) (schema.EntityKey, error) {
	if from == "" {
		from = cfg.Languages.Source
	}
	if to == "" {
		to = cfg.Languages.Target
	}
	key := schema.NewKey(text, from, to)
	if err := key.Validate(); err != nil {
		return schema.EntityKey{}, fmt.Errorf("invalid card %q: %w", text, err)
	}
	return key, nil
}

func logErr(msg string, err error) {
	if err != nil {
		logger.Warn(msg, zap.Error(err))
	}
}
