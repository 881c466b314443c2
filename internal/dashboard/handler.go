package dashboard

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/wordcards/cardsync/internal/pause"
	"github.com/wordcards/cardsync/internal/schema"
	csync "github.com/wordcards/cardsync/internal/sync"
)

// PauseStateData describes whether review is paused and why.
type PauseStateData struct {
	Paused  bool     `json:"paused"`
	Reasons []string `json:"reasons,omitempty"`
	// Summary is the human-readable list, e.g. "ProcessBlacklisted (steam)".
	Summary string `json:"summary,omitempty"`
}

// SyncCompleteData summarizes one repository pass.
type SyncCompleteData struct {
	Repository    string        `json:"repository"`
	PassID        string        `json:"pass_id"`
	Pushed        int           `json:"pushed"`
	Pulled        int           `json:"pulled"`
	DeletedLocal  int           `json:"deleted_local"`
	DeletedShared int           `json:"deleted_shared"`
	Rejected      int           `json:"rejected"`
	Skipped       bool          `json:"skipped"`
	Duration      time.Duration `json:"duration"`
}

// CardUpdateData describes a card changed locally by a pass.
type CardUpdateData struct {
	Repository string `json:"repository"`
	Key        string `json:"key"`
	Text       string `json:"text"`
	Action     string `json:"action"` // created, updated, deleted
}

// PauseState is the read side of the pause manager.
type PauseState interface {
	Active() pause.Reason
	PauseReasons() (string, bool)
}

// Handler turns pause events, sync results and card changes into dashboard
// messages.
type Handler struct {
	server *Server
	logger *zap.Logger
	state  PauseState
}

// NewHandler creates a handler broadcasting through server. When state is
// set, new clients receive the current pause state first.
func NewHandler(server *Server, state PauseState, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{server: server, logger: logger, state: state}
	if state != nil {
		server.SetWelcome(func() (Message, bool) {
			return h.message(MessageTypePauseState, h.pauseState())
		})
	}
	return h
}

// OnPauseEvent broadcasts the pause state after a transition. It is meant
// to be passed to pause.Manager.Subscribe.
func (h *Handler) OnPauseEvent(ev pause.Event) {
	h.logger.Debug("pause event",
		zap.Stringer("reason", ev.Reason),
		zap.Bool("paused", ev.Paused))
	if h.state == nil {
		return
	}
	h.broadcast(MessageTypePauseState, h.pauseState())
}

// OnSyncResult broadcasts a pass summary.
func (h *Handler) OnSyncResult(r *csync.Result) {
	if r == nil {
		return
	}
	h.broadcast(MessageTypeSyncComplete, SyncCompleteData{
		Repository:    r.Repository,
		PassID:        r.PassID,
		Pushed:        r.Pushed,
		Pulled:        r.Pulled,
		DeletedLocal:  r.DeletedLocal,
		DeletedShared: r.DeletedShared,
		Rejected:      r.Rejected,
		Skipped:       r.Skipped,
		Duration:      r.Duration,
	})
}

// CardUpdates returns a post-processor that reports every change a pass
// applies to the named repository.
func CardUpdates[T schema.Entity](h *Handler, repository string) csync.PostProcessor[T] {
	return func(_ context.Context, c csync.Change[T]) {
		action := "updated"
		switch {
		case c.Deleted:
			action = "deleted"
		case !c.HasLocal:
			action = "created"
		}
		h.broadcast(MessageTypeCardUpdate, CardUpdateData{
			Repository: repository,
			Key:        c.Key.ID(),
			Text:       c.Key.Text,
			Action:     action,
		})
	}
}

func (h *Handler) pauseState() PauseStateData {
	active := h.state.Active()
	data := PauseStateData{Paused: active != 0}
	for _, r := range pause.AllReasons {
		if active.Has(r) {
			data.Reasons = append(data.Reasons, r.String())
		}
	}
	data.Summary, _ = h.state.PauseReasons()
	return data
}

func (h *Handler) broadcast(typ MessageType, data any) {
	if msg, ok := h.message(typ, data); ok {
		h.server.Broadcast(msg)
	}
}

func (h *Handler) message(typ MessageType, data any) (Message, bool) {
	raw, err := json.Marshal(data)
	if err != nil {
		h.logger.Error("failed to marshal message data", zap.String("type", string(typ)), zap.Error(err))
		return Message{}, false
	}
	return Message{Type: typ, Timestamp: time.Now(), Data: raw}, true
}
