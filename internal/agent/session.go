package agent

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"shellmate/internal/domain"
	"shellmate/internal/security"
)

const defaultHistoryLimit = 50

// Session is one conversation: its ordered turns, the sudo credential cached
// for it, and the observers that render new turns.
type Session struct {
	// Sudo is the cached elevation password. It lives only in memory and
	// is shared by every privileged step run in this session.
	Sudo *security.Credential

	store        domain.ConversationStore
	model        string
	historyLimit int
	logger       *slog.Logger

	mu      sync.Mutex
	id      string
	turns   []domain.Turn
	created bool // conversation row exists in the store

	subMu  sync.Mutex
	nextID int
	subs   map[int]func(domain.Turn)
}

type SessionConfig struct {
	ID           string                   // resume this conversation; empty starts a new one
	Store        domain.ConversationStore // optional
	Model        string
	HistoryLimit int
	Logger       *slog.Logger
}

// NewSession opens a session, loading earlier turns when cfg.ID names a
// stored conversation.
func NewSession(ctx context.Context, cfg SessionConfig) (*Session, error) {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Session{
		Sudo:         &security.Credential{},
		store:        cfg.Store,
		model:        cfg.Model,
		historyLimit: cfg.HistoryLimit,
		logger:       cfg.Logger,
		id:           cfg.ID,
		subs:         make(map[int]func(domain.Turn)),
	}
	if s.id == "" {
		s.id = uuid.NewString()
		return s, nil
	}
	s.created = true
	if s.store != nil {
		turns, err := s.store.Turns(ctx, s.id, cfg.HistoryLimit)
		if err != nil {
			return nil, err
		}
		s.turns = turns
		s.logger.Info("resumed conversation", "id", s.id, "turns", len(turns))
	}
	return s, nil
}

// ensureConversation creates the stored conversation on the first turn,
// titled after that turn.
func (s *Session) ensureConversation(ctx context.Context, id string, first domain.Turn) error {
	s.mu.Lock()
	if s.created || s.id != id {
		s.mu.Unlock()
		return nil
	}
	s.created = true
	s.mu.Unlock()
	return s.store.CreateConversation(ctx, domain.Conversation{
		ID:        id,
		Title:     generateTitle(first.Content),
		Model:     s.model,
		CreatedAt: first.CreatedAt,
	})
}

// ID returns the current conversation ID.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Append records a turn, persists it and notifies observers. The turn is
// kept in memory and delivered even when persistence fails.
func (s *Session) Append(ctx context.Context, turn domain.Turn) error {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}
	s.mu.Lock()
	s.turns = append(s.turns, turn)
	id := s.id
	s.mu.Unlock()

	s.publish(turn)

	if s.store == nil {
		return nil
	}
	if err := s.ensureConversation(ctx, id, turn); err != nil {
		s.logger.Error("failed to create conversation", "conversation", id, "err", err)
		return err
	}
	if err := s.store.AppendTurn(ctx, id, turn); err != nil {
		s.logger.Error("failed to persist turn", "conversation", id, "role", turn.Role, "err", err)
		return err
	}
	return nil
}

// Say appends an assistant turn.
func (s *Session) Say(ctx context.Context, content string) error {
	return s.Append(ctx, domain.Turn{Role: domain.RoleAssistant, Content: content})
}

// Notice delivers an assistant message to observers without recording it.
// Slash command replies use it so they stay out of the model's history.
func (s *Session) Notice(content string) {
	s.publish(domain.Turn{Role: domain.RoleAssistant, Content: content, CreatedAt: time.Now()})
}

// Turns returns a copy of the recorded turns, oldest first.
func (s *Session) Turns() []domain.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Turn(nil), s.turns...)
}

// History returns the most recent turns as model messages.
func (s *Session) History() []domain.Message {
	turns := s.Turns()
	if len(turns) > s.historyLimit {
		turns = turns[len(turns)-s.historyLimit:]
	}
	msgs := make([]domain.Message, 0, len(turns))
	for _, t := range turns {
		if t.Role == domain.RoleSystem || strings.TrimSpace(t.Content) == "" {
			continue
		}
		msgs = append(msgs, domain.Message{Role: t.Role, Content: t.Content})
	}
	return msgs
}

// Reset deletes the stored conversation and starts a new one. The sudo
// credential is kept.
func (s *Session) Reset(ctx context.Context) error {
	s.mu.Lock()
	old := s.id
	s.id = uuid.NewString()
	s.turns = nil
	s.created = false
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.DeleteConversation(ctx, old); err != nil {
			s.logger.Warn("failed to delete conversation", "id", old, "err", err)
		}
	}
	s.logger.Info("session cleared", "old", old, "new", s.ID())
	return nil
}

// Subscribe registers fn for every new turn and notice. fn runs on the
// goroutine that appended the turn. The returned func unsubscribes.
func (s *Session) Subscribe(fn func(domain.Turn)) (cancel func()) {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Session) publish(turn domain.Turn) {
	s.subMu.Lock()
	fns := make([]func(domain.Turn), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()
	for _, fn := range fns {
		fn(turn)
	}
}

// generateTitle derives a conversation title from the first request.
func generateTitle(msg string) string {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return "New conversation"
	}
	if idx := strings.IndexAny(msg, "\n\r"); idx > 0 {
		msg = msg[:idx]
	}
	if len(msg) > 60 {
		cut := strings.LastIndex(msg[:60], " ")
		if cut < 20 {
			cut = 60
		}
		msg = msg[:cut] + "..."
	}
	return msg
}
