package domain

import (
	"context"
	"time"
)

// ConversationStore persists the append-only conversation on behalf of the core.
type ConversationStore interface {
	CreateConversation(ctx context.Context, conv Conversation) error
	AppendTurn(ctx context.Context, convID string, turn Turn) error
	Turns(ctx context.Context, convID string, limit int) ([]Turn, error)
	DeleteConversation(ctx context.Context, id string) error
	Close() error
}

type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
}
