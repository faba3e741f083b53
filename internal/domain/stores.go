package domain

import (
	"context"

	"github.com/google/uuid"
)

type SessionStore interface {
	Create(ctx context.Context, s *ConversationSession) error
	GetByID(ctx context.Context, id uuid.UUID) (*ConversationSession, error)
	Update(ctx context.Context, s *ConversationSession) error
	ListByCaller(ctx context.Context, callerID string, limit int) ([]ConversationSession, error)
}

type MessageStore interface {
	Create(ctx context.Context, m *Message) error
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]Message, error)
}

// ChatMessage is one entry in the ordered message list sent to the
// completion backend.
type ChatMessage struct {
	Role    string
	Content string
}

// StreamChunk is one increment of a completion stream. A chunk with a
// non-nil Err terminates the stream; the channel is closed afterwards.
type StreamChunk struct {
	Text string
	Err  error
}

// CompletionClient is the opaque text-completion backend. It accepts the
// full message list (system instruction + history) and a reply-length limit
// and emits fragments as they are generated. The returned channel is closed
// when the stream completes or fails.
type CompletionClient interface {
	StreamCompletion(ctx context.Context, messages []ChatMessage, maxTokens int) (<-chan StreamChunk, error)
}
