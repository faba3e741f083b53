package llm

import (
	"context"

	"triage/internal/domain"
)

// MockClient is a configurable completion client for testing. Fragments
// are emitted in order; if Err is set it is emitted after the fragments,
// simulating a mid-stream backend failure.
type MockClient struct {
	Fragments []string
	Err       error

	// Call tracking for assertions
	Requests      [][]domain.ChatMessage
	MaxTokensSeen []int
}

func NewMockClient() *MockClient {
	return &MockClient{
		Fragments: []string{"Thank you for sharing. ", "Could you tell me more?"},
	}
}

func (c *MockClient) StreamCompletion(ctx context.Context, messages []domain.ChatMessage, maxTokens int) (<-chan domain.StreamChunk, error) {
	c.Requests = append(c.Requests, messages)
	c.MaxTokensSeen = append(c.MaxTokensSeen, maxTokens)

	out := make(chan domain.StreamChunk)
	go func() {
		defer close(out)
		for _, f := range c.Fragments {
			select {
			case out <- domain.StreamChunk{Text: f}:
			case <-ctx.Done():
				return
			}
		}
		if c.Err != nil {
			select {
			case out <- domain.StreamChunk{Err: c.Err}:
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}
