// Package llm holds the provider-neutral contracts for embedding and
// streaming chat models.
package llm

import "context"

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role Role
	Text string
}

// Embedder must be the same model at ingestion and query time; vectors from
// different models are not comparable.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// TokenStream yields text fragments in order. Recv returns io.EOF after the
// last token. Close releases the upstream call and is safe to repeat.
type TokenStream interface {
	Recv() (string, error)
	Close() error
}

type ChatModel interface {
	StreamChat(ctx context.Context, messages []Message, temperature float32) (TokenStream, error)
}
