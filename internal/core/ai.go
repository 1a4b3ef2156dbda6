package core

import "context"

// EmbeddingProvider converts texts into fixed-length vectors. The
// identity accessors are stored alongside every embedding reference so
// providers can be swapped without touching downstream schema.
type EmbeddingProvider interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	Provider() string
	Model() string
	Dimension() int
}

// Generation is the typed outcome of a single LLM call.
type Generation struct {
	Text      string
	TokensIn  int
	TokensOut int
	Model     string
}

type LLMProvider interface {
	Generate(ctx context.Context, systemPrompt string, userPrompt string) (*Generation, error)
}
