package core

import (
	"context"
	"errors"
)

// ErrMissingScope is returned when a vector query arrives without an
// owning user. Scope is the multi-tenant isolation boundary; the index
// fails closed instead of running an unscoped search.
var ErrMissingScope = errors.New("vector query without user scope")

// Scope bounds every retrieval query to an owning user, optionally
// narrowed to specific documents. Course narrowing is resolved to
// document ids by the caller before the query reaches the index; the
// index filters only on fields it actually stores.
type Scope struct {
	UserID      string
	DocumentIDs []string
}

// VectorEntry is one stored vector plus the reference metadata needed
// for filtered search. The index never stores chunk text; the chunk
// store is the source of truth for citation text.
type VectorEntry struct {
	ID         string
	Embedding  []float32
	UserID     string
	DocumentID string
	ChunkID    string
	Provider   string
	Model      string
}

// VectorMatch is one nearest-neighbour result. Score is cosine
// similarity in [-1, 1], higher is closer.
type VectorMatch struct {
	ID         string
	Score      float32
	DocumentID string
	ChunkID    string
}

// VectorQuery describes one scoped nearest-neighbour search. Provider
// and Model are mandatory so a corpus embedded with one model is never
// queried through another model's vector space.
type VectorQuery struct {
	Vector   []float32
	TopK     int
	Scope    Scope
	Provider string
	Model    string
}

type VectorIndex interface {
	Upsert(ctx context.Context, entries []VectorEntry) error
	Query(ctx context.Context, q VectorQuery) ([]VectorMatch, error)
	// Fetch returns stored entries by id, embeddings included. Used to
	// reuse an existing embedding for a fingerprint already seen in
	// another document instead of re-calling the provider.
	Fetch(ctx context.Context, ids []string) ([]VectorEntry, error)
	Delete(ctx context.Context, ids []string) error
}
