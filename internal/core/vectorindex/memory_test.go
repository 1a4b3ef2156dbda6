package vectorindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/globalbrain-ai/globalbrain/internal/core"
)

func entry(id, userID, docID string, vec []float32) core.VectorEntry {
	return core.VectorEntry{
		ID:         id,
		Embedding:  vec,
		UserID:     userID,
		DocumentID: docID,
		ChunkID:    "chunk-" + id,
		Provider:   "gemini",
		Model:      "text-embedding-004",
	}
}

func TestMemoryIndexScopedQuery(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()

	require.NoError(t, idx.Upsert(ctx, []core.VectorEntry{
		entry("a", "user-1", "doc-1", []float32{1, 0, 0}),
		entry("b", "user-1", "doc-2", []float32{0, 1, 0}),
		entry("c", "user-2", "doc-3", []float32{1, 0, 0}),
	}))

	matches, err := idx.Query(ctx, core.VectorQuery{
		Vector:   []float32{1, 0, 0},
		TopK:     10,
		Scope:    core.Scope{UserID: "user-1"},
		Provider: "gemini",
		Model:    "text-embedding-004",
	})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "a", matches[0].ID)
	for _, m := range matches {
		assert.NotEqual(t, "c", m.ID, "cross-user entry leaked into scoped query")
	}
}

func TestMemoryIndexFailsClosedWithoutScope(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	require.NoError(t, idx.Upsert(ctx, []core.VectorEntry{
		entry("a", "user-1", "doc-1", []float32{1, 0, 0}),
	}))

	matches, err := idx.Query(ctx, core.VectorQuery{
		Vector:   []float32{1, 0, 0},
		TopK:     5,
		Provider: "gemini",
		Model:    "text-embedding-004",
	})
	assert.ErrorIs(t, err, core.ErrMissingScope)
	assert.Empty(t, matches)
}

func TestMemoryIndexOppositeVectorScoresNegative(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	require.NoError(t, idx.Upsert(ctx, []core.VectorEntry{
		entry("a", "user-1", "doc-1", []float32{-1, 0, 0}),
	}))

	matches, err := idx.Query(ctx, core.VectorQuery{
		Vector:   []float32{1, 0, 0},
		TopK:     5,
		Scope:    core.Scope{UserID: "user-1"},
		Provider: "gemini",
		Model:    "text-embedding-004",
	})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.InDelta(t, -1.0, matches[0].Score, 1e-6)
}

func TestMemoryIndexModelFilter(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()

	old := entry("a", "user-1", "doc-1", []float32{1, 0, 0})
	old.Model = "text-embedding-003"
	require.NoError(t, idx.Upsert(ctx, []core.VectorEntry{old}))

	matches, err := idx.Query(ctx, core.VectorQuery{
		Vector:   []float32{1, 0, 0},
		TopK:     5,
		Scope:    core.Scope{UserID: "user-1"},
		Provider: "gemini",
		Model:    "text-embedding-004",
	})
	require.NoError(t, err)
	assert.Empty(t, matches, "entries embedded with another model must not match")
}

func TestMemoryIndexDocumentFilterAndDelete(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	require.NoError(t, idx.Upsert(ctx, []core.VectorEntry{
		entry("a", "user-1", "doc-1", []float32{1, 0, 0}),
		entry("b", "user-1", "doc-2", []float32{1, 0, 0}),
	}))

	matches, err := idx.Query(ctx, core.VectorQuery{
		Vector:   []float32{1, 0, 0},
		TopK:     5,
		Scope:    core.Scope{UserID: "user-1", DocumentIDs: []string{"doc-2"}},
		Provider: "gemini",
		Model:    "text-embedding-004",
	})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "doc-2", matches[0].DocumentID)

	require.NoError(t, idx.Delete(ctx, []string{"a", "b"}))
	assert.Zero(t, idx.Len())
}
