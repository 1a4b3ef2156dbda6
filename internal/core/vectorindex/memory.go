package vectorindex

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/globalbrain-ai/globalbrain/internal/core"
)

// MemoryIndex is a brute-force cosine-similarity index. It backs tests
// and local development; the scope contract matches the pgvector
// implementation exactly.
type MemoryIndex struct {
	mu      sync.RWMutex
	entries map[string]core.VectorEntry
}

var _ core.VectorIndex = (*MemoryIndex)(nil)

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{entries: make(map[string]core.VectorEntry)}
}

func (x *MemoryIndex) Upsert(_ context.Context, entries []core.VectorEntry) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, e := range entries {
		if e.ID == "" {
			return fmt.Errorf("vector entry without id")
		}
		x.entries[e.ID] = e
	}
	return nil
}

func (x *MemoryIndex) Query(_ context.Context, q core.VectorQuery) ([]core.VectorMatch, error) {
	if q.Scope.UserID == "" {
		return nil, core.ErrMissingScope
	}
	if q.Provider == "" || q.Model == "" {
		return nil, fmt.Errorf("vector query without model identity")
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	docFilter := make(map[string]bool, len(q.Scope.DocumentIDs))
	for _, id := range q.Scope.DocumentIDs {
		docFilter[id] = true
	}

	var out []core.VectorMatch
	for _, e := range x.entries {
		if e.UserID != q.Scope.UserID || e.Provider != q.Provider || e.Model != q.Model {
			continue
		}
		if len(docFilter) > 0 && !docFilter[e.DocumentID] {
			continue
		}
		out = append(out, core.VectorMatch{
			ID:         e.ID,
			Score:      cosine(q.Vector, e.Embedding),
			DocumentID: e.DocumentID,
			ChunkID:    e.ChunkID,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if q.TopK > 0 && len(out) > q.TopK {
		out = out[:q.TopK]
	}
	return out, nil
}

func (x *MemoryIndex) Fetch(_ context.Context, ids []string) ([]core.VectorEntry, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	var out []core.VectorEntry
	for _, id := range ids {
		if e, ok := x.entries[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (x *MemoryIndex) Delete(_ context.Context, ids []string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, id := range ids {
		delete(x.entries, id)
	}
	return nil
}

// Len reports the stored entry count. Test helper.
func (x *MemoryIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}

func cosine(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
