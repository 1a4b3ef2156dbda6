// Package retrieval answers questions over a user's indexed documents:
// embed the query, search the vector index inside the caller's scope,
// re-rank, and compose a grounded, cited answer.
package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/globalbrain-ai/globalbrain/internal/core"
	"github.com/globalbrain-ai/globalbrain/internal/log"
	"github.com/globalbrain-ai/globalbrain/internal/models"
)

// Source is a retrieved chunk with everything the composer and the API
// need to cite it.
type Source struct {
	Label         string  `json:"label"`
	ChunkID       string  `json:"chunk_id"`
	DocumentID    string  `json:"document_id"`
	DocumentTitle string  `json:"document_title"`
	Section       string  `json:"section,omitempty"`
	Page          int     `json:"page,omitempty"`
	Text          string  `json:"text"`
	Score         float32 `json:"score"`
}

// Citation renders the human-readable provenance line, e.g.
// "Cell Biology Notes §Membranes (p.4)".
func (s Source) Citation() string {
	var b strings.Builder
	b.WriteString(s.DocumentTitle)
	if s.Section != "" {
		b.WriteString(" §")
		b.WriteString(s.Section)
	}
	if s.Page > 0 {
		fmt.Fprintf(&b, " (p.%d)", s.Page)
	}
	return b.String()
}

// QueryRewriter optionally reformulates the raw question before
// embedding. A failed rewrite falls back to the original query.
type QueryRewriter func(ctx context.Context, query string) (string, error)

// Reranker reorders candidate matches before the per-document cap and
// TopK cut are applied. A failed rerank falls back to the index order.
type Reranker func(ctx context.Context, query string, matches []core.VectorMatch) ([]core.VectorMatch, error)

type RetrieverConfig struct {
	TopK     int
	MinScore float32
}

// Retriever runs scoped vector search and resolves matches back to
// chunk text and document metadata.
type Retriever struct {
	db       core.DbClient
	embedder core.EmbeddingProvider
	index    core.VectorIndex
	cfg      RetrieverConfig
	logger   log.Logger
	rewriter QueryRewriter
	reranker Reranker
}

func NewRetriever(db core.DbClient, embedder core.EmbeddingProvider, index core.VectorIndex, cfg RetrieverConfig, logger log.Logger) *Retriever {
	if cfg.TopK <= 0 {
		cfg.TopK = 8
	}
	if cfg.MinScore <= 0 {
		cfg.MinScore = 0.25
	}
	return &Retriever{
		db:       db,
		embedder: embedder,
		index:    index,
		cfg:      cfg,
		logger:   logger.With("component", "retrieval"),
	}
}

func (r *Retriever) SetQueryRewriter(rw QueryRewriter) {
	r.rewriter = rw
}

func (r *Retriever) SetReranker(rr Reranker) {
	r.reranker = rr
}

// Retrieve returns up to cfg.TopK sources for the query, restricted to
// scope. An empty result is a normal outcome, not an error; a missing
// user scope is an error (core.ErrMissingScope) so an unscoped query
// can never search the whole corpus.
func (r *Retriever) Retrieve(ctx context.Context, query string, scope core.Scope) ([]Source, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("empty query")
	}

	effective := query
	if r.rewriter != nil {
		rewritten, err := r.rewriter(ctx, query)
		if err != nil {
			r.logger.Warn("query rewrite failed, using original", "error", err)
		} else if s := strings.TrimSpace(rewritten); s != "" {
			effective = s
		}
	}

	vecs, err := r.embedder.EmbedTexts(ctx, []string{effective})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors", len(vecs))
	}

	// Over-fetch so the per-document cap still leaves TopK candidates.
	matches, err := r.index.Query(ctx, core.VectorQuery{
		Vector:   vecs[0],
		TopK:     r.cfg.TopK * 2,
		Scope:    scope,
		Provider: r.embedder.Provider(),
		Model:    r.embedder.Model(),
	})
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}

	if r.reranker != nil {
		reordered, err := r.reranker(ctx, effective, matches)
		if err != nil {
			r.logger.Warn("rerank failed, keeping index order", "error", err)
		} else {
			matches = reordered
		}
	}
	matches = r.trim(matches)
	if len(matches) == 0 {
		return nil, nil
	}

	return r.resolve(ctx, matches)
}

// trim drops weak matches and caps how many chunks a single document
// may contribute, so one long document cannot crowd out the rest of the
// corpus. Preference order is whatever the index (or the reranker, if
// one is set) produced.
func (r *Retriever) trim(matches []core.VectorMatch) []core.VectorMatch {
	perDoc := r.cfg.TopK / 2
	if perDoc < 1 {
		perDoc = 1
	}

	docCount := make(map[string]int)
	out := make([]core.VectorMatch, 0, r.cfg.TopK)
	for _, m := range matches {
		if m.Score < r.cfg.MinScore {
			continue
		}
		if docCount[m.DocumentID] >= perDoc {
			continue
		}
		docCount[m.DocumentID]++
		out = append(out, m)
		if len(out) == r.cfg.TopK {
			break
		}
	}
	return out
}

func (r *Retriever) resolve(ctx context.Context, matches []core.VectorMatch) ([]Source, error) {
	chunkIDs := make([]string, 0, len(matches))
	docIDs := make([]string, 0, len(matches))
	seenDoc := make(map[string]bool)
	for _, m := range matches {
		chunkIDs = append(chunkIDs, m.ChunkID)
		if !seenDoc[m.DocumentID] {
			seenDoc[m.DocumentID] = true
			docIDs = append(docIDs, m.DocumentID)
		}
	}

	chunkRows, err := r.db.GetChunksByIDs(ctx, chunkIDs)
	if err != nil {
		return nil, fmt.Errorf("resolve chunks: %w", err)
	}
	docRows, err := r.db.GetDocumentsByIDs(ctx, docIDs)
	if err != nil {
		return nil, fmt.Errorf("resolve documents: %w", err)
	}

	chunks := make(map[string]models.Chunk, len(chunkRows))
	for _, c := range chunkRows {
		chunks[c.ID] = c
	}
	docs := make(map[string]models.Document, len(docRows))
	for _, d := range docRows {
		docs[d.ID] = d
	}

	sources := make([]Source, 0, len(matches))
	for _, m := range matches {
		chunk, ok := chunks[m.ChunkID]
		if !ok {
			// Index entry outlived its chunk row; skip rather than fail
			// the whole query.
			r.logger.Warn("vector match without chunk row", "chunk_id", m.ChunkID)
			continue
		}
		title := ""
		if d, ok := docs[m.DocumentID]; ok {
			title = d.Title
			if title == "" {
				title = d.FileName
			}
		}
		sources = append(sources, Source{
			Label:         fmt.Sprintf("S%d", len(sources)+1),
			ChunkID:       chunk.ID,
			DocumentID:    m.DocumentID,
			DocumentTitle: title,
			Section:       chunk.SectionTitle,
			Page:          chunk.PageNumber,
			Text:          chunk.Text,
			Score:         m.Score,
		})
	}
	return sources, nil
}
