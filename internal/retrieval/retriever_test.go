package retrieval

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/globalbrain-ai/globalbrain/internal/core"
	"github.com/globalbrain-ai/globalbrain/internal/core/vectorindex"
	"github.com/globalbrain-ai/globalbrain/internal/log"
	"github.com/globalbrain-ai/globalbrain/internal/models"
	"github.com/globalbrain-ai/globalbrain/internal/testutil"
)

// vecEmbedder maps texts to fixed vectors so test scores are exact.
type vecEmbedder struct {
	vectors map[string][]float32
	queries []string
}

func (e *vecEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, ok := e.vectors[t]
		if !ok {
			return nil, fmt.Errorf("no vector for %q", t)
		}
		e.queries = append(e.queries, t)
		out[i] = v
	}
	return out, nil
}

func (e *vecEmbedder) Provider() string { return "fake" }
func (e *vecEmbedder) Model() string    { return "fake-embed-001" }
func (e *vecEmbedder) Dimension() int   { return 3 }

type retrievalFixture struct {
	db       *testutil.MemDB
	index    *vectorindex.MemoryIndex
	embedder *vecEmbedder
}

func newFixture() *retrievalFixture {
	return &retrievalFixture{
		db:       testutil.NewMemDB(),
		index:    vectorindex.NewMemoryIndex(),
		embedder: &vecEmbedder{vectors: make(map[string][]float32)},
	}
}

func (f *retrievalFixture) addDocument(t *testing.T, userID, title string) string {
	t.Helper()
	doc := &models.Document{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		FileName:  title + ".pdf",
		Status:    models.StatusCompleted,
		CreatedAt: time.Now(),
	}
	require.NoError(t, f.db.CreateDocument(context.Background(), doc))
	return doc.ID
}

// addChunk stores a chunk row and indexes it under vec.
func (f *retrievalFixture) addChunk(t *testing.T, userID, docID, text string, vec []float32) string {
	t.Helper()
	chunk := models.Chunk{
		ID:         uuid.NewString(),
		DocumentID: docID,
		Text:       text,
		TokenCount: len(text) / 4,
		CreatedAt:  time.Now(),
	}
	require.NoError(t, f.db.InsertChunks(context.Background(), []models.Chunk{chunk}))
	require.NoError(t, f.index.Upsert(context.Background(), []core.VectorEntry{{
		ID:         "vec_" + chunk.ID,
		Embedding:  vec,
		UserID:     userID,
		DocumentID: docID,
		ChunkID:    chunk.ID,
		Provider:   "fake",
		Model:      "fake-embed-001",
	}}))
	return chunk.ID
}

func (f *retrievalFixture) retriever(cfg RetrieverConfig) *Retriever {
	return NewRetriever(f.db, f.embedder, f.index, cfg, log.NewNop())
}

func TestRetrieveScopedToUser(t *testing.T) {
	f := newFixture()
	alice, bob := uuid.NewString(), uuid.NewString()
	aliceDoc := f.addDocument(t, alice, "Alice Notes")
	bobDoc := f.addDocument(t, bob, "Bob Notes")

	f.embedder.vectors["what is osmosis"] = []float32{1, 0, 0}
	aliceChunk := f.addChunk(t, alice, aliceDoc, "Osmosis is diffusion of water.", []float32{1, 0, 0})
	f.addChunk(t, bob, bobDoc, "Osmosis notes that belong to Bob.", []float32{1, 0, 0})

	sources, err := f.retriever(RetrieverConfig{TopK: 8}).
		Retrieve(context.Background(), "what is osmosis", core.Scope{UserID: alice})
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, aliceChunk, sources[0].ChunkID)
	assert.Equal(t, "S1", sources[0].Label)
	assert.Equal(t, "Alice Notes", sources[0].DocumentTitle)
}

func TestRetrieveFailsClosedWithoutScope(t *testing.T) {
	f := newFixture()
	f.embedder.vectors["anything"] = []float32{1, 0, 0}

	_, err := f.retriever(RetrieverConfig{TopK: 8}).
		Retrieve(context.Background(), "anything", core.Scope{})
	assert.ErrorIs(t, err, core.ErrMissingScope)
}

func TestRetrieveDropsWeakMatches(t *testing.T) {
	f := newFixture()
	user := uuid.NewString()
	doc := f.addDocument(t, user, "Physics")

	f.embedder.vectors["momentum"] = []float32{1, 0, 0}
	strong := f.addChunk(t, user, doc, "Momentum is mass times velocity.", []float32{1, 0, 0})
	f.addChunk(t, user, doc, "Unrelated grading policy paragraph.", []float32{0, 1, 0})

	sources, err := f.retriever(RetrieverConfig{TopK: 8, MinScore: 0.25}).
		Retrieve(context.Background(), "momentum", core.Scope{UserID: user})
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, strong, sources[0].ChunkID)
}

func TestRetrieveCapsPerDocument(t *testing.T) {
	f := newFixture()
	user := uuid.NewString()
	big := f.addDocument(t, user, "Big Textbook")
	small := f.addDocument(t, user, "Lecture Sheet")

	f.embedder.vectors["entropy"] = []float32{1, 0, 0}
	for i := 0; i < 4; i++ {
		f.addChunk(t, user, big, fmt.Sprintf("Entropy passage %d from the textbook chapter.", i), []float32{1, 0, 0})
	}
	f.addChunk(t, user, small, "Entropy summary from the lecture sheet.", []float32{0.8, 0.6, 0})

	sources, err := f.retriever(RetrieverConfig{TopK: 4, MinScore: 0.25}).
		Retrieve(context.Background(), "entropy", core.Scope{UserID: user})
	require.NoError(t, err)
	require.Len(t, sources, 3)

	perDoc := make(map[string]int)
	for _, s := range sources {
		perDoc[s.DocumentID]++
	}
	assert.Equal(t, 2, perDoc[big])
	assert.Equal(t, 1, perDoc[small])
}

func TestRetrieveDocumentFilter(t *testing.T) {
	f := newFixture()
	user := uuid.NewString()
	docA := f.addDocument(t, user, "Chemistry")
	docB := f.addDocument(t, user, "Biology")

	f.embedder.vectors["bonding"] = []float32{1, 0, 0}
	f.addChunk(t, user, docA, "Covalent bonds share electron pairs.", []float32{1, 0, 0})
	f.addChunk(t, user, docB, "Hydrogen bonding stabilizes DNA strands.", []float32{1, 0, 0})

	sources, err := f.retriever(RetrieverConfig{TopK: 8}).
		Retrieve(context.Background(), "bonding", core.Scope{UserID: user, DocumentIDs: []string{docB}})
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, docB, sources[0].DocumentID)
}

func TestRetrieveEmptyCorpus(t *testing.T) {
	f := newFixture()
	f.embedder.vectors["anything at all"] = []float32{1, 0, 0}

	sources, err := f.retriever(RetrieverConfig{TopK: 8}).
		Retrieve(context.Background(), "anything at all", core.Scope{UserID: uuid.NewString()})
	require.NoError(t, err)
	assert.Empty(t, sources)
}

func TestRetrieveRewriterFallsBackOnError(t *testing.T) {
	f := newFixture()
	user := uuid.NewString()
	doc := f.addDocument(t, user, "History")

	f.embedder.vectors["original question"] = []float32{1, 0, 0}
	f.addChunk(t, user, doc, "The treaty ended the long war between the two kingdoms.", []float32{1, 0, 0})

	r := f.retriever(RetrieverConfig{TopK: 8})
	r.SetQueryRewriter(func(context.Context, string) (string, error) {
		return "", errors.New("rewrite model unavailable")
	})

	sources, err := r.Retrieve(context.Background(), "original question", core.Scope{UserID: user})
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, []string{"original question"}, f.embedder.queries)
}

func TestRetrieveRerankerReordersCandidates(t *testing.T) {
	f := newFixture()
	user := uuid.NewString()
	doc := f.addDocument(t, user, "Chemistry")

	f.embedder.vectors["bonding"] = []float32{1, 0, 0}
	closest := f.addChunk(t, user, doc, "Covalent bonds share electron pairs between atoms.", []float32{1, 0, 0})
	runnerUp := f.addChunk(t, user, doc, "Ionic bonds transfer electrons between ions.", []float32{0.8, 0.6, 0})

	r := f.retriever(RetrieverConfig{TopK: 8})
	r.SetReranker(func(_ context.Context, _ string, matches []core.VectorMatch) ([]core.VectorMatch, error) {
		reversed := make([]core.VectorMatch, 0, len(matches))
		for i := len(matches) - 1; i >= 0; i-- {
			reversed = append(reversed, matches[i])
		}
		return reversed, nil
	})

	sources, err := r.Retrieve(context.Background(), "bonding", core.Scope{UserID: user})
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.Equal(t, runnerUp, sources[0].ChunkID)
	assert.Equal(t, closest, sources[1].ChunkID)
}

func TestRetrieveRerankerFailureKeepsIndexOrder(t *testing.T) {
	f := newFixture()
	user := uuid.NewString()
	doc := f.addDocument(t, user, "Chemistry")

	f.embedder.vectors["bonding"] = []float32{1, 0, 0}
	closest := f.addChunk(t, user, doc, "Covalent bonds share electron pairs between atoms.", []float32{1, 0, 0})
	f.addChunk(t, user, doc, "Ionic bonds transfer electrons between ions.", []float32{0.8, 0.6, 0})

	r := f.retriever(RetrieverConfig{TopK: 8})
	r.SetReranker(func(context.Context, string, []core.VectorMatch) ([]core.VectorMatch, error) {
		return nil, errors.New("rerank model unavailable")
	})

	sources, err := r.Retrieve(context.Background(), "bonding", core.Scope{UserID: user})
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.Equal(t, closest, sources[0].ChunkID)
}

func TestRetrieveEmptyQuery(t *testing.T) {
	f := newFixture()
	_, err := f.retriever(RetrieverConfig{}).
		Retrieve(context.Background(), "   ", core.Scope{UserID: uuid.NewString()})
	assert.Error(t, err)
}
