// Package testutil provides in-memory doubles for the storage and AI
// interfaces so pipeline behavior can be tested without Postgres, S3 or
// a Gemini key.
package testutil

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/globalbrain-ai/globalbrain/internal/core"
	"github.com/globalbrain-ai/globalbrain/internal/models"
)

var (
	_ core.DbClient          = (*MemDB)(nil)
	_ core.ObjectClient      = (*MemObject)(nil)
	_ core.EmbeddingProvider = (*FakeEmbedder)(nil)
	_ core.LLMProvider       = (*FakeLLM)(nil)
)

// FakeEmbedder returns deterministic unit-ish vectors derived from the
// text and counts every call, which is how the dedupe invariant gets
// asserted.
type FakeEmbedder struct {
	Dim int

	mu        sync.Mutex
	calls     int
	texts     []string
	failTexts map[string]error
}

func NewFakeEmbedder(dim int) *FakeEmbedder {
	return &FakeEmbedder{Dim: dim, failTexts: make(map[string]error)}
}

// FailOn makes every embed call for text return err.
func (f *FakeEmbedder) FailOn(text string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failTexts[text] = err
}

func (f *FakeEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	f.texts = append(f.texts, texts...)
	var failErr error
	for _, t := range texts {
		if err, ok := f.failTexts[t]; ok {
			failErr = err
		}
	}
	f.mu.Unlock()
	if failErr != nil {
		return nil, failErr
	}

	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = DeterministicVector(t, f.Dim)
	}
	return out, nil
}

func (f *FakeEmbedder) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *FakeEmbedder) EmbeddedTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

func (f *FakeEmbedder) Provider() string { return "fake" }
func (f *FakeEmbedder) Model() string    { return "fake-embed-001" }
func (f *FakeEmbedder) Dimension() int   { return f.Dim }

// DeterministicVector hashes text into a stable pseudo-embedding so
// identical texts land on identical vectors.
func DeterministicVector(text string, dim int) []float32 {
	sum := sha256.Sum256([]byte(text))
	vec := make([]float32, dim)
	for i := range vec {
		b := sum[(i*4)%28 : (i*4)%28+4]
		vec[i] = float32(binary.BigEndian.Uint32(b)%1000)/1000 - 0.5
	}
	return vec
}

// FakeLLM returns a fixed response and records the prompts it saw.
type FakeLLM struct {
	Response string
	Err      error

	mu            sync.Mutex
	calls         int
	SystemPrompts []string
	UserPrompts   []string
}

func (f *FakeLLM) Generate(_ context.Context, systemPrompt, userPrompt string) (*core.Generation, error) {
	f.mu.Lock()
	f.calls++
	f.SystemPrompts = append(f.SystemPrompts, systemPrompt)
	f.UserPrompts = append(f.UserPrompts, userPrompt)
	f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	return &core.Generation{Text: f.Response, TokensIn: 10, TokensOut: 20, Model: "fake-gen-001"}, nil
}

func (f *FakeLLM) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// MemObject is a map-backed core.ObjectClient.
type MemObject struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func NewMemObject() *MemObject {
	return &MemObject{blobs: make(map[string][]byte)}
}

func (m *MemObject) Put(bucket, key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[bucket+"/"+key] = data
}

func (m *MemObject) UploadFile(_ context.Context, bucket, key string, data io.Reader, _ string) (string, error) {
	buf, err := io.ReadAll(data)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	m.blobs[bucket+"/"+key] = buf
	m.mu.Unlock()
	return "mem://" + bucket + "/" + key, nil
}

func (m *MemObject) GetFile(_ context.Context, bucket, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blobs[bucket+"/"+key]
	if !ok {
		return nil, fmt.Errorf("object %s/%s not found", bucket, key)
	}
	return append([]byte(nil), data...), nil
}

func (m *MemObject) DeleteFile(_ context.Context, bucket, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, bucket+"/"+key)
	return nil
}

// MemDB is a map-backed core.DbClient covering what the pipeline and
// handlers touch.
type MemDB struct {
	mu         sync.Mutex
	users      map[string]*models.User
	docs       map[string]*models.Document
	chunks     map[string][]models.Chunk // by document id
	refs       map[string][]models.EmbeddingRef
	flashcards map[string][]models.Flashcard
	quizzes    map[string][]models.QuizItem
}

func NewMemDB() *MemDB {
	return &MemDB{
		users:      make(map[string]*models.User),
		docs:       make(map[string]*models.Document),
		chunks:     make(map[string][]models.Chunk),
		refs:       make(map[string][]models.EmbeddingRef),
		flashcards: make(map[string][]models.Flashcard),
		quizzes:    make(map[string][]models.QuizItem),
	}
}

func (m *MemDB) CreateUser(_ context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return fmt.Errorf("email %s already registered", u.Email)
		}
	}
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *MemDB) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemDB) CreateDocument(_ context.Context, d *models.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	m.docs[d.ID] = &cp
	return nil
}

func (m *MemDB) GetDocumentByID(_ context.Context, id string) (*models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (m *MemDB) GetDocumentsByIDs(_ context.Context, ids []string) ([]models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Document, 0, len(ids))
	for _, id := range ids {
		if d, ok := m.docs[id]; ok {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (m *MemDB) ListDocumentsByUser(_ context.Context, userID string) ([]models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Document
	for _, d := range m.docs {
		if d.UserID == userID {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemDB) UpdateDocumentStatus(_ context.Context, id, status, errorMessage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return fmt.Errorf("document %s not found", id)
	}
	d.Status = status
	d.ErrorMessage = errorMessage
	d.UpdatedAt = time.Now()
	return nil
}

func (m *MemDB) UpdateDocumentCounts(_ context.Context, id string, totalChunks, totalTokens int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return fmt.Errorf("document %s not found", id)
	}
	d.TotalChunks = totalChunks
	d.TotalTokens = totalTokens
	return nil
}

func (m *MemDB) UpdateDocumentSummary(_ context.Context, id, summary string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return fmt.Errorf("document %s not found", id)
	}
	d.Summary = summary
	return nil
}

func (m *MemDB) DeleteDocument(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, id)
	delete(m.chunks, id)
	delete(m.refs, id)
	delete(m.flashcards, id)
	delete(m.quizzes, id)
	return nil
}

func (m *MemDB) InsertChunks(_ context.Context, chunks []models.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range chunks {
		m.chunks[c.DocumentID] = append(m.chunks[c.DocumentID], c)
	}
	return nil
}

func (m *MemDB) GetChunksByDocument(_ context.Context, docID string) ([]models.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]models.Chunk(nil), m.chunks[docID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (m *MemDB) GetChunksByIDs(_ context.Context, ids []string) ([]models.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []models.Chunk
	for _, list := range m.chunks {
		for i := range list {
			if want[list[i].ID] {
				out = append(out, list[i])
			}
		}
	}
	return out, nil
}

func (m *MemDB) DeleteChunksByDocument(_ context.Context, docID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.chunks, docID)
	delete(m.refs, docID)
	return nil
}

func (m *MemDB) InsertEmbeddingRefs(_ context.Context, refs []models.EmbeddingRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range refs {
		docID := m.docIDForChunk(r.ChunkID)
		m.refs[docID] = append(m.refs[docID], r)
	}
	return nil
}

func (m *MemDB) FindVectorRefByFingerprint(_ context.Context, fingerprint, provider, model string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	chunkFP := make(map[string]string)
	for _, list := range m.chunks {
		for _, c := range list {
			chunkFP[c.ID] = c.Fingerprint
		}
	}
	for _, refs := range m.refs {
		for _, r := range refs {
			if chunkFP[r.ChunkID] == fingerprint && r.Provider == provider && r.Model == model {
				return r.VectorRef, nil
			}
		}
	}
	return "", nil
}

func (m *MemDB) ListVectorRefsByDocument(_ context.Context, docID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for _, r := range m.refs[docID] {
		if !seen[r.VectorRef] {
			seen[r.VectorRef] = true
			out = append(out, r.VectorRef)
		}
	}
	return out, nil
}

func (m *MemDB) InsertFlashcards(_ context.Context, cards []models.Flashcard) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range cards {
		m.flashcards[c.DocumentID] = append(m.flashcards[c.DocumentID], c)
	}
	return nil
}

func (m *MemDB) ListFlashcardsByDocument(_ context.Context, docID string) ([]models.Flashcard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Flashcard(nil), m.flashcards[docID]...), nil
}

func (m *MemDB) InsertQuizItems(_ context.Context, items []models.QuizItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, q := range items {
		m.quizzes[q.DocumentID] = append(m.quizzes[q.DocumentID], q)
	}
	return nil
}

func (m *MemDB) ListQuizItemsByDocument(_ context.Context, docID string) ([]models.QuizItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.QuizItem(nil), m.quizzes[docID]...), nil
}

func (m *MemDB) docIDForChunk(chunkID string) string {
	for docID, list := range m.chunks {
		for _, c := range list {
			if c.ID == chunkID {
				return docID
			}
		}
	}
	return ""
}
