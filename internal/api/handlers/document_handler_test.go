package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	middleware "github.com/globalbrain-ai/globalbrain/internal/api/middlewares"
	"github.com/globalbrain-ai/globalbrain/internal/core"
	"github.com/globalbrain-ai/globalbrain/internal/core/vectorindex"
	"github.com/globalbrain-ai/globalbrain/internal/extract"
	"github.com/globalbrain-ai/globalbrain/internal/ingest"
	"github.com/globalbrain-ai/globalbrain/internal/log"
	"github.com/globalbrain-ai/globalbrain/internal/models"
	"github.com/globalbrain-ai/globalbrain/internal/testutil"
)

type docRig struct {
	db      *testutil.MemDB
	obj     *testutil.MemObject
	index   *vectorindex.MemoryIndex
	handler *DocumentHandler
	router  chi.Router
}

func newDocRig(t *testing.T) *docRig {
	t.Helper()
	db := testutil.NewMemDB()
	obj := testutil.NewMemObject()
	index := vectorindex.NewMemoryIndex()
	orch := ingest.NewOrchestrator(
		db, obj,
		extract.NewDocconvExtractor(log.NewNop()),
		testutil.NewFakeEmbedder(8),
		index,
		ingest.Config{Bucket: "docs", EmbedRPS: 1000},
		log.NewNop(),
	)
	h := NewDocumentHandler(db, obj, index, orch, "docs", log.NewNop())

	r := chi.NewRouter()
	r.Post("/documents/upload", h.Upload)
	r.Get("/documents", h.List)
	r.Get("/documents/{id}", h.Get)
	r.Post("/documents/{id}/reprocess", h.Reprocess)
	r.Delete("/documents/{id}", h.Delete)

	return &docRig{db: db, obj: obj, index: index, handler: h, router: r}
}

func (rig *docRig) do(t *testing.T, userID string, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	req = req.WithContext(middleware.WithUserID(req.Context(), userID))
	rec := httptest.NewRecorder()
	rig.router.ServeHTTP(rec, req)
	return rec
}

func multipartUpload(t *testing.T, fileName, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", fileName)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestUploadQueuesDocument(t *testing.T) {
	rig := newDocRig(t)
	user := uuid.NewString()

	body, contentType := multipartUpload(t, "lecture.txt", "Some lecture notes about cell biology.")
	req := httptest.NewRequest(http.MethodPost, "/documents/upload", body)
	req.Header.Set("Content-Type", contentType)

	rec := rig.do(t, user, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var doc models.Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, models.StatusUploaded, doc.Status)
	assert.Equal(t, "lecture.txt", doc.FileName)
	assert.Equal(t, "lecture", doc.Title)
	assert.Equal(t, user, doc.UserID)

	blob, err := rig.obj.GetFile(context.Background(), "docs", doc.StorageKey)
	require.NoError(t, err)
	assert.Equal(t, "Some lecture notes about cell biology.", string(blob))
}

func TestUploadRequiresFile(t *testing.T) {
	rig := newDocRig(t)
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/documents/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := rig.do(t, uuid.NewString(), req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func seedDocRow(t *testing.T, rig *docRig, userID, status string) *models.Document {
	t.Helper()
	doc := &models.Document{
		ID:         uuid.NewString(),
		UserID:     userID,
		FileName:   "notes.txt",
		Title:      "Notes",
		StorageKey: userID + "/notes.txt",
		Status:     status,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	require.NoError(t, rig.db.CreateDocument(context.Background(), doc))
	return doc
}

func TestGetHidesForeignDocuments(t *testing.T) {
	rig := newDocRig(t)
	owner := uuid.NewString()
	doc := seedDocRow(t, rig, owner, models.StatusCompleted)

	rec := rig.do(t, owner, httptest.NewRequest(http.MethodGet, "/documents/"+doc.ID, nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = rig.do(t, uuid.NewString(), httptest.NewRequest(http.MethodGet, "/documents/"+doc.ID, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReprocessConflictsWhileProcessing(t *testing.T) {
	rig := newDocRig(t)
	user := uuid.NewString()
	doc := seedDocRow(t, rig, user, models.StatusProcessing)

	rec := rig.do(t, user, httptest.NewRequest(http.MethodPost, "/documents/"+doc.ID+"/reprocess", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestReprocessTakesOverStaleProcessing(t *testing.T) {
	rig := newDocRig(t)
	user := uuid.NewString()
	doc := seedDocRow(t, rig, user, models.StatusProcessing)

	// Simulate a run that crashed long ago: the status row is far
	// older than the process timeout, so reprocess must be accepted.
	doc.UpdatedAt = time.Now().Add(-time.Hour)
	require.NoError(t, rig.db.CreateDocument(context.Background(), doc))

	rec := rig.do(t, user, httptest.NewRequest(http.MethodPost, "/documents/"+doc.ID+"/reprocess", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestDeleteRemovesRowBlobAndVectors(t *testing.T) {
	rig := newDocRig(t)
	user := uuid.NewString()
	doc := seedDocRow(t, rig, user, models.StatusCompleted)
	rig.obj.Put("docs", doc.StorageKey, []byte("content"))

	chunk := models.Chunk{ID: uuid.NewString(), DocumentID: doc.ID, Text: "chunk text"}
	require.NoError(t, rig.db.InsertChunks(context.Background(), []models.Chunk{chunk}))
	require.NoError(t, rig.db.InsertEmbeddingRefs(context.Background(), []models.EmbeddingRef{{
		ID: uuid.NewString(), ChunkID: chunk.ID, VectorRef: "vec_" + chunk.ID,
	}}))
	require.NoError(t, rig.index.Upsert(context.Background(), []core.VectorEntry{{
		ID: "vec_" + chunk.ID, UserID: user, DocumentID: doc.ID, ChunkID: chunk.ID,
		Provider: "fake", Model: "fake-embed-001", Embedding: []float32{1},
	}}))

	rec := rig.do(t, user, httptest.NewRequest(http.MethodDelete, "/documents/"+doc.ID, nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	got, err := rig.db.GetDocumentByID(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, 0, rig.index.Len())

	_, err = rig.obj.GetFile(context.Background(), "docs", doc.StorageKey)
	assert.Error(t, err)
}

func TestListReturnsOnlyOwnDocuments(t *testing.T) {
	rig := newDocRig(t)
	alice, bob := uuid.NewString(), uuid.NewString()
	seedDocRow(t, rig, alice, models.StatusCompleted)
	seedDocRow(t, rig, bob, models.StatusCompleted)

	rec := rig.do(t, alice, httptest.NewRequest(http.MethodGet, "/documents", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var docs []models.Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &docs))
	require.Len(t, docs, 1)
	assert.Equal(t, alice, docs[0].UserID)
}
