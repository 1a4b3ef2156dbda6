package handlers

import (
	"context"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	middleware "github.com/globalbrain-ai/globalbrain/internal/api/middlewares"
	"github.com/globalbrain-ai/globalbrain/internal/core"
	"github.com/globalbrain-ai/globalbrain/internal/ingest"
	"github.com/globalbrain-ai/globalbrain/internal/log"
	"github.com/globalbrain-ai/globalbrain/internal/models"
)

const maxUploadBytes = 50 << 20 // 50 MB

type DocumentHandler struct {
	db     core.DbClient
	obj    core.ObjectClient
	index  core.VectorIndex
	orch   *ingest.Orchestrator
	bucket string
	logger log.Logger
}

func NewDocumentHandler(db core.DbClient, obj core.ObjectClient, index core.VectorIndex, orch *ingest.Orchestrator, bucket string, logger log.Logger) *DocumentHandler {
	return &DocumentHandler{
		db:     db,
		obj:    obj,
		index:  index,
		orch:   orch,
		bucket: bucket,
		logger: logger.With("handler", "documents"),
	}
}

// Upload stores the file, records the document as uploaded and queues
// it for processing. Processing status is polled via GET.
func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	// Strip any path components so the client cannot steer the key.
	fileName := filepath.Base(header.Filename)
	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	title := strings.TrimSpace(r.FormValue("title"))
	if title == "" {
		title = strings.TrimSuffix(fileName, filepath.Ext(fileName))
	}

	docID := uuid.NewString()
	storageKey := userID + "/" + docID + "/" + fileName

	uploadCtx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	url, err := h.obj.UploadFile(uploadCtx, h.bucket, storageKey, file, contentType)
	if err != nil {
		h.logger.Error("blob upload failed", "document_id", docID, "error", err)
		writeError(w, http.StatusInternalServerError, "upload failed")
		return
	}

	now := time.Now()
	doc := &models.Document{
		ID:         docID,
		UserID:     userID,
		CourseID:   strings.TrimSpace(r.FormValue("course_id")),
		FileName:   fileName,
		Title:      title,
		StorageKey: storageKey,
		StorageURL: url,
		MIMEType:   contentType,
		SizeBytes:  header.Size,
		Status:     models.StatusUploaded,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := h.db.CreateDocument(uploadCtx, doc); err != nil {
		h.logger.Error("document insert failed", "document_id", docID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store document metadata")
		return
	}

	h.orch.Enqueue(doc.ID)
	writeJSON(w, http.StatusAccepted, doc)
}

func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	docs, err := h.db.ListDocumentsByUser(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if docs == nil {
		docs = []models.Document{}
	}
	writeJSON(w, http.StatusOK, docs)
}

func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.ownedDocument(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// Reprocess re-runs ingestion for a document, wiping its previous
// chunks and vectors. Rejected while a run is in flight.
func (h *DocumentHandler) Reprocess(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.ownedDocument(w, r)
	if !ok {
		return
	}
	// A processing status older than the run timeout belongs to a
	// crashed run; let the new run take over instead of wedging the
	// document forever.
	if doc.Status == models.StatusProcessing && !h.orch.StaleProcessing(doc) {
		writeError(w, http.StatusConflict, "document is already processing")
		return
	}

	h.orch.Enqueue(doc.ID)
	writeJSON(w, http.StatusAccepted, map[string]string{"id": doc.ID, "status": models.StatusProcessing})
}

// Delete removes the document row (chunks and refs cascade), its vector
// entries and its blob. Vector and blob cleanup is best-effort: a
// failure is logged, the row still goes away.
func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.ownedDocument(w, r)
	if !ok {
		return
	}

	refs, err := h.db.ListVectorRefsByDocument(r.Context(), doc.ID)
	if err == nil && len(refs) > 0 {
		if derr := h.index.Delete(r.Context(), refs); derr != nil {
			h.logger.Error("vector cleanup failed", "document_id", doc.ID, "error", derr)
		}
	} else if err != nil {
		h.logger.Error("vector ref listing failed", "document_id", doc.ID, "error", err)
	}

	if doc.StorageKey != "" {
		if derr := h.obj.DeleteFile(r.Context(), h.bucket, doc.StorageKey); derr != nil {
			h.logger.Error("blob cleanup failed", "document_id", doc.ID, "error", derr)
		}
	}

	if err := h.db.DeleteDocument(r.Context(), doc.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ownedDocument loads the {id} document and enforces ownership. A
// document belonging to someone else reads as not found.
func (h *DocumentHandler) ownedDocument(w http.ResponseWriter, r *http.Request) (*models.Document, bool) {
	userID, ok := middleware.UserIDFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}

	docID := chi.URLParam(r, "id")
	doc, err := h.db.GetDocumentByID(r.Context(), docID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	if doc == nil || doc.UserID != userID {
		writeError(w, http.StatusNotFound, "document not found")
		return nil, false
	}
	return doc, true
}
