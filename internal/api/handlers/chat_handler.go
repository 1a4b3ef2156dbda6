package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	middleware "github.com/globalbrain-ai/globalbrain/internal/api/middlewares"
	"github.com/globalbrain-ai/globalbrain/internal/core"
	"github.com/globalbrain-ai/globalbrain/internal/log"
	"github.com/globalbrain-ai/globalbrain/internal/retrieval"
)

type ChatHandler struct {
	db           core.DbClient
	retriever    *retrieval.Retriever
	composer     *retrieval.Composer
	queryTimeout time.Duration
	logger       log.Logger
}

func NewChatHandler(db core.DbClient, retriever *retrieval.Retriever, composer *retrieval.Composer, queryTimeout time.Duration, logger log.Logger) *ChatHandler {
	if queryTimeout <= 0 {
		queryTimeout = 60 * time.Second
	}
	return &ChatHandler{
		db:           db,
		retriever:    retriever,
		composer:     composer,
		queryTimeout: queryTimeout,
		logger:       logger.With("handler", "chat"),
	}
}

type askRequest struct {
	Question    string   `json:"question"`
	DocumentIDs []string `json:"document_ids,omitempty"`
	CourseID    string   `json:"course_id,omitempty"`
	Level       string   `json:"level,omitempty"`
}

// Ask answers a question over the caller's documents, optionally
// narrowed to specific documents or a course.
func (h *ChatHandler) Ask(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	// Requested document filters must belong to the caller.
	if len(req.DocumentIDs) > 0 {
		docs, err := h.db.GetDocumentsByIDs(r.Context(), req.DocumentIDs)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		owned := make(map[string]bool, len(docs))
		for _, d := range docs {
			if d.UserID == userID {
				owned[d.ID] = true
			}
		}
		for _, id := range req.DocumentIDs {
			if !owned[id] {
				writeError(w, http.StatusNotFound, "document not found: "+id)
				return
			}
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.queryTimeout)
	defer cancel()

	// The index has no course column; a course filter narrows to that
	// course's document ids here. A course with no documents answers
	// "insufficient" rather than falling through to an unnarrowed scope.
	if req.CourseID != "" {
		docIDs, err := h.courseDocumentIDs(ctx, userID, req.CourseID, req.DocumentIDs)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if len(docIDs) == 0 {
			answer, err := h.composer.Compose(ctx, req.Question, nil, req.Level)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "answer generation failed")
				return
			}
			writeJSON(w, http.StatusOK, answer)
			return
		}
		req.DocumentIDs = docIDs
	}

	scope := core.Scope{UserID: userID, DocumentIDs: req.DocumentIDs}
	sources, err := h.retriever.Retrieve(ctx, req.Question, scope)
	if err != nil {
		if errors.Is(err, core.ErrMissingScope) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		h.logger.Error("retrieval failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "retrieval failed")
		return
	}

	answer, err := h.composer.Compose(ctx, req.Question, sources, req.Level)
	if err != nil {
		h.logger.Error("answer composition failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "answer generation failed")
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

// courseDocumentIDs returns the caller's document ids in courseID,
// intersected with an explicit document filter when one was given.
func (h *ChatHandler) courseDocumentIDs(ctx context.Context, userID, courseID string, requested []string) ([]string, error) {
	docs, err := h.db.ListDocumentsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(requested))
	for _, id := range requested {
		wanted[id] = true
	}

	var out []string
	for _, d := range docs {
		if d.CourseID != courseID {
			continue
		}
		if len(wanted) > 0 && !wanted[d.ID] {
			continue
		}
		out = append(out, d.ID)
	}
	return out, nil
}
