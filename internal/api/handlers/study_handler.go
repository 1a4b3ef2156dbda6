package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/globalbrain-ai/globalbrain/internal/core"
	"github.com/globalbrain-ai/globalbrain/internal/log"
	"github.com/globalbrain-ai/globalbrain/internal/models"
	"github.com/globalbrain-ai/globalbrain/internal/study"
)

type StudyHandler struct {
	db        core.DbClient
	generator *study.Generator
	docs      *DocumentHandler
	logger    log.Logger
}

func NewStudyHandler(db core.DbClient, generator *study.Generator, docs *DocumentHandler, logger log.Logger) *StudyHandler {
	return &StudyHandler{db: db, generator: generator, docs: docs, logger: logger.With("handler", "study")}
}

func (h *StudyHandler) ListFlashcards(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.docs.ownedDocument(w, r)
	if !ok {
		return
	}

	cards, err := h.db.ListFlashcardsByDocument(r.Context(), doc.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if cards == nil {
		cards = []models.Flashcard{}
	}
	writeJSON(w, http.StatusOK, cards)
}

type generateFlashcardsRequest struct {
	Count int `json:"count"`
}

// GenerateFlashcards creates an extra deck on demand, beyond the one
// written at ingestion time.
func (h *StudyHandler) GenerateFlashcards(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.docs.ownedDocument(w, r)
	if !ok {
		return
	}
	if !documentReady(doc) {
		writeError(w, http.StatusConflict, "document is not processed yet")
		return
	}

	var req generateFlashcardsRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	chunks, err := h.db.GetChunksByDocument(r.Context(), doc.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	cards, err := h.generator.GenerateFlashcards(r.Context(), doc, chunks, req.Count)
	if err != nil {
		h.logger.Error("flashcard generation failed", "document_id", doc.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "flashcard generation failed")
		return
	}
	writeJSON(w, http.StatusCreated, cards)
}

type generateQuizRequest struct {
	Count        int    `json:"count"`
	QuestionType string `json:"question_type"`
}

func (h *StudyHandler) GenerateQuiz(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.docs.ownedDocument(w, r)
	if !ok {
		return
	}
	if !documentReady(doc) {
		writeError(w, http.StatusConflict, "document is not processed yet")
		return
	}

	var req generateQuizRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	items, err := h.generator.GenerateQuiz(r.Context(), doc, req.Count, req.QuestionType)
	if err != nil {
		h.logger.Error("quiz generation failed", "document_id", doc.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "quiz generation failed")
		return
	}
	writeJSON(w, http.StatusCreated, items)
}

func (h *StudyHandler) ListQuizItems(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.docs.ownedDocument(w, r)
	if !ok {
		return
	}

	items, err := h.db.ListQuizItemsByDocument(r.Context(), doc.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if items == nil {
		items = []models.QuizItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

func documentReady(doc *models.Document) bool {
	return doc.Status == models.StatusCompleted || doc.Status == models.StatusCompletedWithWarnings
}
