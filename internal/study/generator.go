// Package study generates summaries, flashcards and quizzes from
// processed document chunks. All generation is best-effort: a failed
// artifact never affects document status or retrieval.
package study

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/globalbrain-ai/globalbrain/internal/core"
	"github.com/globalbrain-ai/globalbrain/internal/log"
	"github.com/globalbrain-ai/globalbrain/internal/models"
)

// maxContextChars caps how much chunk text goes into one generation
// prompt.
const maxContextChars = 12000

const (
	defaultFlashcards = 10
	defaultQuizItems  = 5
	maxArtifacts      = 30
)

type Generator struct {
	db     core.DbClient
	llm    core.LLMProvider
	logger log.Logger
}

func NewGenerator(db core.DbClient, llm core.LLMProvider, logger log.Logger) *Generator {
	return &Generator{db: db, llm: llm, logger: logger.With("component", "study")}
}

// OnDocumentProcessed is the ingestion artifact hook: write a summary
// and a starter flashcard deck for a freshly processed document.
// Failures are logged and swallowed.
func (g *Generator) OnDocumentProcessed(ctx context.Context, doc *models.Document, chunks []models.Chunk) {
	if err := g.Summarize(ctx, doc, chunks); err != nil {
		g.logger.Warn("summary generation failed", "document_id", doc.ID, "error", err)
	}
	if _, err := g.GenerateFlashcards(ctx, doc, chunks, defaultFlashcards); err != nil {
		g.logger.Warn("flashcard generation failed", "document_id", doc.ID, "error", err)
	}
}

// Summarize writes a short overview onto the document row.
func (g *Generator) Summarize(ctx context.Context, doc *models.Document, chunks []models.Chunk) error {
	gen, err := g.llm.Generate(ctx,
		"You summarize study material. Write 3-5 plain sentences covering the main topics. No preamble, no markdown.",
		"Material from \""+doc.Title+"\":\n\n"+contextText(chunks),
	)
	if err != nil {
		return fmt.Errorf("summarize: %w", err)
	}
	summary := strings.TrimSpace(gen.Text)
	if summary == "" {
		return fmt.Errorf("summarize: empty response")
	}
	return g.db.UpdateDocumentSummary(ctx, doc.ID, summary)
}

type flashcardPayload struct {
	Front      string `json:"front"`
	Back       string `json:"back"`
	Difficulty string `json:"difficulty"`
	CardType   string `json:"card_type"`
}

// GenerateFlashcards asks the model for count cards over the chunks and
// persists the valid ones.
func (g *Generator) GenerateFlashcards(ctx context.Context, doc *models.Document, chunks []models.Chunk, count int) ([]models.Flashcard, error) {
	count = clampCount(count, defaultFlashcards)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("no chunks to generate from")
	}

	prompt := fmt.Sprintf(
		"Create exactly %d flashcards from the material below.\n"+
			"Respond with a JSON array only, no prose, no code fences. Each element:\n"+
			`{"front": "question or term", "back": "answer or definition", "difficulty": "easy|medium|hard", "card_type": "definition|concept|fact"}`+
			"\n\nMaterial:\n%s", count, contextText(chunks))

	gen, err := g.llm.Generate(ctx, "You create study flashcards. Output strict JSON.", prompt)
	if err != nil {
		return nil, fmt.Errorf("generate flashcards: %w", err)
	}

	var payload []flashcardPayload
	if err := json.Unmarshal([]byte(stripFences(gen.Text)), &payload); err != nil {
		return nil, fmt.Errorf("parse flashcards: %w", err)
	}

	now := time.Now()
	cards := make([]models.Flashcard, 0, len(payload))
	for _, p := range payload {
		if strings.TrimSpace(p.Front) == "" || strings.TrimSpace(p.Back) == "" {
			continue
		}
		cards = append(cards, models.Flashcard{
			ID:         uuid.NewString(),
			UserID:     doc.UserID,
			DocumentID: doc.ID,
			Front:      strings.TrimSpace(p.Front),
			Back:       strings.TrimSpace(p.Back),
			Difficulty: normalizeDifficulty(p.Difficulty),
			CardType:   p.CardType,
			CreatedAt:  now,
		})
	}
	if len(cards) == 0 {
		return nil, fmt.Errorf("model returned no usable flashcards")
	}
	if err := g.db.InsertFlashcards(ctx, cards); err != nil {
		return nil, fmt.Errorf("store flashcards: %w", err)
	}
	return cards, nil
}

type quizPayload struct {
	QuestionType  string   `json:"question_type"`
	Prompt        string   `json:"prompt"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correct_answer"`
	Explanation   string   `json:"explanation"`
}

// GenerateQuiz builds quiz questions on demand from a completed
// document's stored chunks.
func (g *Generator) GenerateQuiz(ctx context.Context, doc *models.Document, count int, questionType string) ([]models.QuizItem, error) {
	count = clampCount(count, defaultQuizItems)
	switch questionType {
	case "", "multiple_choice", "true_false", "short_answer":
	default:
		return nil, fmt.Errorf("unknown question type %q", questionType)
	}
	if questionType == "" {
		questionType = "multiple_choice"
	}

	chunks, err := g.db.GetChunksByDocument(ctx, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("load chunks: %w", err)
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("document %s has no chunks", doc.ID)
	}

	prompt := fmt.Sprintf(
		"Create exactly %d %s quiz questions from the material below.\n"+
			"Respond with a JSON array only, no prose, no code fences. Each element:\n"+
			`{"question_type": %q, "prompt": "the question", "options": ["A", "B", "C", "D"], "correct_answer": "the correct option or answer", "explanation": "one sentence"}`+
			"\nFor true_false use options [\"true\", \"false\"]; for short_answer omit options.\n\nMaterial:\n%s",
		count, questionType, questionType, contextText(chunks))

	gen, err := g.llm.Generate(ctx, "You write quiz questions for students. Output strict JSON.", prompt)
	if err != nil {
		return nil, fmt.Errorf("generate quiz: %w", err)
	}

	var payload []quizPayload
	if err := json.Unmarshal([]byte(stripFences(gen.Text)), &payload); err != nil {
		return nil, fmt.Errorf("parse quiz: %w", err)
	}

	now := time.Now()
	items := make([]models.QuizItem, 0, len(payload))
	for _, p := range payload {
		if strings.TrimSpace(p.Prompt) == "" || strings.TrimSpace(p.CorrectAnswer) == "" {
			continue
		}
		options := ""
		if len(p.Options) > 0 {
			raw, err := json.Marshal(p.Options)
			if err != nil {
				continue
			}
			options = string(raw)
		}
		items = append(items, models.QuizItem{
			ID:            uuid.NewString(),
			UserID:        doc.UserID,
			DocumentID:    doc.ID,
			QuestionType:  questionType,
			Prompt:        strings.TrimSpace(p.Prompt),
			Options:       options,
			CorrectAnswer: strings.TrimSpace(p.CorrectAnswer),
			Explanation:   strings.TrimSpace(p.Explanation),
			CreatedAt:     now,
		})
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("model returned no usable questions")
	}
	if err := g.db.InsertQuizItems(ctx, items); err != nil {
		return nil, fmt.Errorf("store quiz: %w", err)
	}
	return items, nil
}

// contextText joins chunk texts in document order up to
// maxContextChars.
func contextText(chunks []models.Chunk) string {
	var b strings.Builder
	for _, c := range chunks {
		if b.Len()+len(c.Text) > maxContextChars {
			break
		}
		b.WriteString(c.Text)
		b.WriteString("\n\n")
	}
	return strings.TrimSpace(b.String())
}

// stripFences removes a surrounding markdown code fence, which Gemini
// adds even when told not to.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func clampCount(n, fallback int) int {
	if n <= 0 {
		return fallback
	}
	if n > maxArtifacts {
		return maxArtifacts
	}
	return n
}

func normalizeDifficulty(d string) string {
	switch strings.ToLower(strings.TrimSpace(d)) {
	case "easy", "medium", "hard":
		return strings.ToLower(strings.TrimSpace(d))
	default:
		return "medium"
	}
}
