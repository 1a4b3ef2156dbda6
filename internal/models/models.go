package models

import (
	"time"
)

// Document lifecycle states. Only the orchestrator mutates status.
const (
	StatusUploaded              = "uploaded"
	StatusProcessing            = "processing"
	StatusCompleted             = "completed"
	StatusCompletedWithWarnings = "completed_with_warnings"
	StatusFailed                = "failed"
)

// User represents an authenticated user of the system.
type User struct {
	ID           string    `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	TenantID     string    `db:"tenant_id" json:"tenant_id"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Document represents a user-uploaded document and its processing state.
type Document struct {
	ID           string    `db:"id" json:"id"`
	UserID       string    `db:"user_id" json:"user_id"`
	TenantID     string    `db:"tenant_id" json:"tenant_id"`
	CourseID     string    `db:"course_id" json:"course_id,omitempty"`
	FileName     string    `db:"file_name" json:"file_name"`
	Title        string    `db:"title" json:"title"`
	StorageKey   string    `db:"storage_key" json:"-"`
	StorageURL   string    `db:"storage_url" json:"storage_url"`
	MIMEType     string    `db:"mime_type" json:"mime_type"`
	SizeBytes    int64     `db:"size_bytes" json:"size_bytes"`
	Status       string    `db:"status" json:"status"`
	TotalChunks  int       `db:"total_chunks" json:"total_chunks"`
	TotalTokens  int       `db:"total_tokens" json:"total_tokens"`
	Summary      string    `db:"summary" json:"summary,omitempty"`
	ErrorMessage string    `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Chunk is one ordered text segment of a document. Immutable once
// written; deleted in bulk with its parent document.
type Chunk struct {
	ID           string    `db:"id" json:"id"`
	DocumentID   string    `db:"document_id" json:"document_id"`
	Index        int       `db:"chunk_index" json:"chunk_index"`
	Text         string    `db:"text" json:"text"`
	TokenCount   int       `db:"token_count" json:"token_count"`
	Fingerprint  string    `db:"fingerprint" json:"fingerprint"`
	SectionTitle string    `db:"section_title" json:"section_title,omitempty"`
	PageNumber   int       `db:"page_number" json:"page_number,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// EmbeddingRef records which vector-index entry holds a chunk's
// embedding and what produced it. The raw vector lives only in the
// index. Re-embedding with a new model inserts a new row.
type EmbeddingRef struct {
	ID        string    `db:"id" json:"id"`
	ChunkID   string    `db:"chunk_id" json:"chunk_id"`
	Provider  string    `db:"provider" json:"provider"`
	Model     string    `db:"model" json:"model"`
	Dimension int       `db:"dimension" json:"dimension"`
	VectorRef string    `db:"vector_ref" json:"vector_ref"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Flashcard is a study artifact generated from document chunks.
type Flashcard struct {
	ID         string    `db:"id" json:"id"`
	UserID     string    `db:"user_id" json:"user_id"`
	DocumentID string    `db:"document_id" json:"document_id"`
	ChunkID    string    `db:"chunk_id" json:"chunk_id,omitempty"`
	Front      string    `db:"front" json:"front"`
	Back       string    `db:"back" json:"back"`
	Difficulty string    `db:"difficulty" json:"difficulty"`
	CardType   string    `db:"card_type" json:"card_type"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// QuizItem is a generated quiz question with its source provenance.
type QuizItem struct {
	ID            string    `db:"id" json:"id"`
	UserID        string    `db:"user_id" json:"user_id"`
	DocumentID    string    `db:"document_id" json:"document_id"`
	QuestionType  string    `db:"question_type" json:"question_type"`
	Prompt        string    `db:"prompt" json:"prompt"`
	Options       string    `db:"options" json:"options,omitempty"` // JSON array for multiple choice
	CorrectAnswer string    `db:"correct_answer" json:"correct_answer"`
	Explanation   string    `db:"explanation" json:"explanation,omitempty"`
	SourceChunkID string    `db:"source_chunk_id" json:"source_chunk_id,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}
