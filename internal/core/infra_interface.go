package core

import (
	"context"
	"io"

	"github.com/globalbrain-ai/globalbrain/internal/models"
)

// DbClient defines all persistence operations the services need. It
// abstracts Postgres so higher layers never depend on a specific DB.
type DbClient interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)

	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocumentByID(ctx context.Context, id string) (*models.Document, error)
	GetDocumentsByIDs(ctx context.Context, ids []string) ([]models.Document, error)
	ListDocumentsByUser(ctx context.Context, userID string) ([]models.Document, error)
	UpdateDocumentStatus(ctx context.Context, id, status, errorMessage string) error
	UpdateDocumentCounts(ctx context.Context, id string, totalChunks, totalTokens int) error
	UpdateDocumentSummary(ctx context.Context, id, summary string) error
	DeleteDocument(ctx context.Context, id string) error

	InsertChunks(ctx context.Context, chunks []models.Chunk) error
	GetChunksByDocument(ctx context.Context, documentID string) ([]models.Chunk, error)
	GetChunksByIDs(ctx context.Context, ids []string) ([]models.Chunk, error)
	DeleteChunksByDocument(ctx context.Context, documentID string) error

	InsertEmbeddingRefs(ctx context.Context, refs []models.EmbeddingRef) error
	ListVectorRefsByDocument(ctx context.Context, documentID string) ([]string, error)
	// FindVectorRefByFingerprint returns the vector ref of any stored
	// chunk with this fingerprint embedded by (provider, model), or ""
	// when none exists. Lets ingestion reuse embeddings across
	// documents with shared boilerplate.
	FindVectorRefByFingerprint(ctx context.Context, fingerprint, provider, model string) (string, error)

	InsertFlashcards(ctx context.Context, cards []models.Flashcard) error
	ListFlashcardsByDocument(ctx context.Context, documentID string) ([]models.Flashcard, error)

	InsertQuizItems(ctx context.Context, items []models.QuizItem) error
	ListQuizItemsByDocument(ctx context.Context, documentID string) ([]models.QuizItem, error)
}

// ObjectClient defines interactions with S3 or any object storage.
// Abstract so AWS can be replaced with MinIO, GCS, etc.
type ObjectClient interface {
	UploadFile(ctx context.Context, bucket, key string, data io.Reader, contentType string) (url string, err error)
	DeleteFile(ctx context.Context, bucket, key string) error
	GetFile(ctx context.Context, bucket, key string) ([]byte, error)
}
