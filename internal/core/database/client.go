package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/globalbrain-ai/globalbrain/internal/config"
	"github.com/globalbrain-ai/globalbrain/internal/core"
	"github.com/globalbrain-ai/globalbrain/internal/models"
)

type DatabaseClient struct {
	db *sql.DB
}

var _ core.DbClient = (*DatabaseClient)(nil)

// orNow substitutes the current time for a zero timestamp. A zero
// time.Time reaches the driver as 0001-01-01, not NULL, so SQL-side
// defaults never apply to it.
func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func NewDatabaseClient(ctx context.Context, cfg *config.Config) (*DatabaseClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	sqlDB, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// Sensible pool settings for an API service; adjust as needed.
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	sqlDB.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &DatabaseClient{db: sqlDB}, nil
}

// DB exposes the underlying handle so the pgvector index adapter can
// share the same pool.
func (c *DatabaseClient) DB() *sql.DB {
	return c.db
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Users

func (c *DatabaseClient) CreateUser(ctx context.Context, user *models.User) error {
	if user == nil {
		return errors.New("nil user")
	}
	const q = `
		INSERT INTO users (id, email, password_hash, tenant_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := c.db.ExecContext(ctx, q,
		user.ID, user.Email, user.PasswordHash, user.TenantID, orNow(user.CreatedAt), orNow(user.UpdatedAt))
	return err
}

func (c *DatabaseClient) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	const q = `
		SELECT id, email, password_hash, tenant_id, created_at, updated_at
		FROM users WHERE email = $1
	`
	var u models.User
	err := c.db.QueryRowContext(ctx, q, email).Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.TenantID, &u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Documents

const documentColumns = `id, user_id, tenant_id, course_id, file_name, title, storage_key, storage_url,
	mime_type, size_bytes, status, total_chunks, total_tokens, summary, error_message, created_at, updated_at`

func scanDocument(row interface{ Scan(...any) error }) (*models.Document, error) {
	var d models.Document
	err := row.Scan(
		&d.ID, &d.UserID, &d.TenantID, &d.CourseID, &d.FileName, &d.Title, &d.StorageKey, &d.StorageURL,
		&d.MIMEType, &d.SizeBytes, &d.Status, &d.TotalChunks, &d.TotalTokens, &d.Summary, &d.ErrorMessage,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *DatabaseClient) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc == nil {
		return errors.New("nil document")
	}
	const q = `
		INSERT INTO documents
			(id, user_id, tenant_id, course_id, file_name, title, storage_key, storage_url,
			 mime_type, size_bytes, status, created_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := c.db.ExecContext(ctx, q,
		doc.ID, doc.UserID, doc.TenantID, doc.CourseID, doc.FileName, doc.Title, doc.StorageKey, doc.StorageURL,
		doc.MIMEType, doc.SizeBytes, doc.Status, orNow(doc.CreatedAt), orNow(doc.UpdatedAt))
	return err
}

func (c *DatabaseClient) GetDocumentByID(ctx context.Context, id string) (*models.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`
	doc, err := scanDocument(c.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (c *DatabaseClient) GetDocumentsByIDs(ctx context.Context, ids []string) ([]models.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q := `SELECT ` + documentColumns + ` FROM documents WHERE id = ANY($1)`
	rows, err := c.db.QueryContext(ctx, q, pgTextArray(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) ListDocumentsByUser(ctx context.Context, userID string) ([]models.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents WHERE user_id = $1 ORDER BY created_at DESC`
	rows, err := c.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) UpdateDocumentStatus(ctx context.Context, id, status, errorMessage string) error {
	const q = `
		UPDATE documents
		SET status = $2, error_message = $3, updated_at = now()
		WHERE id = $1
	`
	res, err := c.db.ExecContext(ctx, q, id, status, errorMessage)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("document not found: %s", id)
	}
	return nil
}

func (c *DatabaseClient) UpdateDocumentCounts(ctx context.Context, id string, totalChunks, totalTokens int) error {
	const q = `
		UPDATE documents
		SET total_chunks = $2, total_tokens = $3, updated_at = now()
		WHERE id = $1
	`
	_, err := c.db.ExecContext(ctx, q, id, totalChunks, totalTokens)
	return err
}

func (c *DatabaseClient) UpdateDocumentSummary(ctx context.Context, id, summary string) error {
	const q = `UPDATE documents SET summary = $2, updated_at = now() WHERE id = $1`
	_, err := c.db.ExecContext(ctx, q, id, summary)
	return err
}

// DeleteDocument removes the primary record; chunks, embedding refs,
// vector entries, flashcards and quiz items go with it via FK cascade.
func (c *DatabaseClient) DeleteDocument(ctx context.Context, id string) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("document not found: %s", id)
	}
	return nil
}

// Chunks

func (c *DatabaseClient) InsertChunks(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}

	const q = `
		INSERT INTO document_chunks
			(id, document_id, chunk_index, text, token_count, fingerprint, section_title, page_number, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i := range chunks {
		ch := &chunks[i]
		if _, err := stmt.ExecContext(ctx,
			ch.ID, ch.DocumentID, ch.Index, ch.Text, ch.TokenCount, ch.Fingerprint,
			ch.SectionTitle, ch.PageNumber, orNow(ch.CreatedAt),
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

const chunkColumns = `id, document_id, chunk_index, text, token_count, fingerprint, section_title, page_number, created_at`

func (c *DatabaseClient) GetChunksByDocument(ctx context.Context, documentID string) ([]models.Chunk, error) {
	q := `SELECT ` + chunkColumns + ` FROM document_chunks WHERE document_id = $1 ORDER BY chunk_index ASC`
	return c.queryChunks(ctx, q, documentID)
}

func (c *DatabaseClient) GetChunksByIDs(ctx context.Context, ids []string) ([]models.Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q := `SELECT ` + chunkColumns + ` FROM document_chunks WHERE id = ANY($1)`
	return c.queryChunks(ctx, q, pgTextArray(ids))
}

func (c *DatabaseClient) queryChunks(ctx context.Context, q string, args ...any) ([]models.Chunk, error) {
	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Chunk
	for rows.Next() {
		var ch models.Chunk
		if err := rows.Scan(
			&ch.ID, &ch.DocumentID, &ch.Index, &ch.Text, &ch.TokenCount, &ch.Fingerprint,
			&ch.SectionTitle, &ch.PageNumber, &ch.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) DeleteChunksByDocument(ctx context.Context, documentID string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, documentID)
	return err
}

// Embedding references

func (c *DatabaseClient) InsertEmbeddingRefs(ctx context.Context, refs []models.EmbeddingRef) error {
	if len(refs) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}

	const q = `
		INSERT INTO embedding_refs (id, chunk_id, provider, model, dimension, vector_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i := range refs {
		r := &refs[i]
		if _, err := stmt.ExecContext(ctx,
			r.ID, r.ChunkID, r.Provider, r.Model, r.Dimension, r.VectorRef, orNow(r.CreatedAt),
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (c *DatabaseClient) FindVectorRefByFingerprint(ctx context.Context, fingerprint, provider, model string) (string, error) {
	const q = `
		SELECT er.vector_ref
		FROM embedding_refs er
		JOIN document_chunks dc ON dc.id = er.chunk_id
		WHERE dc.fingerprint = $1 AND er.provider = $2 AND er.model = $3
		LIMIT 1
	`
	var ref string
	err := c.db.QueryRowContext(ctx, q, fingerprint, provider, model).Scan(&ref)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return ref, nil
}

func (c *DatabaseClient) ListVectorRefsByDocument(ctx context.Context, documentID string) ([]string, error) {
	const q = `
		SELECT DISTINCT er.vector_ref
		FROM embedding_refs er
		JOIN document_chunks dc ON dc.id = er.chunk_id
		WHERE dc.document_id = $1
	`
	rows, err := c.db.QueryContext(ctx, q, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, err
		}
		out = append(out, ref)
	}
	return out, rows.Err()
}

// Flashcards

func (c *DatabaseClient) InsertFlashcards(ctx context.Context, cards []models.Flashcard) error {
	if len(cards) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	const q = `
		INSERT INTO flashcards (id, user_id, document_id, chunk_id, front, back, difficulty, card_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i := range cards {
		f := &cards[i]
		if _, err := stmt.ExecContext(ctx,
			f.ID, f.UserID, f.DocumentID, f.ChunkID, f.Front, f.Back, f.Difficulty, f.CardType, orNow(f.CreatedAt),
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (c *DatabaseClient) ListFlashcardsByDocument(ctx context.Context, documentID string) ([]models.Flashcard, error) {
	const q = `
		SELECT id, user_id, document_id, chunk_id, front, back, difficulty, card_type, created_at
		FROM flashcards WHERE document_id = $1 ORDER BY created_at ASC
	`
	rows, err := c.db.QueryContext(ctx, q, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Flashcard
	for rows.Next() {
		var f models.Flashcard
		if err := rows.Scan(&f.ID, &f.UserID, &f.DocumentID, &f.ChunkID, &f.Front, &f.Back, &f.Difficulty, &f.CardType, &f.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// Quiz items

func (c *DatabaseClient) InsertQuizItems(ctx context.Context, items []models.QuizItem) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	const q = `
		INSERT INTO quiz_items
			(id, user_id, document_id, question_type, prompt, options, correct_answer, explanation, source_chunk_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i := range items {
		it := &items[i]
		if _, err := stmt.ExecContext(ctx,
			it.ID, it.UserID, it.DocumentID, it.QuestionType, it.Prompt, it.Options,
			it.CorrectAnswer, it.Explanation, it.SourceChunkID, orNow(it.CreatedAt),
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (c *DatabaseClient) ListQuizItemsByDocument(ctx context.Context, documentID string) ([]models.QuizItem, error) {
	const q = `
		SELECT id, user_id, document_id, question_type, prompt, options, correct_answer, explanation, source_chunk_id, created_at
		FROM quiz_items WHERE document_id = $1 ORDER BY created_at ASC
	`
	rows, err := c.db.QueryContext(ctx, q, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.QuizItem
	for rows.Next() {
		var it models.QuizItem
		if err := rows.Scan(&it.ID, &it.UserID, &it.DocumentID, &it.QuestionType, &it.Prompt, &it.Options,
			&it.CorrectAnswer, &it.Explanation, &it.SourceChunkID, &it.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// pgTextArray renders ids as a Postgres text[] literal for ANY($1).
// Double quotes are stripped; ids are uuid-shaped and never contain them.
func pgTextArray(ids []string) string {
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = `"` + strings.ReplaceAll(id, `"`, ``) + `"`
	}
	return "{" + strings.Join(quoted, ",") + "}"
}
