// Package vectorindex provides core.VectorIndex implementations: a
// pgvector-backed index for production and an in-memory index for tests
// and local runs. Both enforce the scope filter and fail closed when it
// is missing.
package vectorindex

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/pgvector/pgvector-go"

	"github.com/globalbrain-ai/globalbrain/internal/core"
	"github.com/globalbrain-ai/globalbrain/internal/log"
)

// PgVectorIndex stores vectors in the vector_entries table, sharing the
// service's Postgres pool. Metadata is reference-only; chunk text is
// resolved from the chunk store at retrieval time.
type PgVectorIndex struct {
	db     *sql.DB
	logger log.Logger
}

var _ core.VectorIndex = (*PgVectorIndex)(nil)

func NewPgVectorIndex(sqlDB *sql.DB, logger log.Logger) *PgVectorIndex {
	return &PgVectorIndex{db: sqlDB, logger: logger.With("component", "vectorindex")}
}

func (x *PgVectorIndex) Upsert(ctx context.Context, entries []core.VectorEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := x.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}

	const q = `
		INSERT INTO vector_entries (id, embedding, user_id, document_id, chunk_id, provider, model)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		SET embedding = EXCLUDED.embedding, provider = EXCLUDED.provider, model = EXCLUDED.model
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i := range entries {
		e := &entries[i]
		vec := pgvector.NewVector(e.Embedding)
		if _, err := stmt.ExecContext(ctx, e.ID, vec, e.UserID, e.DocumentID, e.ChunkID, e.Provider, e.Model); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("upsert vector %s: %w", e.ID, err)
		}
	}
	return tx.Commit()
}

// Query runs a cosine nearest-neighbour search bounded by the scope and
// the embedding model identity. A query without a user scope fails
// closed with core.ErrMissingScope.
func (x *PgVectorIndex) Query(ctx context.Context, q core.VectorQuery) ([]core.VectorMatch, error) {
	if q.Scope.UserID == "" {
		x.logger.Error("vector query rejected: missing user scope")
		return nil, core.ErrMissingScope
	}
	if q.Provider == "" || q.Model == "" {
		return nil, fmt.Errorf("vector query without model identity")
	}

	var sb strings.Builder
	args := []any{pgvector.NewVector(q.Vector), q.Scope.UserID, q.Provider, q.Model}
	sb.WriteString(`
		SELECT id, document_id, chunk_id, 1 - (embedding <=> $1) AS score
		FROM vector_entries
		WHERE user_id = $2 AND provider = $3 AND model = $4`)
	if len(q.Scope.DocumentIDs) > 0 {
		args = append(args, pgTextArray(q.Scope.DocumentIDs))
		fmt.Fprintf(&sb, " AND document_id = ANY($%d)", len(args))
	}
	args = append(args, q.TopK)
	fmt.Fprintf(&sb, " ORDER BY embedding <=> $1 LIMIT $%d", len(args))

	rows, err := x.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}
	defer rows.Close()

	var out []core.VectorMatch
	for rows.Next() {
		var m core.VectorMatch
		if err := rows.Scan(&m.ID, &m.DocumentID, &m.ChunkID, &m.Score); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (x *PgVectorIndex) Fetch(ctx context.Context, ids []string) ([]core.VectorEntry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	const q = `
		SELECT id, embedding, user_id, document_id, chunk_id, provider, model
		FROM vector_entries
		WHERE id = ANY($1)
	`
	rows, err := x.db.QueryContext(ctx, q, pgTextArray(ids))
	if err != nil {
		return nil, fmt.Errorf("vector fetch: %w", err)
	}
	defer rows.Close()

	var out []core.VectorEntry
	for rows.Next() {
		var e core.VectorEntry
		var vec pgvector.Vector
		if err := rows.Scan(&e.ID, &vec, &e.UserID, &e.DocumentID, &e.ChunkID, &e.Provider, &e.Model); err != nil {
			return nil, err
		}
		e.Embedding = vec.Slice()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (x *PgVectorIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := x.db.ExecContext(ctx, `DELETE FROM vector_entries WHERE id = ANY($1)`, pgTextArray(ids))
	return err
}

func pgTextArray(ids []string) string {
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = `"` + strings.ReplaceAll(id, `"`, ``) + `"`
	}
	return "{" + strings.Join(quoted, ",") + "}"
}
