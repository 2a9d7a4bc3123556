package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/sirawit-k/pmqa-graphrag/internal/core/domain"
)

type DocumentRepository struct {
	db *sql.DB
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *DocumentRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026082901)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	mime_type TEXT NOT NULL,
	storage_path TEXT NOT NULL,
	category TEXT,
	subcategory TEXT,
	criterion TEXT,
	confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	error_message TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	modified_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
CREATE INDEX IF NOT EXISTS idx_documents_category ON documents(category);
CREATE INDEX IF NOT EXISTS idx_documents_created_at ON documents(created_at DESC);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *DocumentRepository) Create(ctx context.Context, doc *domain.Document) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO documents (
	id, title, mime_type, storage_path, category, subcategory, criterion, confidence, status, error_message, created_at, modified_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
`,
		doc.ID, doc.Title, doc.MimeType, doc.StoragePath, doc.Category, doc.Subcategory, doc.Criterion,
		doc.Confidence, string(doc.Status), doc.Error, doc.CreatedAt, doc.ModifiedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.WrapError(domain.ErrInvalidInput, "insert document",
				fmt.Errorf("document %s already exists", doc.ID))
		}
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, title, mime_type, storage_path, category, subcategory, criterion, confidence, status, error_message, created_at, modified_at
FROM documents
WHERE id = $1
`, id)

	var doc domain.Document
	var category, subcategory, criterion, errMessage sql.NullString
	var status string

	err := row.Scan(
		&doc.ID, &doc.Title, &doc.MimeType, &doc.StoragePath, &category, &subcategory, &criterion,
		&doc.Confidence, &status, &errMessage, &doc.CreatedAt, &doc.ModifiedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get document",
				fmt.Errorf("document not found: %s", id))
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}

	doc.Category = category.String
	doc.Subcategory = subcategory.String
	doc.Criterion = criterion.String
	doc.Error = errMessage.String
	doc.Status = domain.DocumentStatus(status)
	return &doc, nil
}

func (r *DocumentRepository) UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, errMessage string) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE documents
SET status = $2, error_message = $3, modified_at = $4
WHERE id = $1
`, id, string(status), errMessage, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update document status: %w", err)
	}
	return requireRow(result, "update document status", id)
}

func (r *DocumentRepository) SaveClassification(ctx context.Context, id string, category, subcategory, criterion string, confidence float64) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE documents
SET category = $2, subcategory = $3, criterion = $4, confidence = $5, modified_at = $6
WHERE id = $1
`, id, category, subcategory, criterion, confidence, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save classification: %w", err)
	}
	return requireRow(result, "save classification", id)
}

func (r *DocumentRepository) UpdateStoragePath(ctx context.Context, id, path string) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE documents
SET storage_path = $2, modified_at = $3
WHERE id = $1
`, id, path, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update storage path: %w", err)
	}
	return requireRow(result, "update storage path", id)
}

// StatusesByID resolves document statuses in one round trip; ids absent from
// the result were not found.
func (r *DocumentRepository) StatusesByID(ctx context.Context, ids []string) (map[string]domain.DocumentStatus, error) {
	out := make(map[string]domain.DocumentStatus, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT id, status
FROM documents
WHERE id = ANY($1)
`, ids)
	if err != nil {
		return nil, fmt.Errorf("query document statuses: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, status string
		if err := rows.Scan(&id, &status); err != nil {
			return nil, fmt.Errorf("scan document status: %w", err)
		}
		out[id] = domain.DocumentStatus(status)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate document statuses: %w", err)
	}
	return out, nil
}

func (r *DocumentRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return requireRow(result, "delete document", id)
}

func requireRow(result sql.Result, op, id string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrNotFound, op, fmt.Errorf("document not found: %s", id))
	}
	return nil
}
