package document

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"pagechat/internal/apperr"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const selectDocument = `SELECT id, user_id, kind, origin, name, status, failure_reason, created_at, updated_at FROM documents`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(row scanner) (*Document, error) {
	d := &Document{}
	var kind, status string
	if err := row.Scan(&d.ID, &d.UserID, &kind, &d.Origin, &d.Name, &status, &d.FailureReason, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.Kind = Kind(kind)
	d.Status = Status(status)
	return d, nil
}

func (r *PostgresRepo) Save(ctx context.Context, d *Document) error {
	query := `INSERT INTO documents (user_id, kind, origin, name) VALUES ($1, $2, $3, $4) RETURNING id, status, created_at, updated_at`
	var status string
	if err := r.db.QueryRowContext(ctx, query, d.UserID, string(d.Kind), d.Origin, d.Name).Scan(&d.ID, &status, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return err
	}
	d.Status = Status(status)
	return nil
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*Document, error) {
	d, err := scanDocument(r.db.QueryRowContext(ctx, selectDocument+` WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", apperr.ErrDocumentNotFound, id)
	}
	return d, err
}

// GetForUser reports a document owned by someone else as not found.
func (r *PostgresRepo) GetForUser(ctx context.Context, id, userID string) (*Document, error) {
	d, err := scanDocument(r.db.QueryRowContext(ctx, selectDocument+` WHERE id = $1 AND user_id = $2`, id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", apperr.ErrDocumentNotFound, id)
	}
	return d, err
}

func (r *PostgresRepo) ListByUser(ctx context.Context, userID string) ([]Document, error) {
	rows, err := r.db.QueryContext(ctx, selectDocument+` WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *d)
	}
	return docs, rows.Err()
}

func (r *PostgresRepo) Transition(ctx context.Context, id string, from []Status, to Status, reason string) error {
	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}

	query := `UPDATE documents SET status = $1, failure_reason = $2, updated_at = NOW() WHERE id = $3 AND status = ANY($4)`
	res, err := r.db.ExecContext(ctx, query, string(to), reason, id, pq.Array(allowed))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, id, to)
	}
	return nil
}

func (r *PostgresRepo) Delete(ctx context.Context, id, userID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", apperr.ErrDocumentNotFound, id)
	}
	return nil
}

func (r *PostgresRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count)
	return count, err
}
