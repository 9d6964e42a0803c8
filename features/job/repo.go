package job

import (
	"context"
	"database/sql"
	"encoding/json"
)

type Repository interface {
	Save(ctx context.Context, job *Job) error
	ListByUser(ctx context.Context, userID string) ([]Job, error)
	GetForUser(ctx context.Context, id, userID string) (*Job, error)
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const selectJob = `SELECT j.id, j.document_id, j.handler, j.payload, j.error, j.retries, j.created_at, d.status FROM failed_jobs j JOIN documents d ON d.id = j.document_id`

func scanJob(scan func(dest ...interface{}) error) (*Job, error) {
	j := &Job{}
	var payload []byte
	if err := scan(&j.ID, &j.DocumentID, &j.Handler, &payload, &j.Error, &j.Retries, &j.CreatedAt, &j.DocumentStatus); err != nil {
		return nil, err
	}
	j.Payload = json.RawMessage(payload)
	return j, nil
}

func (r *PostgresRepo) Save(ctx context.Context, job *Job) error {
	query := `INSERT INTO failed_jobs (document_id, handler, payload, error) VALUES ($1, $2, $3, $4) RETURNING id, created_at, retries`
	return r.db.QueryRowContext(ctx, query, job.DocumentID, job.Handler, []byte(job.Payload), job.Error).Scan(&job.ID, &job.CreatedAt, &job.Retries)
}

func (r *PostgresRepo) ListByUser(ctx context.Context, userID string) ([]Job, error) {
	rows, err := r.db.QueryContext(ctx, selectJob+` WHERE d.user_id = $1 ORDER BY j.created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows.Scan)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

func (r *PostgresRepo) GetForUser(ctx context.Context, id, userID string) (*Job, error) {
	return scanJob(r.db.QueryRowContext(ctx, selectJob+` WHERE j.id = $1 AND d.user_id = $2`, id, userID).Scan)
}

func (r *PostgresRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM failed_jobs WHERE id = $1`, id)
	return err
}

func (r *PostgresRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM failed_jobs`).Scan(&count)
	return count, err
}
