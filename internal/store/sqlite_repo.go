package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmarchuk/shuttersync/internal/common"
	"github.com/dmarchuk/shuttersync/internal/models"
)

// SQLiteTaskStore keeps one row per task, so concurrent writers touching
// different tasks cannot lose each other's updates the way full-list
// read-modify-write can.
type SQLiteTaskStore struct {
	db *sql.DB
}

func NewSQLiteTaskStore(db *sql.DB) *SQLiteTaskStore {
	return &SQLiteTaskStore{db: db}
}

func (r *SQLiteTaskStore) Add(ctx context.Context, t *models.UploadTask) error {
	query := `INSERT INTO upload_tasks
		(id, file_path, file_name, backend_id, created_at, status, retry_count, error_message, uploaded_bytes, total_bytes, resume_token)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		t.ID, t.FilePath, t.FileName, t.BackendID, t.CreatedAt.UTC().Format(time.RFC3339Nano),
		string(t.Status), t.RetryCount, t.ErrorMessage, t.UploadedBytes, t.TotalBytes, t.ResumeToken)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("task %s: %w", t.ID, common.ErrorAlreadyExists)
		}
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

func (r *SQLiteTaskStore) Get(ctx context.Context, id string) (*models.UploadTask, error) {
	query := selectColumns + ` WHERE id = ?`
	t, err := scanTask(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("task %s: %w", id, common.ErrorNotFound)
		}
		return nil, fmt.Errorf("failed to select task: %w", err)
	}
	return t, nil
}

func (r *SQLiteTaskStore) GetAll(ctx context.Context) ([]*models.UploadTask, error) {
	query := selectColumns + ` ORDER BY created_at, id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to select tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.UploadTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tasks: %w", err)
	}
	return tasks, nil
}

func (r *SQLiteTaskStore) Update(ctx context.Context, t *models.UploadTask) error {
	query := `UPDATE upload_tasks SET
		status = ?, retry_count = ?, error_message = ?, uploaded_bytes = ?, total_bytes = ?, resume_token = ?
		WHERE id = ?`
	result, err := r.db.ExecContext(ctx, query,
		string(t.Status), t.RetryCount, t.ErrorMessage, t.UploadedBytes, t.TotalBytes, t.ResumeToken, t.ID)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("task %s: %w", t.ID, common.ErrorNotFound)
	}
	return nil
}

func (r *SQLiteTaskStore) Remove(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM upload_tasks WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return nil
}

const selectColumns = `SELECT id, file_path, file_name, backend_id, created_at, status, retry_count, error_message, uploaded_bytes, total_bytes, resume_token FROM upload_tasks`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*models.UploadTask, error) {
	var t models.UploadTask
	var createdAt, status string
	err := row.Scan(&t.ID, &t.FilePath, &t.FileName, &t.BackendID, &createdAt,
		&status, &t.RetryCount, &t.ErrorMessage, &t.UploadedBytes, &t.TotalBytes, &t.ResumeToken)
	if err != nil {
		return nil, err
	}
	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	t.CreatedAt = ts
	t.Status = models.Status(status)
	return &t, nil
}

func isUniqueViolation(err error) bool {
	// modernc.org/sqlite reports constraint failures in the message only.
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}
