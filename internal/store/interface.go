// Package store persists the upload task queue. Two implementations exist:
// a key-value file store keeping the whole list under one well-known key
// (the durable coordination point between the foreground and the worker
// context), and a SQLite store keeping one row per task for
// single-writer-per-key updates.
package store

import (
	"context"

	"github.com/dmarchuk/shuttersync/internal/models"
)

// TaskStore is the durable task queue.
type TaskStore interface {
	// Add inserts a new task. Returns common.ErrorAlreadyExists when a
	// task with the same id is already present.
	Add(ctx context.Context, t *models.UploadTask) error

	// Get returns the task with the given id, or common.ErrorNotFound.
	Get(ctx context.Context, id string) (*models.UploadTask, error)

	// GetAll returns all tasks ordered by creation time, then id.
	GetAll(ctx context.Context) ([]*models.UploadTask, error)

	// Update replaces the stored record for t.ID. Returns
	// common.ErrorNotFound when the task is gone.
	Update(ctx context.Context, t *models.UploadTask) error

	// Remove deletes the task with the given id. Removing an absent task
	// is not an error, so completion pruning and cancellation stay
	// idempotent.
	Remove(ctx context.Context, id string) error
}

// Settings exposes the selected-backend value written by the settings
// collaborator.
type Settings interface {
	// SelectedBackend returns the active backend id, or
	// common.BackendNone when uploads are disabled or nothing was chosen.
	SelectedBackend(ctx context.Context) (string, error)

	// SetSelectedBackend persists the active backend id.
	SetSelectedBackend(ctx context.Context, backendID string) error
}
