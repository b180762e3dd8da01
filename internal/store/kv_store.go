package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/dmarchuk/shuttersync/internal/common"
	"github.com/dmarchuk/shuttersync/internal/models"
)

// KVTaskStore keeps the whole task list as one serialized document under
// common.TaskQueueKey. Every mutation is read-modify-write of the full
// list; the job facility's per-task dedup is what keeps writers from
// racing on the same task id.
type KVTaskStore struct {
	kv *KVFile
}

func NewKVTaskStore(kv *KVFile) *KVTaskStore {
	return &KVTaskStore{kv: kv}
}

func (s *KVTaskStore) Add(ctx context.Context, t *models.UploadTask) error {
	tasks, err := s.load(ctx)
	if err != nil {
		return err
	}
	for _, existing := range tasks {
		if existing.ID == t.ID {
			return fmt.Errorf("task %s: %w", t.ID, common.ErrorAlreadyExists)
		}
	}
	tasks = append(tasks, t.Clone())
	return s.save(ctx, tasks)
}

func (s *KVTaskStore) Get(ctx context.Context, id string) (*models.UploadTask, error) {
	tasks, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, fmt.Errorf("task %s: %w", id, common.ErrorNotFound)
}

func (s *KVTaskStore) GetAll(ctx context.Context) ([]*models.UploadTask, error) {
	tasks, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	sortTasks(tasks)
	return tasks, nil
}

func (s *KVTaskStore) Update(ctx context.Context, t *models.UploadTask) error {
	tasks, err := s.load(ctx)
	if err != nil {
		return err
	}
	for i, existing := range tasks {
		if existing.ID == t.ID {
			tasks[i] = t.Clone()
			return s.save(ctx, tasks)
		}
	}
	return fmt.Errorf("task %s: %w", t.ID, common.ErrorNotFound)
}

func (s *KVTaskStore) Remove(ctx context.Context, id string) error {
	tasks, err := s.load(ctx)
	if err != nil {
		return err
	}
	for i, existing := range tasks {
		if existing.ID == id {
			tasks = append(tasks[:i], tasks[i+1:]...)
			return s.save(ctx, tasks)
		}
	}
	return nil
}

func (s *KVTaskStore) load(ctx context.Context) ([]*models.UploadTask, error) {
	var tasks []*models.UploadTask
	if _, err := s.kv.Get(ctx, common.TaskQueueKey, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (s *KVTaskStore) save(ctx context.Context, tasks []*models.UploadTask) error {
	return s.kv.Put(ctx, common.TaskQueueKey, tasks)
}

func sortTasks(tasks []*models.UploadTask) {
	sort.Slice(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		}
		return tasks[i].ID < tasks[j].ID
	})
}

// KVSettings reads and writes the selected-backend value in the same
// key-value facility as the task queue.
type KVSettings struct {
	kv *KVFile
}

func NewKVSettings(kv *KVFile) *KVSettings {
	return &KVSettings{kv: kv}
}

func (s *KVSettings) SelectedBackend(ctx context.Context) (string, error) {
	var backend string
	ok, err := s.kv.Get(ctx, common.SelectedBackendKey, &backend)
	if err != nil {
		return "", err
	}
	if !ok || backend == "" {
		return common.BackendNone, nil
	}
	return backend, nil
}

func (s *KVSettings) SetSelectedBackend(ctx context.Context, backendID string) error {
	return s.kv.Put(ctx, common.SelectedBackendKey, backendID)
}
