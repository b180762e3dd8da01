package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dmarchuk/shuttersync/internal/common"
	"github.com/dmarchuk/shuttersync/internal/logging"
	"github.com/dmarchuk/shuttersync/internal/models"
	"github.com/dmarchuk/shuttersync/internal/provider"
	"github.com/dmarchuk/shuttersync/internal/store"
)

const defaultMaxRetries = 3

// Options tune the scheduler's retry and pruning behavior.
type Options struct {
	// MaxRetries bounds attempts per task; default 3.
	MaxRetries int

	// CompletedGrace is how long a completed task stays visible before
	// it is pruned, letting observers render the terminal state once.
	CompletedGrace time.Duration

	// Backoff is handed to the job facility for retry registrations.
	Backoff BackoffPolicy
}

// Scheduler owns the task state machine. The foreground calls
// ScheduleUpload and Cancel; the job facility calls HandleJob from worker
// goroutines; both sides coordinate exclusively through the task store.
type Scheduler struct {
	store      store.TaskStore
	registry   *provider.Registry
	runner     JobRunner
	log        logging.Logger
	maxRetries int
	grace      time.Duration
	backoff    BackoffPolicy
	now        func() time.Time
}

func NewScheduler(taskStore store.TaskStore, registry *provider.Registry, runner JobRunner, log logging.Logger, opts Options) *Scheduler {
	s := &Scheduler{
		store:      taskStore,
		registry:   registry,
		runner:     runner,
		log:        log,
		maxRetries: defaultMaxRetries,
		grace:      30 * time.Second,
		backoff:    DefaultBackoff,
		now:        time.Now,
	}
	if opts.MaxRetries > 0 {
		s.maxRetries = opts.MaxRetries
	}
	if opts.CompletedGrace > 0 {
		s.grace = opts.CompletedGrace
	}
	if opts.Backoff.InitialInterval > 0 {
		s.backoff = opts.Backoff
	}
	return s
}

// MaxRetries exposes the retry bound for collaborators rendering task
// state.
func (s *Scheduler) MaxRetries() int { return s.maxRetries }

// ScheduleUpload creates a pending task for an existing source file and
// requests execution from the job facility.
func (s *Scheduler) ScheduleUpload(ctx context.Context, filePath, fileName, backendID string) (*models.UploadTask, error) {
	if _, err := os.Stat(filePath); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", filePath, common.ErrSourceGone)
		}
		return nil, fmt.Errorf("stat source: %w", err)
	}
	if _, err := s.registry.Resolve(backendID); err != nil {
		return nil, err
	}

	task := models.NewUploadTask(filePath, fileName, backendID, s.now())
	if err := s.store.Add(ctx, task); err != nil {
		return nil, fmt.Errorf("persist task: %w", err)
	}
	s.log.Info(ctx, "upload scheduled", "task_id", task.ID, "file", fileName, "backend", backendID)

	if err := s.requestExecution(task.ID, 0); err != nil {
		return nil, err
	}
	return task, nil
}

// HandleJob is the job facility's entry point into the scheduler.
func (s *Scheduler) HandleJob(ctx context.Context, job Job) error {
	switch job.Kind {
	case JobProcess:
		return s.ProcessTask(ctx, job.TaskID)
	case JobPrune:
		return s.PruneTask(ctx, job.TaskID)
	default:
		return fmt.Errorf("unknown job kind %q", job.Kind)
	}
}

// ProcessTask is the worker body: it drives one transfer attempt to
// completion, retry registration, or terminal failure. Every failure is
// converted into persisted task state; the returned error only tells the
// facility the attempt did not succeed.
func (s *Scheduler) ProcessTask(ctx context.Context, taskID string) error {
	task, err := s.store.Get(ctx, taskID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			// Cancelled between registration and execution.
			return nil
		}
		return err
	}

	if _, err := os.Stat(task.FilePath); os.IsNotExist(err) {
		s.log.Warn(ctx, "source file gone, dropping task", "task_id", taskID, "file", task.FilePath)
		if rerr := s.store.Remove(ctx, taskID); rerr != nil {
			return rerr
		}
		return fmt.Errorf("%s: %w", task.FilePath, common.ErrSourceGone)
	}

	task.Status = models.StatusUploading
	task.ErrorMessage = ""
	if err := s.store.Update(ctx, task); err != nil {
		return fmt.Errorf("persist uploading state: %w", err)
	}

	prov, err := s.registry.Resolve(task.BackendID)
	if err != nil {
		return s.failTask(ctx, taskID, err, false)
	}
	if !prov.IsAuthenticated() {
		return s.failTask(ctx, taskID, common.ErrNotAuthenticated, false)
	}

	req := provider.UploadRequest{
		FilePath:    task.FilePath,
		FileName:    task.FileName,
		ResumeToken: task.ResumeToken,
		StartByte:   task.UploadedBytes,
		OnProgress: func(uploaded, total int64, resumeToken string) error {
			return s.persistProgress(ctx, taskID, uploaded, total, resumeToken)
		},
	}

	if err := prov.Upload(ctx, req); err != nil {
		switch {
		case errors.Is(err, common.ErrSourceGone), errors.Is(err, common.ErrEmptySource):
			s.log.Warn(ctx, "source unusable, dropping task", "task_id", taskID, "error", err.Error())
			if rerr := s.store.Remove(ctx, taskID); rerr != nil {
				return rerr
			}
			return err
		case errors.Is(err, common.ErrNotAuthenticated):
			return s.failTask(ctx, taskID, err, false)
		default:
			return s.failTask(ctx, taskID, err, true)
		}
	}

	return s.CompleteTask(ctx, taskID)
}

// persistProgress stores a progress report before the transfer continues,
// so a crash mid-chunk loses at most one chunk of progress.
func (s *Scheduler) persistProgress(ctx context.Context, taskID string, uploaded, total int64, resumeToken string) error {
	task, err := s.store.Get(ctx, taskID)
	if err != nil {
		return err
	}
	task.ApplyProgress(uploaded, total, resumeToken)
	return s.store.Update(ctx, task)
}

// CompleteTask marks the task completed and schedules pruning after the
// grace interval. It is idempotent: a second call leaves a single terminal
// record and at most one pending prune job.
func (s *Scheduler) CompleteTask(ctx context.Context, taskID string) error {
	task, err := s.store.Get(ctx, taskID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil
		}
		return err
	}

	task.Status = models.StatusCompleted
	task.ErrorMessage = ""
	if task.TotalBytes > 0 {
		task.UploadedBytes = task.TotalBytes
	}
	if err := s.store.Update(ctx, task); err != nil {
		return fmt.Errorf("persist completed state: %w", err)
	}
	s.log.Info(ctx, "upload completed", "task_id", taskID, "file", task.FileName)

	return s.runner.RegisterOneOffJob(Job{
		ID:      PruneJobID(taskID),
		Tag:     TagUpload,
		Kind:    JobPrune,
		TaskID:  taskID,
		Attempt: 1,
		Backoff: BackoffPolicy{InitialInterval: s.grace},
	})
}

// PruneTask removes a terminal task record.
func (s *Scheduler) PruneTask(ctx context.Context, taskID string) error {
	return s.store.Remove(ctx, taskID)
}

// failTask persists the failure and, when the error is retryable and the
// bound not yet reached, hands the task back to the job facility with the
// incremented attempt for backoff.
func (s *Scheduler) failTask(ctx context.Context, taskID string, cause error, retryable bool) error {
	task, err := s.store.Get(ctx, taskID)
	if err != nil {
		return err
	}

	task.Status = models.StatusFailed
	task.RetryCount++
	task.ErrorMessage = cause.Error()
	if err := s.store.Update(ctx, task); err != nil {
		return fmt.Errorf("persist failed state: %w", err)
	}
	s.log.Warn(ctx, "upload failed", "task_id", taskID, "retry_count", task.RetryCount, "error", cause.Error())

	if retryable && task.RetryCount < s.maxRetries {
		if rerr := s.requestExecution(taskID, task.RetryCount); rerr != nil {
			return rerr
		}
	}
	return cause
}

// Cancel removes the task and best-effort drops its scheduled jobs. A
// transfer already in flight is not interrupted; its next store write will
// fail on the missing record.
func (s *Scheduler) Cancel(ctx context.Context, taskID string) error {
	s.runner.CancelJob(ProcessJobID(taskID))
	s.runner.CancelJob(PruneJobID(taskID))
	return s.store.Remove(ctx, taskID)
}

// RecoverySweep re-requests execution for every task a previous run left
// unfinished, preserving persisted resume tokens and progress. Completed
// leftovers get their prune re-armed. Returns the number of tasks
// re-submitted.
func (s *Scheduler) RecoverySweep(ctx context.Context) (int, error) {
	tasks, err := s.store.GetAll(ctx)
	if err != nil {
		return 0, err
	}

	resubmitted := 0
	for _, task := range tasks {
		switch {
		case task.Status == models.StatusCompleted:
			_ = s.runner.RegisterOneOffJob(Job{
				ID:      PruneJobID(task.ID),
				Tag:     TagUpload,
				Kind:    JobPrune,
				TaskID:  task.ID,
				Attempt: 1,
				Backoff: BackoffPolicy{InitialInterval: s.grace},
			})
		case task.Terminal(s.maxRetries):
			// Exhausted tasks stay visible until cancelled.
		default:
			if err := s.requestExecution(task.ID, task.RetryCount); err != nil {
				return resubmitted, err
			}
			resubmitted++
		}
	}
	if resubmitted > 0 {
		s.log.Info(ctx, "recovery sweep resubmitted tasks", "count", resubmitted)
	}
	return resubmitted, nil
}

func (s *Scheduler) requestExecution(taskID string, attempt int) error {
	return s.runner.RegisterOneOffJob(Job{
		ID:              ProcessJobID(taskID),
		Tag:             TagUpload,
		Kind:            JobProcess,
		TaskID:          taskID,
		RequiresNetwork: true,
		Attempt:         attempt,
		Backoff:         s.backoff,
	})
}
