package queue

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmarchuk/shuttersync/internal/common"
	"github.com/dmarchuk/shuttersync/internal/logging"
	"github.com/dmarchuk/shuttersync/internal/models"
	"github.com/dmarchuk/shuttersync/internal/provider"
	"github.com/dmarchuk/shuttersync/internal/store"
)

func testLogger(t *testing.T) logging.Logger {
	t.Helper()
	var buf bytes.Buffer
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(&buf, nil)))
}

// recordingRunner captures registrations instead of executing them, so
// tests drive the scheduler synchronously and inspect what it requested.
type recordingRunner struct {
	registered []Job
	cancelled  []string
}

func (r *recordingRunner) RegisterOneOffJob(job Job) error {
	for _, j := range r.registered {
		if j.ID == job.ID {
			return nil
		}
	}
	r.registered = append(r.registered, job)
	return nil
}

func (r *recordingRunner) CancelJob(id string) {
	r.cancelled = append(r.cancelled, id)
	for i, j := range r.registered {
		if j.ID == id {
			r.registered = append(r.registered[:i], r.registered[i+1:]...)
			return
		}
	}
}

func (r *recordingRunner) CancelJobsByTag(tag string) {
	kept := r.registered[:0]
	for _, j := range r.registered {
		if j.Tag != tag {
			kept = append(kept, j)
		}
	}
	r.registered = kept
}

func (r *recordingRunner) find(id string) (Job, bool) {
	for _, j := range r.registered {
		if j.ID == id {
			return j, true
		}
	}
	return Job{}, false
}

// fakeProvider lets each test script the upload outcome.
type fakeProvider struct {
	id            string
	authenticated bool
	upload        func(ctx context.Context, req provider.UploadRequest) error
	uploads       int
}

func (p *fakeProvider) ProviderID() string  { return p.id }
func (p *fakeProvider) DisplayName() string { return p.id }
func (p *fakeProvider) Authenticate(ctx context.Context) (bool, error) {
	p.authenticated = true
	return true, nil
}
func (p *fakeProvider) IsAuthenticated() bool { return p.authenticated }
func (p *fakeProvider) SignOut() error        { p.authenticated = false; return nil }
func (p *fakeProvider) Upload(ctx context.Context, req provider.UploadRequest) error {
	p.uploads++
	if p.upload != nil {
		return p.upload(ctx, req)
	}
	return nil
}

type schedulerFixture struct {
	scheduler *Scheduler
	store     store.TaskStore
	runner    *recordingRunner
	provider  *fakeProvider
	dir       string
}

func newSchedulerFixture(t *testing.T) *schedulerFixture {
	t.Helper()
	dir := t.TempDir()
	log := testLogger(t)
	kv := store.NewKVFile(filepath.Join(dir, "state.json"), log)
	taskStore := store.NewKVTaskStore(kv)

	prov := &fakeProvider{id: "gdrive", authenticated: true}
	registry := provider.NewRegistry()
	registry.Register(prov)

	runner := &recordingRunner{}
	sched := NewScheduler(taskStore, registry, runner, log, Options{
		MaxRetries:     3,
		CompletedGrace: 45 * time.Second,
	})
	return &schedulerFixture{scheduler: sched, store: taskStore, runner: runner, provider: prov, dir: dir}
}

func (f *schedulerFixture) sourceFile(t *testing.T, name string, size int) string {
	t.Helper()
	path := filepath.Join(f.dir, name)
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte{'x'}, size), 0o600))
	return path
}

func TestScheduleUpload(t *testing.T) {
	ctx := context.Background()
	f := newSchedulerFixture(t)
	src := f.sourceFile(t, "clip.mp4", 16)

	task, err := f.scheduler.ScheduleUpload(ctx, src, "clip.mp4", "gdrive")
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, task.Status)

	stored, err := f.store.Get(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, "gdrive", stored.BackendID)

	job, ok := f.runner.find(ProcessJobID(task.ID))
	require.True(t, ok)
	require.Equal(t, JobProcess, job.Kind)
	require.Equal(t, task.ID, job.TaskID)
	require.True(t, job.RequiresNetwork)
	require.Equal(t, 0, job.Attempt)
}

func TestScheduleUploadMissingSource(t *testing.T) {
	ctx := context.Background()
	f := newSchedulerFixture(t)

	_, err := f.scheduler.ScheduleUpload(ctx, filepath.Join(f.dir, "gone.mp4"), "gone.mp4", "gdrive")
	require.ErrorIs(t, err, common.ErrSourceGone)

	tasks, err := f.store.GetAll(ctx)
	require.NoError(t, err)
	require.Empty(t, tasks)
}

func TestScheduleUploadUnknownBackend(t *testing.T) {
	ctx := context.Background()
	f := newSchedulerFixture(t)
	src := f.sourceFile(t, "clip.mp4", 16)

	_, err := f.scheduler.ScheduleUpload(ctx, src, "clip.mp4", "floppynet")
	require.ErrorIs(t, err, common.ErrUnknownBackend)
}

func TestProcessTaskSuccess(t *testing.T) {
	ctx := context.Background()
	f := newSchedulerFixture(t)
	src := f.sourceFile(t, "clip.mp4", 16)
	task, err := f.scheduler.ScheduleUpload(ctx, src, "clip.mp4", "gdrive")
	require.NoError(t, err)

	f.provider.upload = func(ctx context.Context, req provider.UploadRequest) error {
		require.NoError(t, req.OnProgress(0, 16, "session-1"))
		require.NoError(t, req.OnProgress(16, 16, ""))
		return nil
	}

	require.NoError(t, f.scheduler.ProcessTask(ctx, task.ID))

	stored, err := f.store.Get(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, stored.Status)
	require.Equal(t, int64(16), stored.UploadedBytes)
	require.Empty(t, stored.ErrorMessage)

	prune, ok := f.runner.find(PruneJobID(task.ID))
	require.True(t, ok)
	require.Equal(t, JobPrune, prune.Kind)
	require.Equal(t, 45*time.Second, prune.Backoff.Delay(prune.Attempt))
}

func TestProcessTaskPersistsProgressSynchronously(t *testing.T) {
	ctx := context.Background()
	f := newSchedulerFixture(t)
	src := f.sourceFile(t, "clip.mp4", 16)
	task, err := f.scheduler.ScheduleUpload(ctx, src, "clip.mp4", "gdrive")
	require.NoError(t, err)

	f.provider.upload = func(ctx context.Context, req provider.UploadRequest) error {
		require.NoError(t, req.OnProgress(8, 16, "session-1"))

		// The report must be durable before the transfer continues.
		mid, err := f.store.Get(ctx, task.ID)
		require.NoError(t, err)
		require.Equal(t, int64(8), mid.UploadedBytes)
		require.Equal(t, "session-1", mid.ResumeToken)

		return errors.New("link dropped")
	}

	require.Error(t, f.scheduler.ProcessTask(ctx, task.ID))

	stored, err := f.store.Get(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, int64(8), stored.UploadedBytes)
	require.Equal(t, "session-1", stored.ResumeToken)
}

func TestProcessTaskRetryableFailure(t *testing.T) {
	ctx := context.Background()
	f := newSchedulerFixture(t)
	src := f.sourceFile(t, "clip.mp4", 16)
	task, err := f.scheduler.ScheduleUpload(ctx, src, "clip.mp4", "gdrive")
	require.NoError(t, err)
	f.runner.CancelJob(ProcessJobID(task.ID))

	f.provider.upload = func(ctx context.Context, req provider.UploadRequest) error {
		return errors.New("503 from backend")
	}

	require.Error(t, f.scheduler.ProcessTask(ctx, task.ID))

	stored, err := f.store.Get(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusFailed, stored.Status)
	require.Equal(t, 1, stored.RetryCount)
	require.Contains(t, stored.ErrorMessage, "503")

	job, ok := f.runner.find(ProcessJobID(task.ID))
	require.True(t, ok)
	require.Equal(t, 1, job.Attempt)
}

func TestProcessTaskRetryBound(t *testing.T) {
	ctx := context.Background()
	f := newSchedulerFixture(t)
	src := f.sourceFile(t, "clip.mp4", 16)
	task, err := f.scheduler.ScheduleUpload(ctx, src, "clip.mp4", "gdrive")
	require.NoError(t, err)

	f.provider.upload = func(ctx context.Context, req provider.UploadRequest) error {
		return errors.New("503 from backend")
	}

	for i := 0; i < 3; i++ {
		f.runner.CancelJob(ProcessJobID(task.ID))
		require.Error(t, f.scheduler.ProcessTask(ctx, task.ID))
	}

	stored, err := f.store.Get(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusFailed, stored.Status)
	require.Equal(t, 3, stored.RetryCount)
	require.True(t, stored.Terminal(f.scheduler.MaxRetries()))

	// No fourth attempt is requested.
	_, ok := f.runner.find(ProcessJobID(task.ID))
	require.False(t, ok)
}

func TestProcessTaskAuthFailureNotRetried(t *testing.T) {
	ctx := context.Background()
	f := newSchedulerFixture(t)
	src := f.sourceFile(t, "clip.mp4", 16)
	task, err := f.scheduler.ScheduleUpload(ctx, src, "clip.mp4", "gdrive")
	require.NoError(t, err)
	f.runner.CancelJob(ProcessJobID(task.ID))

	f.provider.authenticated = false

	require.ErrorIs(t, f.scheduler.ProcessTask(ctx, task.ID), common.ErrNotAuthenticated)

	stored, err := f.store.Get(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusFailed, stored.Status)
	require.Equal(t, 1, stored.RetryCount)

	_, ok := f.runner.find(ProcessJobID(task.ID))
	require.False(t, ok)
	require.Zero(t, f.provider.uploads)
}

func TestProcessTaskSourceGone(t *testing.T) {
	ctx := context.Background()
	f := newSchedulerFixture(t)
	src := f.sourceFile(t, "clip.mp4", 16)
	task, err := f.scheduler.ScheduleUpload(ctx, src, "clip.mp4", "gdrive")
	require.NoError(t, err)

	require.NoError(t, os.Remove(src))

	require.ErrorIs(t, f.scheduler.ProcessTask(ctx, task.ID), common.ErrSourceGone)

	_, err = f.store.Get(ctx, task.ID)
	require.ErrorIs(t, err, common.ErrorNotFound)
	require.Zero(t, f.provider.uploads)
}

func TestProcessTaskVanishedRecord(t *testing.T) {
	ctx := context.Background()
	f := newSchedulerFixture(t)

	// Cancelled between registration and execution: quietly done.
	require.NoError(t, f.scheduler.ProcessTask(ctx, "no-such-task"))
}

func TestCompleteTaskIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newSchedulerFixture(t)
	src := f.sourceFile(t, "clip.mp4", 16)
	task, err := f.scheduler.ScheduleUpload(ctx, src, "clip.mp4", "gdrive")
	require.NoError(t, err)

	require.NoError(t, f.scheduler.CompleteTask(ctx, task.ID))
	require.NoError(t, f.scheduler.CompleteTask(ctx, task.ID))

	count := 0
	for _, j := range f.runner.registered {
		if j.ID == PruneJobID(task.ID) {
			count++
		}
	}
	require.Equal(t, 1, count)

	require.NoError(t, f.scheduler.CompleteTask(ctx, "no-such-task"))
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	f := newSchedulerFixture(t)
	src := f.sourceFile(t, "clip.mp4", 16)
	task, err := f.scheduler.ScheduleUpload(ctx, src, "clip.mp4", "gdrive")
	require.NoError(t, err)

	require.NoError(t, f.scheduler.Cancel(ctx, task.ID))

	_, err = f.store.Get(ctx, task.ID)
	require.ErrorIs(t, err, common.ErrorNotFound)
	require.Contains(t, f.runner.cancelled, ProcessJobID(task.ID))
	require.Contains(t, f.runner.cancelled, PruneJobID(task.ID))

	// Cancelling an unknown task is not an error.
	require.NoError(t, f.scheduler.Cancel(ctx, task.ID))
}

func TestRecoverySweep(t *testing.T) {
	ctx := context.Background()
	f := newSchedulerFixture(t)

	now := time.Now()
	interrupted := models.NewUploadTask("/spool/a.mp4", "a.mp4", "gdrive", now)
	interrupted.Status = models.StatusUploading
	interrupted.UploadedBytes = 8
	interrupted.TotalBytes = 16
	interrupted.ResumeToken = "session-1"

	retrying := models.NewUploadTask("/spool/b.mp4", "b.mp4", "gdrive", now.Add(time.Millisecond))
	retrying.Status = models.StatusFailed
	retrying.RetryCount = 2

	exhausted := models.NewUploadTask("/spool/c.mp4", "c.mp4", "gdrive", now.Add(2*time.Millisecond))
	exhausted.Status = models.StatusFailed
	exhausted.RetryCount = 3

	done := models.NewUploadTask("/spool/d.mp4", "d.mp4", "gdrive", now.Add(3*time.Millisecond))
	done.Status = models.StatusCompleted

	for _, task := range []*models.UploadTask{interrupted, retrying, exhausted, done} {
		require.NoError(t, f.store.Add(ctx, task))
	}

	n, err := f.scheduler.RecoverySweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	job, ok := f.runner.find(ProcessJobID(interrupted.ID))
	require.True(t, ok)
	require.Equal(t, 0, job.Attempt)

	job, ok = f.runner.find(ProcessJobID(retrying.ID))
	require.True(t, ok)
	require.Equal(t, 2, job.Attempt)

	_, ok = f.runner.find(ProcessJobID(exhausted.ID))
	require.False(t, ok)

	_, ok = f.runner.find(PruneJobID(done.ID))
	require.True(t, ok)

	// Persisted resume state is untouched until a worker runs.
	stored, err := f.store.Get(ctx, interrupted.ID)
	require.NoError(t, err)
	require.Equal(t, int64(8), stored.UploadedBytes)
	require.Equal(t, "session-1", stored.ResumeToken)
}

func TestProcessTaskResumesFromPersistedState(t *testing.T) {
	ctx := context.Background()
	f := newSchedulerFixture(t)
	src := f.sourceFile(t, "clip.mp4", 16)
	task, err := f.scheduler.ScheduleUpload(ctx, src, "clip.mp4", "gdrive")
	require.NoError(t, err)

	stored, err := f.store.Get(ctx, task.ID)
	require.NoError(t, err)
	stored.UploadedBytes = 8
	stored.TotalBytes = 16
	stored.ResumeToken = "session-1"
	require.NoError(t, f.store.Update(ctx, stored))

	var got provider.UploadRequest
	f.provider.upload = func(ctx context.Context, req provider.UploadRequest) error {
		got = req
		return nil
	}

	require.NoError(t, f.scheduler.ProcessTask(ctx, task.ID))
	require.Equal(t, "session-1", got.ResumeToken)
	require.Equal(t, int64(8), got.StartByte)
}

func TestHandleJobDispatch(t *testing.T) {
	ctx := context.Background()
	f := newSchedulerFixture(t)
	src := f.sourceFile(t, "clip.mp4", 16)
	task, err := f.scheduler.ScheduleUpload(ctx, src, "clip.mp4", "gdrive")
	require.NoError(t, err)

	require.NoError(t, f.scheduler.HandleJob(ctx, Job{Kind: JobProcess, TaskID: task.ID}))
	require.NoError(t, f.scheduler.HandleJob(ctx, Job{Kind: JobPrune, TaskID: task.ID}))
	require.Error(t, f.scheduler.HandleJob(ctx, Job{Kind: JobKind("mystery"), TaskID: task.ID}))

	_, err = f.store.Get(ctx, task.ID)
	require.ErrorIs(t, err, common.ErrorNotFound)
}
