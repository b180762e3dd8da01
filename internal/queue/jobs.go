// Package queue contains the upload scheduler, its task state machine, and
// the deferred-job facility the scheduler hands work to. The facility is an
// interface so the core stays testable without a real OS job system; the
// in-process runner is the default host implementation.
package queue

import (
	"time"

	"github.com/sethvargo/go-retry"
)

// JobKind selects the work a job performs when the facility invokes it.
type JobKind string

const (
	// JobProcess runs the task processor for Job.TaskID.
	JobProcess JobKind = "process"

	// JobPrune removes a completed task after its grace interval.
	JobPrune JobKind = "prune"
)

// TagUpload groups all jobs belonging to the upload pipeline so they can be
// cancelled together.
const TagUpload = "upload"

// BackoffPolicy describes the exponential delay applied to re-registered
// jobs. The zero value falls back to a 30 second base.
type BackoffPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultBackoff matches the host facility contract: exponential starting
// at 30 seconds.
var DefaultBackoff = BackoffPolicy{InitialInterval: 30 * time.Second, MaxInterval: 10 * time.Minute}

// Delay returns the wait before executing a job on the given attempt.
// Attempt 0 is the first execution and runs immediately.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	base := p.InitialInterval
	if base <= 0 {
		base = DefaultBackoff.InitialInterval
	}
	b := retry.NewExponential(base)
	if p.MaxInterval > 0 {
		b = retry.WithCappedDuration(p.MaxInterval, b)
	}
	var d time.Duration
	for i := 0; i < attempt; i++ {
		d, _ = b.Next()
	}
	return d
}

// Job is one deferred unit of work. ID deduplicates: registering a job
// whose id is already pending or running is a no-op, which is what keeps
// at most one worker on a given task at a time.
type Job struct {
	ID              string
	Tag             string
	Kind            JobKind
	TaskID          string
	RequiresNetwork bool

	// Attempt drives the backoff delay; 0 means run now.
	Attempt int
	Backoff BackoffPolicy
}

// JobRunner is the host's deferred-job facility.
type JobRunner interface {
	// RegisterOneOffJob schedules the job for a single execution,
	// honoring its constraints and backoff delay.
	RegisterOneOffJob(job Job) error

	// CancelJob best-effort drops a job that has not started yet. A job
	// already executing is not interrupted.
	CancelJob(id string)

	// CancelJobsByTag cancels every not-yet-started job with the tag.
	CancelJobsByTag(tag string)
}

// ProcessJobID returns the job id used for processing a task, shared by
// registration and cancellation.
func ProcessJobID(taskID string) string { return "process-" + taskID }

// PruneJobID returns the job id used for pruning a completed task.
func PruneJobID(taskID string) string { return "prune-" + taskID }
