// Package models defines the upload task record and progress types shared
// by the store, the scheduler and the providers.
package models

import (
	"strconv"
	"time"
)

// Status is the lifecycle state of an upload task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusUploading Status = "uploading"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// UploadTask is the unit of work of the pipeline. Id, FilePath, FileName,
// BackendID and CreatedAt are immutable after creation; everything else is
// mutated only by the task processor and the recovery sweep.
type UploadTask struct {
	ID            string    `json:"id"`
	FilePath      string    `json:"filePath"`
	FileName      string    `json:"fileName"`
	BackendID     string    `json:"backendId"`
	CreatedAt     time.Time `json:"createdAt"`
	Status        Status    `json:"status"`
	RetryCount    int       `json:"retryCount"`
	ErrorMessage  string    `json:"errorMessage,omitempty"`
	UploadedBytes int64     `json:"uploadedBytes,omitempty"`
	TotalBytes    int64     `json:"totalBytes,omitempty"`

	// ResumeToken is an opaque backend-assigned session handle allowing a
	// retry to continue mid-transfer instead of restarting.
	ResumeToken string `json:"resumeToken,omitempty"`
}

// NewUploadTask creates a pending task. The id is derived from the creation
// time; the store rejects duplicates.
func NewUploadTask(filePath, fileName, backendID string, now time.Time) *UploadTask {
	return &UploadTask{
		ID:        strconv.FormatInt(now.UnixNano(), 10),
		FilePath:  filePath,
		FileName:  fileName,
		BackendID: backendID,
		CreatedAt: now,
		Status:    StatusPending,
	}
}

// ApplyProgress folds a progress report into the task, keeping
// UploadedBytes monotone and never above TotalBytes. A non-empty token
// replaces the stored one.
func (t *UploadTask) ApplyProgress(uploaded, total int64, resumeToken string) {
	if total > 0 && t.TotalBytes == 0 {
		t.TotalBytes = total
	}
	if uploaded > t.UploadedBytes {
		t.UploadedBytes = uploaded
	}
	if t.TotalBytes > 0 && t.UploadedBytes > t.TotalBytes {
		t.UploadedBytes = t.TotalBytes
	}
	if resumeToken != "" {
		t.ResumeToken = resumeToken
	}
}

// Terminal reports whether the task has reached a state the scheduler will
// never pick up again; maxRetries bounds how often a failed task may retry.
func (t *UploadTask) Terminal(maxRetries int) bool {
	switch t.Status {
	case StatusCompleted:
		return true
	case StatusFailed:
		return t.RetryCount >= maxRetries
	default:
		return false
	}
}

// Clone returns a deep copy so snapshots handed to subscribers cannot alias
// store-owned records.
func (t *UploadTask) Clone() *UploadTask {
	c := *t
	return &c
}

// ProgressFunc receives transfer progress. Implementations persist the
// report before returning; a non-nil error aborts the transfer.
type ProgressFunc func(uploaded, total int64, resumeToken string) error
