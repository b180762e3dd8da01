// Package provider defines the uniform capability interface implemented by
// every storage backend, the registry that resolves backend ids to
// implementations, and the persisted bearer-token store the REST backends
// authenticate with.
package provider

import (
	"context"
	"fmt"
	"os"

	"github.com/dmarchuk/shuttersync/internal/common"
	"github.com/dmarchuk/shuttersync/internal/models"
)

// UploadRequest carries one transfer attempt. ResumeToken and StartByte are
// non-zero when a prior attempt persisted partial progress.
type UploadRequest struct {
	FilePath    string
	FileName    string
	ResumeToken string
	StartByte   int64

	// OnProgress is invoked after every acknowledged chunk and, for
	// session protocols, immediately after session initiation so a crash
	// before any bytes move still leaves a resumable handle persisted.
	// A non-nil return aborts the transfer.
	OnProgress models.ProgressFunc
}

// Provider is a storage backend. Implementations are stateless services
// safe for concurrent use; per-upload state lives in the request and the
// task record.
type Provider interface {
	// ProviderID is the stable backend id stored on tasks and in the
	// selected-backend setting.
	ProviderID() string

	// DisplayName is a human-readable backend name.
	DisplayName() string

	// Authenticate runs the backend's interactive flow (delegated to a
	// collaborator) and reports whether credentials are now usable.
	Authenticate(ctx context.Context) (bool, error)

	// IsAuthenticated reports whether usable credentials are present
	// without touching the network.
	IsAuthenticated() bool

	// SignOut discards stored credentials.
	SignOut() error

	// Upload transfers the file, choosing the simple or the resumable
	// protocol by size. It returns common.ErrSourceGone or
	// common.ErrEmptySource without contacting the backend when the
	// source is unusable; any other error is a transfer failure whose
	// already-persisted resume token survives for the next attempt.
	Upload(ctx context.Context, req UploadRequest) error
}

// SourceSize validates the source file per the schedule-time contract: it
// must exist and be non-empty before any network traffic happens.
func SourceSize(path string) (int64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("%s: %w", path, common.ErrSourceGone)
		}
		return 0, fmt.Errorf("stat source: %w", err)
	}
	if fi.Size() == 0 {
		return 0, fmt.Errorf("%s: %w", path, common.ErrEmptySource)
	}
	return fi.Size(), nil
}

// CommitOptions are backend finalize policies. Their correct defaults are
// backend-specific, so they are configuration on the provider rather than
// constants in the protocol code.
type CommitOptions struct {
	// AutoRename creates the file under a modified name instead of
	// failing when the target name already exists.
	AutoRename bool

	// MuteNotifications suppresses the backend's own "file added"
	// notification on commit.
	MuteNotifications bool
}
