package common

// Well-known keys inside the key-value persistence facility.
const (
	// TaskQueueKey stores the serialized upload task list.
	TaskQueueKey = "upload_task_queue"

	// SelectedBackendKey stores the active backend id, written by the
	// settings collaborator and read by the scheduler and recovery sweep.
	SelectedBackendKey = "selected_backend"

	// SpoolLedgerKey stores the set of spool paths already handed to the
	// scheduler, so terminal or pruned tasks do not re-enqueue their file.
	SpoolLedgerKey = "handled_spool_paths"
)

// BackendNone is the SelectedBackendKey value meaning uploads are disabled.
const BackendNone = "none"
