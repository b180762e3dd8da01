package config

import (
	"encoding/json"
	"os"

	"github.com/dmarchuk/shuttersync/internal/flagx"
	"github.com/dmarchuk/shuttersync/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. It relies on
// timex.Duration so JSON can specify intervals either as strings like "30s"
// or as integer nanoseconds. After parsing, values are copied into the
// runtime Config (which uses time.Duration).
type JsonConfig struct {
	DataDir              *string         `json:"data_dir"`
	SpoolDir             *string         `json:"spool_dir"`
	StoreKind            *string         `json:"store_kind"`
	SelectedBackend      *string         `json:"selected_backend"`
	MaxRetries           *int            `json:"max_retries"`
	RetryBackoffBase     *timex.Duration `json:"retry_backoff_base"`
	RetryBackoffMax      *timex.Duration `json:"retry_backoff_max"`
	CompletedGrace       *timex.Duration `json:"completed_grace"`
	PublishInterval      *timex.Duration `json:"publish_interval"`
	SpoolScanInterval    *timex.Duration `json:"spool_scan_interval"`
	SpoolSettle          *timex.Duration `json:"spool_settle"`
	MaxConcurrentUploads *int            `json:"max_concurrent_uploads"`
	AllowedExtensions    []string        `json:"allowed_extensions"`
	DriveEndpoint        *string         `json:"drive_endpoint"`
	DropboxEndpoint      *string         `json:"dropbox_endpoint"`
	DropboxAutoRename    *bool           `json:"dropbox_autorename"`
	DropboxMute          *bool           `json:"dropbox_mute"`
	S3AccessKey          *string         `json:"s3_access_key"`
	S3SecretKey          *string         `json:"s3_secret_key"`
	S3Bucket             *string         `json:"s3_bucket"`
	S3Region             *string         `json:"s3_region"`
	S3BaseEndpoint       *string         `json:"s3_base_endpoint"`
	S3KeyPrefix          *string         `json:"s3_key_prefix"`
}

// parseJson overlays Config with values loaded from a JSON file.
//
// Lookup order for the JSON file path:
//  1. Command-line flags (-c or -config) via flagx.JSONConfigFlags().
//  2. If empty, no JSON is loaded and the function returns.
//
// Fields are pointers so an absent key leaves the default in place while a
// present key, including a zero value, overrides it. Panics on read or
// unmarshal errors.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JSONConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	if jc.DataDir != nil {
		cfg.DataDir = *jc.DataDir
	}
	if jc.SpoolDir != nil {
		cfg.SpoolDir = *jc.SpoolDir
	}
	if jc.StoreKind != nil {
		cfg.StoreKind = *jc.StoreKind
	}
	if jc.SelectedBackend != nil {
		cfg.SelectedBackend = *jc.SelectedBackend
	}
	if jc.MaxRetries != nil {
		cfg.MaxRetries = *jc.MaxRetries
	}
	if jc.RetryBackoffBase != nil {
		cfg.RetryBackoffBase = jc.RetryBackoffBase.Duration
	}
	if jc.RetryBackoffMax != nil {
		cfg.RetryBackoffMax = jc.RetryBackoffMax.Duration
	}
	if jc.CompletedGrace != nil {
		cfg.CompletedGrace = jc.CompletedGrace.Duration
	}
	if jc.PublishInterval != nil {
		cfg.PublishInterval = jc.PublishInterval.Duration
	}
	if jc.SpoolScanInterval != nil {
		cfg.SpoolScanInterval = jc.SpoolScanInterval.Duration
	}
	if jc.SpoolSettle != nil {
		cfg.SpoolSettle = jc.SpoolSettle.Duration
	}
	if jc.MaxConcurrentUploads != nil {
		cfg.MaxConcurrentUploads = *jc.MaxConcurrentUploads
	}
	if jc.AllowedExtensions != nil {
		cfg.AllowedExtensions = jc.AllowedExtensions
	}
	if jc.DriveEndpoint != nil {
		cfg.DriveEndpoint = *jc.DriveEndpoint
	}
	if jc.DropboxEndpoint != nil {
		cfg.DropboxEndpoint = *jc.DropboxEndpoint
	}
	if jc.DropboxAutoRename != nil {
		cfg.DropboxAutoRename = *jc.DropboxAutoRename
	}
	if jc.DropboxMute != nil {
		cfg.DropboxMute = *jc.DropboxMute
	}
	if jc.S3AccessKey != nil {
		cfg.S3AccessKey = *jc.S3AccessKey
	}
	if jc.S3SecretKey != nil {
		cfg.S3SecretKey = *jc.S3SecretKey
	}
	if jc.S3Bucket != nil {
		cfg.S3Bucket = *jc.S3Bucket
	}
	if jc.S3Region != nil {
		cfg.S3Region = *jc.S3Region
	}
	if jc.S3BaseEndpoint != nil {
		cfg.S3BaseEndpoint = *jc.S3BaseEndpoint
	}
	if jc.S3KeyPrefix != nil {
		cfg.S3KeyPrefix = *jc.S3KeyPrefix
	}
}
