// Package config handles configuration for the upload daemon, including
// defaults, JSON overlay, and command-line flags.
package config

import "time"

// Config holds runtime settings for the shuttersync daemon.
//
// Fields:
//   - DataDir: root for persistent state (task queue, settings, tokens).
//   - SpoolDir: directory watched for freshly produced media files.
//   - StoreKind: task persistence flavor, "kvfile" or "sqlite".
//   - SelectedBackend: backend id new files are scheduled to, or "none".
//   - MaxRetries: attempts per task before it fails for good.
//   - RetryBackoffBase / RetryBackoffMax: exponential retry delay bounds.
//   - CompletedGrace: how long a completed task stays visible before pruning.
//   - PublishInterval: progress snapshot cadence.
//   - SpoolScanInterval / SpoolSettle: scan cadence and the minimum mtime age
//     before a spool file counts as fully written.
//   - MaxConcurrentUploads: transfer worker cap.
//   - AllowedExtensions: spool file extensions considered media.
//   - DriveEndpoint / DropboxEndpoint: API base URL overrides for tests and
//     self-hosted proxies; empty means the public endpoint.
//   - DropboxAutoRename / DropboxMute: finalize policy for the Dropbox commit.
//   - S3*: S3-compatible backend settings (MinIO works via S3BaseEndpoint).
type Config struct {
	DataDir              string
	SpoolDir             string
	StoreKind            string
	SelectedBackend      string
	MaxRetries           int
	RetryBackoffBase     time.Duration
	RetryBackoffMax      time.Duration
	CompletedGrace       time.Duration
	PublishInterval      time.Duration
	SpoolScanInterval    time.Duration
	SpoolSettle          time.Duration
	MaxConcurrentUploads int
	AllowedExtensions    []string
	DriveEndpoint        string
	DropboxEndpoint      string
	DropboxAutoRename    bool
	DropboxMute          bool
	S3AccessKey          string
	S3SecretKey          string
	S3Bucket             string
	S3Region             string
	S3BaseEndpoint       string
	S3KeyPrefix          string
}

// LoadDefaults populates c with sensible development defaults.
func (c *Config) LoadDefaults() {
	c.DataDir = "./data"
	c.SpoolDir = "./spool"
	c.StoreKind = "kvfile"
	c.SelectedBackend = "none"
	c.MaxRetries = 3
	c.RetryBackoffBase = 30 * time.Second
	c.RetryBackoffMax = 10 * time.Minute
	c.CompletedGrace = 30 * time.Second
	c.PublishInterval = 1 * time.Second
	c.SpoolScanInterval = 10 * time.Second
	c.SpoolSettle = 2 * time.Second
	c.MaxConcurrentUploads = 3
	c.AllowedExtensions = []string{".mp4", ".mov", ".mkv", ".jpg", ".jpeg", ".png"}
	c.DropboxAutoRename = true
	c.DropboxMute = true
	c.S3Bucket = "media"
	c.S3Region = "us-east-1"
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from an optional JSON file and finally from command-line flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
