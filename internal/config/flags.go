package config

import (
	"flag"
	"os"
	"strings"
	"time"

	"github.com/dmarchuk/shuttersync/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-d string   data directory for persistent state
//	-w string   spool directory watched for new media
//	-k string   task store kind, "kvfile" or "sqlite"
//	-b string   selected backend id ("none" disables scheduling)
//	-m int      max attempts per task
//	-r int      retry backoff base, seconds
//	-g int      completed task grace before pruning, seconds
//	-i int      spool scan interval, seconds
//	-n int      max concurrent uploads
//	-x string   comma-separated list of allowed extensions
//
// Endpoint overrides and S3 credentials are JSON-only. The function filters
// os.Args to only the flags it recognizes using flagx.FilterArgs, avoiding
// collisions with other components.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-d", "-w", "-k", "-b", "-m", "-r", "-g", "-i", "-n", "-x"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.DataDir, "d", cfg.DataDir, "data directory")
	fs.StringVar(&cfg.SpoolDir, "w", cfg.SpoolDir, "spool directory to watch")
	fs.StringVar(&cfg.StoreKind, "k", cfg.StoreKind, "task store kind (kvfile or sqlite)")
	fs.StringVar(&cfg.SelectedBackend, "b", cfg.SelectedBackend, "selected backend id")
	fs.IntVar(&cfg.MaxRetries, "m", cfg.MaxRetries, "max attempts per task")

	retryBase := fs.Int("r", int(cfg.RetryBackoffBase.Seconds()), "retry backoff base (in seconds)")
	grace := fs.Int("g", int(cfg.CompletedGrace.Seconds()), "completed task grace (in seconds)")
	scan := fs.Int("i", int(cfg.SpoolScanInterval.Seconds()), "spool scan interval (in seconds)")

	fs.IntVar(&cfg.MaxConcurrentUploads, "n", cfg.MaxConcurrentUploads, "max concurrent uploads")
	extensions := fs.String("x", strings.Join(cfg.AllowedExtensions, ","), "comma-separated allowed extensions")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.RetryBackoffBase = time.Duration(*retryBase) * time.Second
	cfg.CompletedGrace = time.Duration(*grace) * time.Second
	cfg.SpoolScanInterval = time.Duration(*scan) * time.Second

	cfg.AllowedExtensions = cfg.AllowedExtensions[:0]
	for _, ext := range strings.Split(*extensions, ",") {
		ext = strings.TrimSpace(ext)
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		cfg.AllowedExtensions = append(cfg.AllowedExtensions, strings.ToLower(ext))
	}
}
