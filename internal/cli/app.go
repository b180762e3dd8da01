// Package cli is the terminal front-end: it embeds the upload pipeline over
// the same data directory the daemon uses, so authentication, backend
// selection and cancellation are plain state changes the daemon observes
// through storage.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/dmarchuk/shuttersync/internal/config"
	"github.com/dmarchuk/shuttersync/internal/logging"
	"github.com/dmarchuk/shuttersync/internal/uploader"
)

type App struct {
	cfg    *config.Config
	core   *uploader.App
	reader *bufio.Reader
	out    io.Writer
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{
		cfg:    cfg,
		reader: bufio.NewReader(os.Stdin),
		out:    os.Stdout,
	}

	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	core, err := uploader.NewApp(ctx, cfg, logger, a.promptToken)
	if err != nil {
		return nil, err
	}
	a.core = core
	return a, nil
}

// promptToken asks the user to paste a bearer token for the backend. The
// paste is read without echo so tokens stay out of scrollback.
func (a *App) promptToken(ctx context.Context, backendID string) (string, error) {
	secret, err := GetSecret(fmt.Sprintf("Paste access token for %s", backendID), a.out)
	if err != nil {
		return "", err
	}
	token := strings.TrimSpace(string(secret))
	if token == "" {
		return "", fmt.Errorf("empty token")
	}
	return token, nil
}

// Run dispatches a single subcommand. Supported commands:
//
//	auth <backend>     interactive sign-in for a backend
//	signout <backend>  discard stored credentials
//	backend [<id>]     show or set the selected backend ("none" disables)
//	status             print the current upload queue
//	cancel <task-id>   abandon an upload
//	backends           list known backend ids
func (a *App) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		a.usage()
		return nil
	}

	switch args[0] {
	case "auth":
		return a.cmdAuth(ctx, args[1:])
	case "signout":
		return a.cmdSignOut(ctx, args[1:])
	case "backend":
		return a.cmdBackend(ctx, args[1:])
	case "backends":
		return a.cmdBackends(ctx)
	case "status":
		return a.cmdStatus(ctx)
	case "cancel":
		return a.cmdCancel(ctx, args[1:])
	default:
		a.usage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func (a *App) usage() {
	fmt.Fprintln(a.out, "Usage: shuttersync <command>")
	fmt.Fprintln(a.out, "Commands:")
	fmt.Fprintln(a.out, "  auth <backend>     sign in to a storage backend")
	fmt.Fprintln(a.out, "  signout <backend>  discard stored credentials")
	fmt.Fprintln(a.out, "  backend [<id>]     show or set the selected backend")
	fmt.Fprintln(a.out, "  backends           list known backends")
	fmt.Fprintln(a.out, "  status             print the upload queue")
	fmt.Fprintln(a.out, "  cancel <task-id>   abandon an upload")
}
