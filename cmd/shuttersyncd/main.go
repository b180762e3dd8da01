package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/dmarchuk/shuttersync/internal/buildinfo"
	"github.com/dmarchuk/shuttersync/internal/config"
	"github.com/dmarchuk/shuttersync/internal/logging"
	"github.com/dmarchuk/shuttersync/internal/uploader"

	"github.com/rs/zerolog"
)

func main() {

	buildinfo.PrintBuildData(os.Stdout)

	ctx := context.Background()
	cfg := config.LoadConfig()

	logger := logging.NewZerologLogger(zerolog.New(os.Stdout).With().Timestamp().Logger())

	app, err := uploader.NewApp(ctx, cfg, logger, noTerminalPrompt)
	if err != nil {
		log.Printf("%v", err)
		return
	}

	if err := app.Run(ctx); err != nil {
		log.Printf("%v", err)
	}
}

// noTerminalPrompt rejects interactive authentication: the daemon has no
// terminal, sign-in happens through the CLI over the shared data dir.
func noTerminalPrompt(ctx context.Context, backendID string) (string, error) {
	return "", fmt.Errorf("no terminal: run `shuttersync auth %s` to sign in", backendID)
}
