package main

import (
	"context"
	"log"
	"os"
	"strings"

	"github.com/dmarchuk/shuttersync/internal/cli"
	"github.com/dmarchuk/shuttersync/internal/config"
)

func main() {

	ctx := context.Background()
	cfg := config.LoadConfig()

	app, err := cli.NewApp(ctx, cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}

	if err := app.Run(ctx, commandArgs(os.Args[1:])); err != nil {
		log.Fatalf("%v", err)
	}
}

// commandArgs returns the leading non-flag arguments: the subcommand and
// its operands. Flags anywhere in the invocation belong to the config
// layer, which filters os.Args on its own.
func commandArgs(args []string) []string {
	var cmd []string
	for _, arg := range args {
		if strings.HasPrefix(arg, "-") {
			break
		}
		cmd = append(cmd, arg)
	}
	return cmd
}
