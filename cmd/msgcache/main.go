package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/dovelchat/msgcache/internal/buildinfo"
	"github.com/dovelchat/msgcache/internal/cli"
	"github.com/dovelchat/msgcache/internal/config"
	"github.com/dovelchat/msgcache/internal/logging"
)

func main() {

	buildinfo.PrintBuildData(os.Stdout)

	ctx := context.Background()
	cfg := config.LoadConfig()
	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	app, err := cli.NewApp(cfg, logger)
	if err != nil {
		log.Fatalf("%v", err)
		return
	}
	defer app.Close()

	if err := app.Run(ctx, flagFreeArgs(os.Args[1:])); err != nil {
		log.Fatalf("%v", err)
	}
}

// flagFreeArgs strips flag-style arguments so only the subcommand and its
// positional arguments reach the dispatcher. Flags themselves are parsed by
// the config package.
func flagFreeArgs(args []string) []string {
	out := make([]string, 0, len(args))
	skip := false
	for _, a := range args {
		if skip {
			skip = false
			continue
		}
		if strings.HasPrefix(a, "-") {
			// the value may follow as a separate argument
			skip = !strings.Contains(a, "=")
			continue
		}
		out = append(out, a)
	}
	return out
}
