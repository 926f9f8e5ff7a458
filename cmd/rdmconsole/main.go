package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/rdmtests/console/internal/config"
)

const AppName = "rdmconsole"

var version = "dev"

type App struct {
	logger zerolog.Logger
	cli    *cli.App
}

func New() *App {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	logger := log.Output(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	})

	app := &App{logger: logger}
	app.cli = &cli.App{
		Name:    AppName,
		Usage:   "Drive an RDM responder test server and inspect its results",
		Version: version,
		Flags:   config.Flags,
		Before: func(ctx *cli.Context) error {
			if ctx.Bool(config.Verbose.Name) {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
			return nil
		},
		Commands: app.commands(),
	}
	return app
}

func (a *App) Run(args []string) error {
	return a.cli.Run(args)
}

func main() {
	app := New()
	if err := app.Run(os.Args); err != nil {
		app.logger.Fatal().Err(err).Msg("rdmconsole failed")
	}
}
