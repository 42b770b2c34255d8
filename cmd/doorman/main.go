package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/andrebq/doorman/cmd/doorman/ledger"
	"github.com/andrebq/doorman/cmd/doorman/serve"
	"github.com/andrebq/doorman/cmd/doorman/users"
	"github.com/andrebq/doorman/internal/cmdflags"
	"github.com/andrebq/doorman/internal/logutil"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

func main() {
	var level string
	var console bool
	app := &cli.App{
		Name:  "doorman",
		Usage: "Sign users in with a local password, Microsoft or Google and keep a ledger of every login",
		Flags: []cli.Flag{
			cmdflags.LogLevel(&level),
			cmdflags.LogConsole(&console),
		},
		Before: func(ctx *cli.Context) error {
			logutil.Setup(level, console)
			return nil
		},
		Commands: []*cli.Command{
			serve.Cmd(),
			users.Cmd(),
			ledger.Cmd(),
		},
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	err := app.RunContext(ctx, os.Args)
	if err != nil {
		log.Error().Err(err).Msg("Application failed")
		os.Exit(1)
	}
}
