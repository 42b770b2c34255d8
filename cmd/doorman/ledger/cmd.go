package ledger

import (
	"encoding/json"

	"github.com/andrebq/doorman/internal/cmdflags"
	"github.com/andrebq/doorman/ledger"
	"github.com/urfave/cli/v2"
)

func Cmd() *cli.Command {
	var dbFile string
	return &cli.Command{
		Name:  "ledger",
		Usage: "Read the login ledger",
		Flags: []cli.Flag{
			cmdflags.Ledger(&dbFile),
		},
		Subcommands: []*cli.Command{
			tailCmd(&dbFile),
		},
	}
}

func tailCmd(dbFile *string) *cli.Command {
	lines := 20
	return &cli.Command{
		Name:  "tail",
		Usage: "Print the most recent ledger entries as json lines, oldest first",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:        "lines",
				Aliases:     []string{"n"},
				Usage:       "Number of entries to print (0 prints the whole ledger)",
				Value:       lines,
				Destination: &lines,
			},
		},
		Action: func(ctx *cli.Context) error {
			store, err := ledger.Open(ctx.Context, *dbFile, false)
			if err != nil {
				return err
			}
			defer store.Close()
			events, err := store.ListEvents(ctx.Context, lines)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(ctx.App.Writer)
			for _, ev := range events {
				if err := enc.Encode(ev); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
