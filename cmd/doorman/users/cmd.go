package users

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"strings"

	"github.com/andrebq/doorman/account"
	"github.com/andrebq/doorman/internal/cmdflags"
	"github.com/andrebq/doorman/ledger"
	"github.com/urfave/cli/v2"
)

func Cmd() *cli.Command {
	var dbFile string
	return &cli.Command{
		Name:  "users",
		Usage: "Inspect and manage the accounts known to the ledger",
		Flags: []cli.Flag{
			cmdflags.Ledger(&dbFile),
		},
		Subcommands: []*cli.Command{
			listCmd(&dbFile),
			registerCmd(&dbFile),
		},
	}
}

func listCmd(dbFile *string) *cli.Command {
	return &cli.Command{
		Name:    "list",
		Aliases: []string{"ls"},
		Usage:   "Print every account as a json line",
		Action: func(ctx *cli.Context) error {
			store, err := ledger.Open(ctx.Context, *dbFile, false)
			if err != nil {
				return err
			}
			defer store.Close()
			users, err := store.ListUsers(ctx.Context)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(ctx.App.Writer)
			for _, u := range users {
				if err := enc.Encode(u); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func registerCmd(dbFile *string) *cli.Command {
	var username string
	var email string
	return &cli.Command{
		Name:  "register",
		Usage: "Register a new local account (password is read from stdin)",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "username",
				Aliases:     []string{"u", "user"},
				Usage:       "Name of the user to register",
				Destination: &username,
				Required:    true,
			},
			&cli.StringFlag{
				Name:        "email",
				Aliases:     []string{"e"},
				Usage:       "Email of the user to register",
				Destination: &email,
				Required:    true,
			},
		},
		Action: func(ctx *cli.Context) error {
			sc := bufio.NewScanner(os.Stdin)
			if !sc.Scan() {
				if sc.Err() != nil {
					return sc.Err()
				}
				return errors.New("missing password from stdin")
			}
			password := strings.TrimSpace(sc.Text())
			if len(password) == 0 {
				return errors.New("missing password from stdin")
			}
			store, err := ledger.Open(ctx.Context, *dbFile, true)
			if err != nil {
				return err
			}
			defer store.Close()
			u, err := account.New(store, nil).SignupLocal(ctx.Context, username, email, password)
			if err != nil {
				return err
			}
			return json.NewEncoder(ctx.App.Writer).Encode(u)
		},
	}
}
