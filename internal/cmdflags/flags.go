// Package cmdflags holds the flags shared by more than one doorman command.
package cmdflags

import (
	"github.com/urfave/cli/v2"
)

const (
	DefaultLedger = "doorman.db"
)

func Ledger(out *string) cli.Flag {
	if len(*out) == 0 {
		*out = DefaultLedger
	}
	return &cli.StringFlag{
		Name:        "ledger",
		Aliases:     []string{"db", "d"},
		Usage:       "Path to the sqlite database holding users and the login ledger",
		EnvVars:     []string{"DOORMAN_DB"},
		Value:       *out,
		Destination: out,
	}
}

func LogLevel(out *string) cli.Flag {
	if len(*out) == 0 {
		*out = "info"
	}
	return &cli.StringFlag{
		Name:        "log-level",
		Usage:       "Minimum level to log (trace, debug, info, warn, error)",
		EnvVars:     []string{"DOORMAN_LOG_LEVEL"},
		Value:       *out,
		Destination: out,
	}
}

func LogConsole(out *bool) cli.Flag {
	return &cli.BoolFlag{
		Name:        "log-console",
		Usage:       "Write human friendly logs instead of json lines",
		EnvVars:     []string{"DOORMAN_LOG_CONSOLE"},
		Value:       *out,
		Destination: out,
	}
}

// SecretFromEnv declares a hidden flag, secrets are expected to come from
// envvar and not from the command line.
func SecretFromEnv(name, envvar, usage string, out *string) cli.Flag {
	return &cli.StringFlag{
		Name:        name,
		Usage:       usage,
		EnvVars:     []string{envvar},
		Hidden:      true,
		Destination: out,
	}
}
