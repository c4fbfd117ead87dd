package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"
)

const usage = `btxctl splits a hex transaction into mesh chunks and sends it.

Usage:
  btxctl split [flags] <hex | @file | ->
  btxctl send [flags] <hex | @file | ->
  btxctl status [flags]

Run "btxctl <command> --help" for the flags of one command.
`

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "btxctl: %v\n", err)
		os.Exit(1)
	}
}

type command func(args []string, stdin io.Reader, stdout, stderr io.Writer) error

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return errors.New("missing command")
	}
	commands := map[string]command{
		"split":  runSplit,
		"send":   runSend,
		"status": runStatus,
	}
	name := args[0]
	if name == "-h" || name == "--help" || name == "help" {
		fmt.Fprint(stdout, usage)
		return nil
	}
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprint(stderr, usage)
		return fmt.Errorf("unknown command: %s", name)
	}
	return cmd(args[1:], stdin, stdout, stderr)
}

// parseFlags returns done=true when help was printed.
func parseFlags(fs *pflag.FlagSet, args []string, stderr io.Writer) (bool, error) {
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return true, nil
		}
		return false, err
	}
	return false, nil
}
