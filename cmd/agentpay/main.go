// Command agentpay runs the agent payment ledger service and its operator tools.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// Version is stamped at build time with -ldflags "-X main.Version=...".
var Version = "0.1.0"

// Exit codes.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // operation or verification failed
	ExitCommandError = 2 // bad invocation
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	root := NewRootCommand()
	root.SetArgs(args[1:])
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitCode(err)
	}
	return ExitSuccess
}

func exitCode(err error) int {
	var usage *usageError
	if errors.As(err, &usage) || strings.HasPrefix(err.Error(), "unknown command") {
		return ExitCommandError
	}
	return ExitFailure
}

// usageError marks invocation mistakes.
type usageError struct{ err error }

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

// NewRootCommand creates the agentpay command tree.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "agentpay",
		Short:         "Agent payment ledger",
		Long:          "Custodial spending ledger for autonomous agents with conditional rules, subscriptions, streams and escrow.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err}
	})

	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newTokenCommand())
	cmd.AddCommand(newExportCommand())
	cmd.AddCommand(newVerifyCommand())
	cmd.AddCommand(newAmountCommand())
	cmd.AddCommand(newVersionCommand())
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "agentpay %s\n", Version)
			return err
		},
	}
}

// exactArgs wraps cobra.ExactArgs so arity mistakes exit with ExitCommandError.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return &usageError{err}
		}
		return nil
	}
}
