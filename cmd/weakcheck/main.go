// Package main implements the weakcheck CLI tool.
//
// weakcheck explores every execution of a concurrent program that a weak
// memory model allows and reports assertion failures, data races, memory
// errors and liveness bugs with a causal trace.
//
// Usage:
//
//	weakcheck run --model ra examples/sb.yaml       # Verify a program
//	weakcheck graph examples/sb.yaml                # Print every execution graph
//	weakcheck version                               # Show version information
//
// Exit codes:
//
//	0   no bug found
//	1   usage error: bad flags, unreadable or invalid program or config
//	3   internal error of the checker
//	42  verification failure: a bug was found
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/kolkov/weakcheck/check"
	"github.com/kolkov/weakcheck/internal/report"
)

const (
	exitSuccess = 0
	exitUsage   = 1
)

// exitCoder is implemented by errors that carry their own exit status:
// violations and internal errors.
type exitCoder interface {
	ExitCode() int
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// execute runs the command line args and returns the exit status.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitSuccess
	}
	var v *report.Violation
	if !errors.As(err, &v) {
		// Violations were already printed with their traces.
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	var ec exitCoder
	if errors.As(err, &ec) {
		return ec.ExitCode()
	}
	return exitUsage
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:   "weakcheck",
		Short: "Stateless model checker for weak memory models",
		Long: `weakcheck - model checker for concurrent programs under weak memory models

weakcheck explores every execution of a program that the chosen memory model
(sc, ra or rc11) allows, each exactly once, and reports the first bug with
the causal trace that leads to it.`,
		Version:       check.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.AddCommand(newRunCmd(), newGraphCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			info := check.GetInfo()
			fmt.Fprintf(cmd.OutOrStdout(), "weakcheck version %s\n", info.Version)
			fmt.Fprintf(cmd.OutOrStdout(), "algorithm: %s\n", info.Algorithm)
			fmt.Fprintf(cmd.OutOrStdout(), "models: %v\n", info.Models)
		},
	}
}
