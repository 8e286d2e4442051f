// run.go implements the 'weakcheck run' command.
package main

import (
	"github.com/spf13/cobra"

	"github.com/kolkov/weakcheck/check"
	"github.com/kolkov/weakcheck/internal/checker"
	"github.com/kolkov/weakcheck/internal/program"
	"github.com/kolkov/weakcheck/internal/report"
)

// newRunCmd creates the 'weakcheck run' command.
//
// It loads the program, explores its executions and prints the first
// violation followed by the summary. A violation is returned as the
// command's error so that the process exits with its status.
//
// Example:
//
//	weakcheck run --model rc11 --races examples/mp.yaml
//	weakcheck run --config weakcheck.yaml -j 4 examples/lock.yaml
func newRunCmd() *cobra.Command {
	var s settings
	cmd := &cobra.Command{
		Use:   "run PROGRAM.yaml",
		Short: "Verify a program",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := s.resolve(cmd, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			prog, err := program.Load(args[0])
			if err != nil {
				return err
			}
			res, err := checker.Run(cmd.Context(), prog, cfg, checker.Options{
				Logger:  logger,
				Version: check.Version,
			})
			if err != nil {
				return err
			}

			p := report.NewPrinter(cmd.OutOrStdout())
			if v := res.Summary.Violation; v != nil {
				p.Violation(v)
			}
			p.Summary(res.Summary)
			if v := res.Summary.Violation; v != nil {
				return v
			}
			return nil
		},
	}
	s.register(cmd)
	return cmd
}
