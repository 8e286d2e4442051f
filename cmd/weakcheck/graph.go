// graph.go implements the 'weakcheck graph' command.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kolkov/weakcheck/check"
	"github.com/kolkov/weakcheck/internal/checker"
	"github.com/kolkov/weakcheck/internal/graph"
	"github.com/kolkov/weakcheck/internal/program"
	"github.com/kolkov/weakcheck/internal/report"
)

// newGraphCmd creates the 'weakcheck graph' command, which prints every
// complete execution graph, or writes each one as a DOT file.
//
// Example:
//
//	weakcheck graph --model ra examples/sb.yaml
//	weakcheck graph --dot-dir out/ examples/sb.yaml
func newGraphCmd() *cobra.Command {
	var (
		s      settings
		dotDir string
	)
	cmd := &cobra.Command{
		Use:   "graph PROGRAM.yaml",
		Short: "Print every complete execution graph",
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
			if dotDir != "" {
				if err := os.MkdirAll(dotDir, 0750); err != nil {
					return fmt.Errorf("create DOT directory: %w", err)
				}
			}

			out := cmd.OutOrStdout()
			n := 0
			var writeErr error
			onExec := func(g *graph.Graph) {
				n++
				if dotDir == "" {
					fmt.Fprintf(out, "Execution %d:\n%s\n", n, g.Render())
					return
				}
				path := filepath.Join(dotDir, fmt.Sprintf("%s-%d.dot", prog.Name, n))
				if err := g.SaveDOT(path); err != nil && writeErr == nil {
					writeErr = err
				}
			}
			res, err := checker.Run(cmd.Context(), prog, cfg, checker.Options{
				Logger:      logger,
				Version:     check.Version,
				OnExecution: onExec,
			})
			if err != nil {
				return err
			}
			if writeErr != nil {
				return fmt.Errorf("write DOT file: %w", writeErr)
			}

			p := report.NewPrinter(out)
			if v := res.Summary.Violation; v != nil {
				p.Violation(v)
				p.Summary(res.Summary)
				return v
			}
			p.Summary(res.Summary)
			return nil
		},
	}
	s.register(cmd)
	cmd.Flags().StringVar(&dotDir, "dot-dir", "", "write each execution as PROGRAM-N.dot into this directory")
	return cmd
}
