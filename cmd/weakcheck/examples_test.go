package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestExamples runs the programs of the examples directory and checks
// the verdict of each.
func TestExamples(t *testing.T) {
	tests := []struct {
		file  string
		flags []string
		code  int
		want  string
	}{
		{"sb.yaml", []string{"--model", "sc"}, 0, "explored: 3"},
		{"sb.yaml", []string{"--model", "ra"}, 0, "explored: 4"},
		{"mp.yaml", nil, 0, "No errors were detected."},
		{"mp_relaxed.yaml", nil, 42, "Non-atomic race"},
		{"mutex_protected.yaml", nil, 0, "explored: 2"},
		{"lost_update.yaml", nil, 42, "Safety violation"},
		{"counter_symmetric.yaml", []string{"--symmetry"}, 0, "explored: 1"},
		{"counter_symmetric.yaml", nil, 0, "explored: 24"},
		{"double_free.yaml", nil, 42, "Error detected"},
		{"liveness.yaml", []string{"--liveness"}, 42, "Liveness violation"},
		{"persist.yaml", []string{"--persistency"}, 0, "explored: 2"},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			args := append([]string{"run", "--log-level", "error"}, tt.flags...)
			args = append(args, filepath.Join("..", "..", "examples", tt.file))
			code, out, errOut := runCLI(t, args...)
			assert.Equal(t, tt.code, code, "stderr: %s", errOut)
			assert.Contains(t, out, tt.want)
		})
	}
}
