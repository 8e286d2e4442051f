// Package check verifies concurrent programs under weak memory models.
//
// A program is a small YAML document of threads written in a load/store
// instruction language (see the examples directory of the repository). The
// checker explores every execution the chosen memory model allows, each
// exactly once, and reports the first bug it finds together with the causal
// trace that leads to it.
//
// # Quick Start
//
// From the command line:
//
//	$ weakcheck run --model ra examples/sb.yaml
//
// From Go:
//
//	sum, err := check.File(ctx, "examples/sb.yaml", check.DefaultConfig())
//	if err != nil {
//		return err // invalid program or settings
//	}
//	if sum.Violation != nil {
//		fmt.Println(sum.Violation)
//	}
//
// # API Overview
//
//   - Verification: [File], [Source]
//   - Settings: [Config], [DefaultConfig], [LoadConfig]
//   - Results: [Summary], [Violation]
//   - Version information: [GetInfo], [Version]
//
// # Memory Models
//
//	sc    sequential consistency
//	ra    release/acquire: every atomic access synchronizes
//	rc11  repaired C11: relaxed, release, acquire and seq_cst accesses and fences
//
// # What Is Reported
//
// Assertion failures, data races between non-atomic accesses, accesses to
// unallocated or freed memory, double frees, reads of uninitialized heap
// memory, invalid joins and unlocks, and with the corresponding settings
// spin loops that never terminate and recovery routines that observe a
// state the program never persisted.
package check
