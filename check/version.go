package check

import "github.com/kolkov/weakcheck/internal/model"

// Version information for weakcheck.
const (
	// Version is the current version of the checker.
	Version = "0.1.0"

	VersionMajor = 0
	VersionMinor = 1
	VersionPatch = 0
)

// Info provides information about the checker.
type Info struct {
	Version string
	// Algorithm is the exploration algorithm.
	Algorithm string
	// Models lists the supported memory models.
	Models []string
}

// GetInfo returns information about the checker.
//
// Example:
//
//	info := check.GetInfo()
//	fmt.Printf("weakcheck %s (%s)\n", info.Version, info.Algorithm)
func GetInfo() Info {
	return Info{
		Version:   Version,
		Algorithm: "stateless DPOR over execution graphs",
		Models:    model.Names(),
	}
}
