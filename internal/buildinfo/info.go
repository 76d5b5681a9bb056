// Package buildinfo carries release metadata stamped in by the linker.
package buildinfo

import "fmt"

// Set with -ldflags "-X github.com/garagesale/treasury/internal/buildinfo.Version=...".
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String formats the metadata for `treasury --version`.
func String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, Date)
}
