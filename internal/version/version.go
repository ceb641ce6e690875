// Package version exposes build-time version information.
// Values are injected via -ldflags at build time.
package version

import "fmt"

var (
	// Version is the semantic version of the build ("dev" for local builds).
	Version = "dev"
	// Commit is the git commit hash the binary was built from.
	Commit = "unknown"
	// Date is the build timestamp.
	Date = "unknown"
)

// Short returns the bare version string.
func Short() string {
	return Version
}

// Info returns a human-readable version line.
func Info() string {
	return fmt.Sprintf("wugsync %s (commit %s, built %s)", Version, Commit, Date)
}

// Map returns version fields for JSON responses.
func Map() map[string]string {
	return map[string]string{
		"version": Version,
		"commit":  Commit,
		"date":    Date,
	}
}
