// Package meta holds the build information of telecache.
package meta

import "fmt"

var (
	// Version is the semantic version of the application.
	// This value is injected at build time via ldflags.
	Version = "HEAD"

	// Commit is the git commit hash.
	// This value is injected at build time via ldflags.
	Commit = "UNKNOWN"
)

// String returns the version and the commit in one line, like "1.2.0 (abcdef0)".
func String() string {
	return fmt.Sprintf("%s (%s)", Version, Commit)
}
