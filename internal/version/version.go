// Package version holds build-time identifiers, overridden via -ldflags.
package version

var (
	// Version is the semantic version or git describe string of this build.
	Version = "dev"
	// Commit is the git commit SHA this binary was built from.
	Commit = "unknown"
)
