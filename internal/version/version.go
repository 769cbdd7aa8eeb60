package version

import "fmt"

// Version is set at build time via -ldflags
var Version = "dev"

// Commit is the git commit hash, set at build time
var Commit = "unknown"

// Info returns a human-readable version string
func Info() string {
	return fmt.Sprintf("reviewd %s (%s)", Version, Commit)
}
