// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package version

// Populated by the build system via ldflags.
var (
	Version = "v0.1.0-dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// String renders the build identity for --version and logs.
func String() string {
	return Version + " (commit: " + Commit + ", built: " + Date + ")"
}
