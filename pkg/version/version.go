// Package version carries build metadata stamped in via -ldflags.
package version

import (
	"fmt"
	"runtime"
)

var (
	// Version is the semantic release version, "dev" for local builds.
	Version = "dev"

	// GitCommit is the short hash the binary was built from.
	GitCommit = "unknown"

	// BuildTime is the build timestamp in RFC 3339.
	BuildTime = "unknown"
)

// String renders the full build line shown by the version subcommand.
func String() string {
	return fmt.Sprintf("voxihub %s (%s, %s, %s)",
		Version, GitCommit, BuildTime, runtime.Version())
}
