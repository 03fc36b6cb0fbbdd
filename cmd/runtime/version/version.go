// Package version exposes the build version stamped in at link time.
package version

import "fmt"

var (
	// semanticVersion is overridden by -ldflags on release builds.
	semanticVersion = "0.1.0"

	// gitCommit is the short commit hash of the build.
	gitCommit = "dev"
)

// Get returns the full version string.
func Get() string {
	return fmt.Sprintf("%s-%s", semanticVersion, gitCommit)
}
