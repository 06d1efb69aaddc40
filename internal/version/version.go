// Package version holds build metadata, set at link time with
// -ldflags "-X github.com/banshee-data/superphot/internal/version.Version=...".
package version

import "fmt"

var (
	// Version is the release tag.
	Version = "dev"
	// GitSHA is the commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)

// String formats the build metadata for the version command.
func String() string {
	return fmt.Sprintf("superphot %s (%s, built %s)", Version, GitSHA, BuildTime)
}
