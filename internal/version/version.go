// Package version records the build identity stamped in at release time
// via -ldflags.
package version

var (
	// Version is the release version, "dev" for local builds
	Version = "dev"
	// GitSHA is the commit the binary was built from
	GitSHA = "unknown"
	// BuildTime is the UTC timestamp of the build
	BuildTime = "unknown"
)
