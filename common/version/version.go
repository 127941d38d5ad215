// Package version carries the build identity stamped in via ldflags.
package version

var (
	// Version is the semantic version of this build.
	Version = "v0.0.0-dev"

	// GitCommit is the commit the binary was built from.
	GitCommit = "unknown"

	// BuildTime is the UTC timestamp of the build.
	BuildTime = "unknown"
)

// Info renders the full build identity on one line.
func Info() string {
	return Version + " (" + GitCommit + ") built at " + BuildTime
}
