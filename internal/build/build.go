// Package build holds metadata stamped into the binary at link time.
package build

var (
	// Version is the semantic version of the build, set with -ldflags.
	Version = "dev"

	// Commit is the git commit the binary was built from.
	Commit = "none"

	// Date is the build timestamp.
	Date = "unknown"

	// ProjectName is used as the service name in logs and traces.
	ProjectName = "casematch"
)
