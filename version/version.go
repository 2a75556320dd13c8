// Package version contains version details, some of which
// are set by the build.
package version

var (
	// GitCommit is the commit hash the binary was built from.
	GitCommit string
	// GitBranch is the branch the binary was built from.
	GitBranch string
	// BuildDate is the date the binary was built.
	BuildDate string
	// Version is the release version.
	Version = "0.1.0"
)

// String formats a version string using the available details.
func String() string {
	s := "macworp version: " + Version
	if GitCommit != "" {
		s += "\ngit commit: " + GitCommit
	}
	if GitBranch != "" {
		s += "\ngit branch: " + GitBranch
	}
	if BuildDate != "" {
		s += "\nbuild date: " + BuildDate
	}
	return s
}
