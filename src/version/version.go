package version

// Version is the full version string.
var Version = "0.1.0"

// GitCommit is set with --ldflags "-X version.GitCommit=$(git rev-parse HEAD)"
var GitCommit string

func init() {
	if GitCommit != "" {
		Version += "-" + GitCommit[:8]
	}
}
