package core

// Build metadata, injected with:
//
//	go build -ldflags "-X bgstudio/core.Version=$(git describe --tags --always) -X bgstudio/core.GitCommit=$(git rev-parse --short HEAD)"
var (
	Version   = "dev"
	GitCommit = "unknown"
)

// VersionInfo returns "v1.2.0 (commit abc1234)".
func VersionInfo() string {
	return Version + " (commit " + GitCommit + ")"
}
