package core

// Build metadata injected with ldflags:
//
//	go build -ldflags "-X gen_backend/core.Version=$(git describe --tags --always) \
//	  -X gen_backend/core.GitCommit=$(git rev-parse --short HEAD) \
//	  -X gen_backend/core.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)" .
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// GetVersionInfo returns a formatted version string, for example
// "v1.0.0 (built 2024-01-15T10:30:00Z, commit abc1234)".
func GetVersionInfo() string {
	return Version + " (built " + BuildTime + ", commit " + GitCommit + ")"
}
