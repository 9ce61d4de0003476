package version

import "fmt"

// Version, GitCommit, and BuildDate are set at build time via ldflags:
//
//	go build -ldflags "-X github.com/bwks/sherpa-sub001/pkg/version.Version=v1.0.0 \
//	  -X github.com/bwks/sherpa-sub001/pkg/version.GitCommit=abc1234 \
//	  -X github.com/bwks/sherpa-sub001/pkg/version.BuildDate=2026-01-01"
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Info renders a one-line human-readable version string for sherpad's
// version command and startup log line.
func Info() string {
	return fmt.Sprintf("sherpad %s (commit %s, built %s)", Version, GitCommit, BuildDate)
}
