package version

import "fmt"

// Set at build time with -ldflags "-X github.com/chmdznr/deal-drive-sync/pkg/version.Version=..."
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Info is the multi-line build description printed by "dealsync version".
func Info() string {
	return fmt.Sprintf("Version:    %s\nGit commit: %s\nBuilt:      %s\n", Version, GitCommit, BuildTime)
}
