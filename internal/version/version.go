package version

import (
	"fmt"
	"runtime"
)

// Set through -ldflags "-X balance-tracker/internal/version.Version=..." at build time.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// String renders the build information on one line.
func String() string {
	return fmt.Sprintf("balancetracker %s (commit %s, built %s, %s)", Version, Commit, BuildDate, runtime.Version())
}
