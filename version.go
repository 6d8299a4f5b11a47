package constitution

import (
	"fmt"
	"runtime"
)

// Build information, overridden through -ldflags at release time.
var (
	CurrentVersion = "0.1.0"
	CurrentBranch  = "main"
	CurrentCommit  = "unknown"
	BuildDate      = "unknown"

	GoVersion = runtime.Version()
	Platform  = fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH)
)
