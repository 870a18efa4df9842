// Command trialscope estimates clinical-trial cost and risk from protocol text.
package main

import (
	"os"

	"github.com/turtacn/TrialScope/internal/interfaces/cli"
)

// Build-time variables injected via ldflags.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func init() {
	cli.Version = version
	cli.GitCommit = commit
	cli.BuildDate = buildDate
}

func main() {
	// Execute has already reported the error on stderr.
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
