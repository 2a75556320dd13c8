package version

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/macworp/macworp/logger"
	"github.com/macworp/macworp/version"
)

// Cmd represents the "version" command
var Cmd = &cobra.Command{
	Use: "version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.String())
	},
}

// Log logs build and version information to the given logger.
func Log(l logger.Logger) {
	l.Info("Version", "GitCommit", version.GitCommit, "GitBranch", version.GitBranch,
		"BuildDate", version.BuildDate, "Version", version.Version)
}
