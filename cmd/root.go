// Package cmd contains the MAcWorP CLI commands.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/macworp/macworp/cmd/project"
	"github.com/macworp/macworp/cmd/server"
	"github.com/macworp/macworp/cmd/version"
	"github.com/macworp/macworp/cmd/worker"
)

// RootCmd represents the root command
var RootCmd = &cobra.Command{
	Use:           "macworp",
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	RootCmd.AddCommand(project.Cmd)
	RootCmd.AddCommand(server.Cmd)
	RootCmd.AddCommand(version.Cmd)
	RootCmd.AddCommand(worker.Cmd)
}
