package main

import (
	"os"

	"github.com/macworp/macworp/cmd"
	"github.com/macworp/macworp/logger"
)

func main() {
	if err := cmd.RootCmd.Execute(); err != nil {
		logger.PrintSimpleError(err)
		os.Exit(1)
	}
}
