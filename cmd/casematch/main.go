package main

import (
	"os"

	"github.com/tkragholm/studyone-sub004/cmd"
	"github.com/tkragholm/studyone-sub004/cmd/match"
)

func main() {
	rootCmd := cmd.NewRootCommand()

	matchCmd := match.NewMatchCommand()
	rootCmd.AddCommand(matchCmd)

	versionCmd := cmd.NewVersionCommand()
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
