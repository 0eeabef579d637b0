package main

import (
	"os"

	_ "net/http/pprof"

	cmd "github.com/Jimmyu2foru18/Blockchain-Gossip-Network/cmd/bgn/commands"
)

func main() {
	rootCmd := cmd.RootCmd

	rootCmd.AddCommand(
		cmd.NewRunCmd(),
		cmd.NewKeygenCmd(),
		cmd.VersionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
