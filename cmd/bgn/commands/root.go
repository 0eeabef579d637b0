package commands

import (
	"github.com/spf13/cobra"

	"github.com/Jimmyu2foru18/Blockchain-Gossip-Network/src/config"
)

var (
	_config = config.NewDefaultConfig()
)

//RootCmd is the root command for bgn
var RootCmd = &cobra.Command{
	Use:              "bgn",
	Short:            "blockchain gossip network",
	TraverseChildren: true,
}
