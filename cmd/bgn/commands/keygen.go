package commands

import (
	"fmt"
	"os"
	"path"

	"github.com/spf13/cobra"

	"github.com/Jimmyu2foru18/Blockchain-Gossip-Network/src/crypto"
)

var (
	walletFile string
)

// NewKeygenCmd produces a KeygenCmd which creates a wallet
func NewKeygenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Create new wallet",
		RunE:  keygen,
	}

	AddKeygenFlags(cmd)

	return cmd
}

//AddKeygenFlags adds flags to the keygen command
func AddKeygenFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&walletFile, "wallet", _config.WalletFile(), "File where the wallet will be written")
}

func keygen(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(walletFile); err == nil {
		return fmt.Errorf("A wallet already lives under: %s", path.Dir(walletFile))
	}

	wallet, err := crypto.GenerateWallet()
	if err != nil {
		return fmt.Errorf("Error generating wallet")
	}

	if err := wallet.WriteFile(walletFile); err != nil {
		return fmt.Errorf("Writing wallet: %s", err)
	}

	fmt.Printf("Your wallet has been saved to: %s\n", walletFile)
	fmt.Printf("Address: %s\n", wallet.Address)

	return nil
}
