package cmd

import (
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

// keygenCmd mints a fresh relay identity. The Flashbots signer builds
// searcher reputation and should never hold funds or sign transactions.
var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a new Flashbots authentication key",
	RunE: func(cmd *cobra.Command, args []string) error {
		privateKey, err := crypto.GenerateKey()
		if err != nil {
			return fmt.Errorf("failed to generate key: %w", err)
		}

		fmt.Printf("FLASHBOTS_KEY=0x%x\n", crypto.FromECDSA(privateKey))
		fmt.Printf("signer address: %s\n", crypto.PubkeyToAddress(privateKey.PublicKey).Hex())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keygenCmd)
}
