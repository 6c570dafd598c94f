package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alecgard/teambeat/internal/auth"
	"github.com/alecgard/teambeat/internal/config"
)

var genkeyCmd = &cobra.Command{
	Use:   "genkey",
	Short: "Generate an admin key and a token signing secret",
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := auth.GenerateKey()
		if err != nil {
			return fmt.Errorf("generating admin key: %w", err)
		}
		secret, err := auth.GenerateSecret(config.MinTokenSecretLength)
		if err != nil {
			return fmt.Errorf("generating token secret: %w", err)
		}
		fmt.Printf("TEAMBEAT_ADMIN_KEY=%s\n", key)
		fmt.Printf("TEAMBEAT_TOKEN_SECRET=%s\n", secret)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(genkeyCmd)
}
