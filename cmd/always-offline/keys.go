package main

import (
	"github.com/always-cache/always-offline/push"

	"github.com/spf13/cobra"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Generate a VAPID key pair for the push server.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		vapid, err := push.GenerateVAPID(cfg.Push.VAPID.Subject)
		if err != nil {
			return err
		}
		cmd.Printf("VAPID_PUBLIC=%s\n", vapid.PublicKey)
		cmd.Printf("VAPID_PRIVATE=%s\n", vapid.PrivateKey)
		return nil
	},
}
