package main

import (
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the root key and self-signed root certificate if missing",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, ca, log, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer log.Sync()

		last, err := ca.LastSerial()
		if err != nil {
			return err
		}
		log.Infow("Root identity ready",
			"rootKeyPath", cfg.RootKeyPath,
			"rootCertPath", cfg.RootCertPath,
			"lastSerial", last)
		return nil
	},
}
