package main

import (
	"github.com/spf13/cobra"

	"github.com/margo/trusted-tally/shared-lib/crypto"
)

func init() {
	rootCmd.AddCommand(bootstrapCmd)
}

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Obtain a certificate from the root authority without serving",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		defer log.Sync()

		seq, err := newSequencer(cfg, log)
		if err != nil {
			return err
		}
		bundle, err := seq.Run(cmd.Context())
		if err != nil {
			log.Errorw("Trust bootstrap failed", "state", seq.State().String(), "error", err)
			return err
		}
		log.Infow("Certificates installed",
			"certPath", cfg.CertPath,
			"caCertPath", cfg.CACertPath,
			"notAfter", bundle.Leaf.NotAfter,
			"fingerprint", crypto.Fingerprint(bundle.Leaf),
			"rootFingerprint", crypto.Fingerprint(bundle.Root))
		return nil
	},
}
