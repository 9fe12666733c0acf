package main

import (
	"fmt"
	"io"
	"time"

	"github.com/kr/pretty"
	"github.com/spf13/cobra"

	"github.com/margo/trusted-tally/poc/server/bootstrap"
	"github.com/margo/trusted-tally/poc/types"
	"github.com/margo/trusted-tally/shared-lib/certs/pki"
	"github.com/margo/trusted-tally/shared-lib/crypto"
	"github.com/margo/trusted-tally/shared-lib/store"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the bootstrap state derived from the files on disk",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := types.NewConfigManager(configPath).LoadServerConfig()
		if err != nil {
			return err
		}
		in, err := bootstrap.Inspect(bootstrap.ConfigFrom(cfg).Paths)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "state: %s\n", in.State)
		printCertificate(out, "certificate", in.Certificate)
		printCertificate(out, "caCertificate", in.CACertificate)
		_, err = pretty.Fprintf(out, "%# v\n", in)
		return err
	},
}

// printCertificate shows the subject and fingerprint of an installed
// certificate so operators can compare it with the authority's.
func printCertificate(out io.Writer, label string, file bootstrap.FileStatus) {
	if !file.Present {
		return
	}
	data, err := store.Read(file.Path)
	if err != nil {
		fmt.Fprintf(out, "%s: unreadable: %v\n", label, err)
		return
	}
	cert, err := pki.ParseCertificatePEM(data)
	if err != nil {
		fmt.Fprintf(out, "%s: unparsable: %v\n", label, err)
		return
	}
	fmt.Fprintf(out, "%s: %s %s (notAfter %s)\n", label,
		cert.Subject.String(), crypto.Fingerprint(cert), cert.NotAfter.UTC().Format(time.RFC3339))
}
