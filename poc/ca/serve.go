package main

import (
	"context"
	"crypto/tls"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/margo/trusted-tally/poc/ca/api"
	"github.com/margo/trusted-tally/shared-lib/auth"
	"github.com/margo/trusted-tally/shared-lib/crypto"
	tallyhttp "github.com/margo/trusted-tally/shared-lib/http"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the signing channel",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runServe(ctx)
	},
}

func runServe(ctx context.Context) error {
	cfg, ca, log, err := setup(ctx)
	if err != nil {
		return err
	}
	defer log.Sync()

	rootPEM, err := ca.RootCertificatePEM()
	if err != nil {
		return err
	}
	authorizer, err := auth.New(cfg.Auth, rootPEM)
	if err != nil {
		return err
	}
	if authorizer.Type() == auth.NoAuth {
		log.Warnw("Signing endpoint accepts any certificate request (trust on first use)",
			"hint", "set auth.mode to token, signature or clientCert")
	}

	var tlsConfig *tls.Config
	if cfg.TLS.Enabled {
		bundle, err := ca.ServingBundle(ctx, cfg.TLS.KeyPath, cfg.TLS.CertPath, cfg.TLS.Subject)
		if err != nil {
			return err
		}
		clientAuth := crypto.ClientAuthNone
		if authorizer.Type() == auth.ClientCertAuth {
			clientAuth = crypto.ClientAuthRequest
		}
		if tlsConfig, err = crypto.ServerTLSConfig(bundle, clientAuth); err != nil {
			return err
		}
	} else if authorizer.Type() == auth.ClientCertAuth {
		log.Warnw("clientCert authorization needs tls.enabled; every signing request will be refused")
	}

	server := api.NewServer(ca, authorizer, api.Config{MaxRequestBytes: cfg.MaxRequestBytes}, log)
	srv := tallyhttp.NewServer(cfg.ListenAddress, server.Handler(), tlsConfig)

	log.Infow("Root authority starting",
		"address", cfg.ListenAddress,
		"tls", cfg.TLS.Enabled,
		"authorization", authorizer.Type())
	return tallyhttp.ListenAndServe(ctx, srv, log)
}
