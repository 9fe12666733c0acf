package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/kr/pretty"
	"github.com/spf13/cobra"

	"github.com/margo/trusted-tally/poc/server/api"
	"github.com/margo/trusted-tally/poc/server/ballot"
	"github.com/margo/trusted-tally/poc/server/relay"
	"github.com/margo/trusted-tally/shared-lib/crypto"
	tallyhttp "github.com/margo/trusted-tally/shared-lib/http"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Establish trust with the root authority, then serve ballots over HTTPS",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runServe(ctx)
	},
}

func runServe(ctx context.Context) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer log.Sync()
	log.Debugw("Effective configuration", "config", pretty.Sprint(cfg.Redacted()))

	seq, err := newSequencer(cfg, log)
	if err != nil {
		return err
	}
	// no listener without a validated bundle
	bundle, err := seq.Run(ctx)
	if err != nil {
		log.Errorw("Trust bootstrap failed, not serving", "state", seq.State().String(), "error", err)
		return err
	}

	tlsConfig, err := crypto.ServerTLSConfig(bundle, cfg.TLS.ClientAuth)
	if err != nil {
		return err
	}

	scheme, err := ballot.ParseScheme(cfg.Ballot.Modulus, cfg.Ballot.Generator)
	if err != nil {
		return err
	}
	store := ballot.NewStore(scheme, log)

	rl, err := relay.New(cfg.Authority, log)
	if err != nil {
		return err
	}

	server := api.NewServer(bundle, store, rl, api.Config{
		CertificatePath:   cfg.CertPath,
		CACertificatePath: cfg.CACertPath,
		IndexFile:         cfg.IndexFile,
	}, log)
	srv := tallyhttp.NewServer(cfg.ListenAddress, server.Handler(), tlsConfig)

	log.Infow("Secure service starting",
		"address", cfg.ListenAddress,
		"subject", bundle.Leaf.Subject.String(),
		"fingerprint", crypto.Fingerprint(bundle.Leaf),
		"rootFingerprint", crypto.Fingerprint(bundle.Root),
		"clientAuth", cfg.TLS.ClientAuth,
		"modulus", scheme.Modulus.String(),
		"authority", cfg.Authority.URL)
	return tallyhttp.ListenAndServe(ctx, srv, log)
}
