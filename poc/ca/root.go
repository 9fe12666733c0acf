package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/margo/trusted-tally/poc/ca/authority"
	"github.com/margo/trusted-tally/poc/types"
	"github.com/margo/trusted-tally/shared-lib/certs/pki"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "ca",
	Short:         "Root certificate authority for the trusted tally deployment",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the authority config file (YAML)")
}

// setup loads config, builds the logger and makes sure the root identity
// exists. Every subcommand starts here.
func setup(ctx context.Context) (*types.CAConfig, *authority.Authority, *zap.SugaredLogger, error) {
	cfg, err := types.NewConfigManager(configPath).LoadCAConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	log, err := types.NewLogger(cfg.Log)
	if err != nil {
		return nil, nil, nil, err
	}

	ca := authority.New(authority.ConfigFrom(cfg), pki.NewX509Toolchain(cfg.Key.Spec()), log)
	if err := ca.EnsureRootIdentity(ctx); err != nil {
		log.Errorw("Root identity unavailable", "error", err)
		return nil, nil, nil, fmt.Errorf("root identity: %w", err)
	}
	return cfg, ca, log, nil
}
