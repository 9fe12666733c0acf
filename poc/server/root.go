package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/margo/trusted-tally/poc/server/bootstrap"
	"github.com/margo/trusted-tally/poc/types"
	"github.com/margo/trusted-tally/shared-lib/certs/pki"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "server",
	Short:         "Secure ballot service for the trusted tally deployment",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the server config file (YAML)")
}

func loadConfig() (*types.ServerConfig, *zap.SugaredLogger, error) {
	cfg, err := types.NewConfigManager(configPath).LoadServerConfig()
	if err != nil {
		return nil, nil, err
	}
	log, err := types.NewLogger(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func newSequencer(cfg *types.ServerConfig, log *zap.SugaredLogger) (*bootstrap.Sequencer, error) {
	channel, err := bootstrap.NewHTTPSigningClient(cfg.CA, log)
	if err != nil {
		return nil, err
	}
	toolchain := pki.NewX509Toolchain(cfg.Key.Spec())
	return bootstrap.NewSequencer(bootstrap.ConfigFrom(cfg), toolchain, channel, log), nil
}
