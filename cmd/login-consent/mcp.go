package main

import (
	"log/slog"
	"os"

	"github.com/go-training/login-consent/pkg/config"
	"github.com/go-training/login-consent/pkg/logger"
	"github.com/go-training/login-consent/pkg/metrics"
	"github.com/go-training/login-consent/pkg/operation"

	"github.com/spf13/cobra"
)

func newMCPCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the operator tools over stdio",
		Long: `Serve the operator tools (lookup_user, inspect_session, contrive_proof_key)
as an MCP server on stdin and stdout.`,
		RunE: func(*cobra.Command, []string) error {
			logger.NewWithWriter(os.Stderr, a.v.GetString(config.KeyLogLevel))

			cfg, err := a.load()
			if err != nil {
				return err
			}
			credStore, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer closeStore(credStore)

			client := newUpstreamClient(cfg, metrics.New())
			slog.Info("Starting operator MCP server on stdio", "version", Version)
			return operation.NewMCPServer(Version, credStore, client).ServeStdio()
		},
	}
	addStoreFlags(cmd)
	addUpstreamFlags(cmd)
	return cmd
}
