package main

import (
	"github.com/go-training/login-consent/pkg/config"
	"github.com/go-training/login-consent/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// app carries the settings shared by every command.
type app struct {
	v          *viper.Viper
	configFile string
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.NewViper()}

	cmd := &cobra.Command{
		Use:          "login-consent",
		Short:        "OAuth2 login and consent front-end",
		Version:      Version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			logger.NewWithLevel(a.v.GetString(config.KeyLogLevel))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&a.configFile, "config", "", "Config file (YAML, JSON or TOML)")
	cmd.PersistentFlags().String(config.KeyLogLevel, "",
		"Log level (DEBUG, INFO, WARN, ERROR). Defaults to DEBUG in development, INFO in production")

	cmd.AddCommand(
		newServeCmd(a),
		newMCPCmd(a),
		newImportUsersCmd(a),
		newProofKeyCmd(),
		newHashPasswordCmd(),
	)
	return cmd
}

// load resolves the configuration for the running command.
func (a *app) load() (*config.Config, error) {
	return config.Load(a.v, a.configFile)
}

// addStoreFlags registers the credential store settings on cmd.
func addStoreFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String(config.KeyStore, "memory", "Credential store: memory or redis")
	f.String(config.KeyUserDB, "", "User DB file (YAML or JSON) replacing the built-in users of the memory store")
	f.String(config.KeyRedisAddr, "localhost:6379", "Redis address (only used when store=redis)")
	f.String(config.KeyRedisPassword, "", "Redis password (only used when store=redis)")
	f.Int(config.KeyRedisDB, 0, "Redis database (only used when store=redis)")
	f.Bool(config.KeyRedisNoCache, false, "Disable client side caching for servers without RESP3 tracking")
}

// addUpstreamFlags registers the session directory and code issuer settings on cmd.
func addUpstreamFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String(config.KeySessionAPIKey, "", "API key sent to the session directory")
	f.String(config.KeyOwnSegment, "", "Path segment of this app behind the proxy")
	f.String(config.KeySessionSegment, "", "Path segment of the session directory")
	f.String(config.KeyIssuerSegment, "", "Path segment of the code issuer")
	f.StringSlice(config.KeyAllowedHosts, nil, "External hosts sibling services may be derived from; any when empty")
	f.Duration(config.KeyTimeout, 0, "Timeout of each outbound call")
}
