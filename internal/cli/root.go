// Package cli wires configuration, storage and services into the
// marketplace command tree.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/Skotchmaster/marketplace/internal/config"
)

// RootOptions holds global flags. Empty values fall back to the environment.
type RootOptions struct {
	LogLevel    string
	DBDriver    string
	DatabaseURL string
}

// config loads the environment and applies flag overrides.
func (o *RootOptions) config() config.Config {
	cfg := config.Load()
	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}
	if o.DBDriver != "" {
		cfg.DBDriver = o.DBDriver
	}
	if o.DatabaseURL != "" {
		cfg.DatabaseURL = o.DatabaseURL
	}
	return cfg
}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "marketplace",
		Short: "Multi-vendor marketplace backend",
		Long: `Marketplace serves the catalog, cart and order HTTP API and
carries the maintenance commands used to operate it.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (debug|info|warn|error), default $LOG_LEVEL")
	cmd.PersistentFlags().StringVar(&opts.DBDriver, "db-driver", "", "database driver (postgres|pq|sqlite), default $DB_DRIVER")
	cmd.PersistentFlags().StringVar(&opts.DatabaseURL, "database-url", "", "database DSN, default $DATABASE_URL")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewBootstrapAdminCommand(opts))
	cmd.AddCommand(NewPurgeOrdersCommand(opts))
	cmd.AddCommand(NewSeedCommand(opts))

	return cmd
}
