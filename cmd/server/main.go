/*
main.go - Application entry point

PURPOSE:
  Command-line entry point for the debt ledger. Loads configuration, opens
  the store, wires the services and dispatches to a subcommand.

COMMANDS:
  serve      Run the HTTP API with the maintenance scheduler
  seed       Load a demo scenario
  stats      Print dashboard aggregates as JSON
  user add   Create or reactivate an operator

GLOBAL FLAGS:
  --driver   Store driver: sqlite | postgres (env DB_DRIVER)
  --db       SQLite database path, ":memory:" allowed (env DB_PATH)
  --dsn      PostgreSQL connection string (env DATABASE_URL)

  Flags override environment values; .env is read when present.

EXAMPLES:
  debt-ledger serve --port 3000
  debt-ledger seed --scenario small-shop --reset
  debt-ledger user add --phone +998901234567 --name Sardor --role admin
  DB_DRIVER=postgres DATABASE_URL=postgres://... debt-ledger stats

SEE ALSO:
  - serve.go: HTTP server and graceful shutdown
  - config/config.go: Environment keys
*/
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/warp/debt-ledger/auth"
	"github.com/warp/debt-ledger/config"
	"github.com/warp/debt-ledger/ledger"
	"github.com/warp/debt-ledger/logging"
	"github.com/warp/debt-ledger/store/postgres"
	"github.com/warp/debt-ledger/store/sqlite"
	"github.com/warp/debt-ledger/store/sqlstore"
)

var rootCmd = &cobra.Command{
	Use:           "debt-ledger",
	Short:         "Customer debt ledger: customers, debts, payments",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().String("driver", "", "store driver: sqlite or postgres")
	rootCmd.PersistentFlags().String("db", "", "SQLite database path")
	rootCmd.PersistentFlags().String("dsn", "", "PostgreSQL connection string")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// =============================================================================
// APPLICATION WIRING
// =============================================================================

// app holds everything a subcommand needs.
type app struct {
	cfg    config.Config
	log    *logrus.Logger
	store  *sqlstore.Store
	ledger *ledger.Service
	auth   *auth.Service
}

// loadConfig reads the environment and applies the global flag overrides.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	flags := cmd.Flags()
	return config.Load(func(cfg *config.Config) {
		if v, _ := flags.GetString("driver"); v != "" {
			cfg.DBDriver = v
		}
		if v, _ := flags.GetString("db"); v != "" {
			cfg.DBPath = v
		}
		if v, _ := flags.GetString("dsn"); v != "" {
			cfg.DatabaseURL = v
		}
		if flags.Lookup("port") != nil && flags.Changed("port") {
			cfg.HTTPPort, _ = flags.GetInt("port")
		}
	})
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, fmt.Errorf("configuration: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}

	store, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	logger.WithField("driver", store.Driver()).Debug("store opened")

	return &app{
		cfg:    cfg,
		log:    logger,
		store:  store,
		ledger: ledger.NewService(store, logger),
		auth:   auth.NewService(store, logger, cfg.SessionTTL),
	}, nil
}

func openStore(ctx context.Context, cfg config.Config) (*sqlstore.Store, error) {
	switch cfg.DBDriver {
	case config.DriverPostgres:
		return postgres.New(ctx, cfg.DatabaseURL)
	default:
		return sqlite.New(cfg.DBPath)
	}
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.log.WithError(err).Warn("failed to close store")
	}
}
