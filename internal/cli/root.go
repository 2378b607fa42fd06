// Package cli wires curio's commands.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/bryan-buckman/curio/internal/config"
	"github.com/bryan-buckman/curio/internal/database"
	"github.com/bryan-buckman/curio/internal/logging"
)

var (
	cfgFile string
	verbose bool
	cfg     config.Config
	cfgErr  error
	log     = logging.Nop()
)

var rootCmd = &cobra.Command{
	Use:   "curio",
	Short: "Curio: a content index for summarized media",
	Long: `Curio stores ingested items with their versioned summaries and serves
filtered, faceted, paginated queries over them.

Commands:
  serve     Start the HTTP API
  ingest    Ingest payloads from a file or stdin
  search    Query the index
  facets    Count facet values for a filter
  delete    Delete items by id
  channels  Manage channel feed subscriptions
  poll      Fetch every subscribed channel once`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return cfgErr
	},
}

// Execute runs the root command.
func Execute() error {
	defer func() { log.Sync() }()
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig, initLogger)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config/curio.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

func initConfig() {
	cfg, cfgErr = config.Load(cfgFile)
	if cfgErr != nil {
		cfg = config.Defaults()
	}
}

func initLogger() {
	level := cfg.Log.Level
	if verbose {
		level = "debug"
	}
	l, err := logging.New(cfg.Log.Mode, level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		return
	}
	log = l
}

// openStore opens the configured backend.
func openStore() (database.Store, error) {
	opts := cfg.StoreOptions()
	opts.Logger = log
	if cfg.IsPostgres() {
		log.Info("Using PostgreSQL database", "dsn", cfg.Database.DSN)
		db, err := database.NewPostgres(cfg.Database.DSN, opts)
		if err != nil {
			return nil, err
		}
		return db, nil
	}
	log.Info("Using SQLite database", "path", cfg.Database.Path)
	db, err := database.New(cfg.Database.Path, opts)
	if err != nil {
		return nil, err
	}
	return db, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
