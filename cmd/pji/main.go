package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/MarwaAbuEssa/pg-json-import/internal/pipeline"
	"github.com/MarwaAbuEssa/pg-json-import/pkg/config"
	"github.com/MarwaAbuEssa/pg-json-import/pkg/logger"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load() // Ignore error if .env doesn't exist

	root := &cobra.Command{
		Use:   "pji",
		Short: "pji - Import data from a JSON file into a PG table",
		Long: `pji loads a keyed JSON document, flattens it into relational rows,
repairs foreign keys against already-imported reference tables, and inserts
the rows into one PostgreSQL table inside a single transaction.

Examples:
  pji import --file filename.json -c postgresql://localhost:5432/mydb -t tablename -k id
  pji import --file filename.json -c $DATABASE_URL -t classes -k class_id -n $.data.classes
  pji import --config import.yaml`,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("pji v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(newImportCommand())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newImportCommand() *cobra.Command {
	var (
		configFile string
		dumpConfig string
		fields     string
		dbFields   string
		logLevel   string
		devLog     bool
	)
	cfg := config.NewImportConfig()

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Run one import into a PostgreSQL table",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			if configFile != "" {
				flagged := *cfg
				if err := config.Load(configFile, cfg); err != nil {
					return err
				}
				applyFlagOverrides(cmd, cfg, &flagged)
			}
			if fields != "" {
				cfg.Columns = splitFields(fields)
			}
			if dbFields != "" {
				cfg.DestColumns = splitFields(dbFields)
			}

			if dumpConfig != "" {
				if err := config.Save(dumpConfig, cfg); err != nil {
					return err
				}
				fmt.Printf("import config written to %s\n", dumpConfig)
				return nil
			}

			if err := logger.Init(logger.Config{
				Level:       logLevel,
				Development: devLog,
				Encoding:    encodingFor(devLog),
			}); err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			result, err := pipeline.Run(context.Background(), cfg)
			if err != nil {
				logger.With(zap.String("table", cfg.Table)).
					Error("import failed, all changes were reverted", zap.Error(err))
				fmt.Fprintf(os.Stderr, "There was an error importing into %s. The transaction was reversed. Details:\n\n%v\n", cfg.Table, err)
				os.Exit(1)
			}

			fmt.Printf("%d rows imported into the '%s' table.\n", result.RowsCommitted, result.Table)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configFile, "config", "", "YAML config file (flags override file values)")
	flags.StringVar(&dumpConfig, "dump-config", "", "write the merged config to this YAML file and exit without importing")
	flags.StringVarP(&cfg.File, "file", "f", "", "JSON file to import")
	flags.StringVarP(&cfg.Connection, "connection", "c", "", "PostgreSQL connection string")
	flags.StringVarP(&cfg.Table, "table", "t", "", "destination table name")
	flags.StringVarP(&cfg.KeyColumn, "key", "k", "", "primary-key column filled from each entry's JSON key")
	flags.StringVarP(&cfg.Node, "node", "n", "", "JSON root node path (default: document root)")
	flags.StringVar(&cfg.RelatedTable, "related-table", "", "nested child-collection field / reference table name")
	flags.StringVar(&cfg.ForeignKeyColumn, "foreign-key", "", "synthetic foreign-key column filled from each child's JSON key")
	flags.StringVar(&fields, "fields", "", "comma-separated list of output columns")
	flags.StringVar(&dbFields, "database-fields", "", "comma-separated destination column names, positional")
	flags.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	flags.BoolVar(&devLog, "dev", false, "human-readable console logging")

	return cmd
}

// applyFlagOverrides restores values set explicitly on the command line,
// so flags win over the config file.
func applyFlagOverrides(cmd *cobra.Command, cfg, flagged *config.ImportConfig) {
	overrides := map[string]func(){
		"file":          func() { cfg.File = flagged.File },
		"connection":    func() { cfg.Connection = flagged.Connection },
		"table":         func() { cfg.Table = flagged.Table },
		"key":           func() { cfg.KeyColumn = flagged.KeyColumn },
		"node":          func() { cfg.Node = flagged.Node },
		"related-table": func() { cfg.RelatedTable = flagged.RelatedTable },
		"foreign-key":   func() { cfg.ForeignKeyColumn = flagged.ForeignKeyColumn },
	}
	for name, apply := range overrides {
		if cmd.Flags().Changed(name) {
			apply()
		}
	}
}

func splitFields(s string) []string {
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func encodingFor(dev bool) string {
	if dev {
		return "console"
	}
	return "json"
}
