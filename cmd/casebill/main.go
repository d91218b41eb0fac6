package main

import (
	"os"

	"casefile_billing_go/config"
	"casefile_billing_go/db"

	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var version = "dev"

var (
	noColor bool
	verbose bool
	dbPath  string
)

// loadConfig is replaced in tests to skip the .env lookup
var loadConfig = config.Load

var rootCmd = &cobra.Command{
	Use:           "casebill",
	Short:         "Case file billing pipeline",
	Long:          "Import case file logs, derive billing entries, validate the store and export billing reports.",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database path (overrides DB_PATH)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log SQL statements")

	rootCmd.AddCommand(initCmd, healthCmd, clientCmd, caseCmd, entriesCmd,
		importCmd, validateCmd, reportCmd, archiveCmd, serveCmd, scheduleCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}

// environment loads and checks the configuration and opens the database.
// With migrate set the schema is created first. The returned func closes
// the database.
func environment(migrate bool) (*config.Config, *gorm.DB, func(), error) {
	cfg := loadConfig()
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	// SQL logs go to stdout, where reports are written
	if cfg.DBLogLevel == "" && !verbose {
		cfg.DBLogLevel = "silent"
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, err
	}

	database, err := db.Open(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	closeDB := func() {
		if err := db.Close(database); err != nil {
			printWarning("closing database: %v", err)
		}
	}

	if migrate {
		if err := db.Migrate(database); err != nil {
			closeDB()
			return nil, nil, nil, err
		}
	}
	return cfg, database, closeDB, nil
}
