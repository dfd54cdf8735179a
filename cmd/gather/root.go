package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/gatherapp/gather/internal/account"
	"github.com/gatherapp/gather/internal/config"
	"github.com/gatherapp/gather/internal/logging"
	"github.com/gatherapp/gather/internal/organizer"
	"github.com/gatherapp/gather/internal/store/db"
	"github.com/spf13/cobra"
)

var (
	settings  = config.New()
	cfg       *config.Config
	logger    *slog.Logger
	logCloser io.Closer

	configFile string
)

var rootCmd = &cobra.Command{
	Use:   "gather",
	Short: "Organize group events and sync them with a peer",
	Long: `gather keeps groups, members and events in a local SQLite store and
forwards every new event to one connected peer over a websocket link.

Peers find each other through a rendezvous server ("gather rendezvous").
Run "gather serve" on each side, then connect one to the other by id.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if err := config.LoadDotEnv(); err != nil {
			fmt.Fprintf(os.Stderr, "Error loading .env: %v\n", err)
			os.Exit(1)
		}

		loaded, err := config.Load(settings, configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded

		if err := os.MkdirAll(cfg.Home, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "Error creating %s: %v\n", cfg.Home, err)
			os.Exit(1)
		}

		l, closer, err := logging.Setup(logging.Options{
			Level: cfg.Log.Level,
			File:  cfg.Log.File,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error setting up logging: %v\n", err)
			os.Exit(1)
		}
		logger, logCloser = l, closer
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			_ = logCloser.Close()
		}
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "data", Title: "Groups and events:"},
		&cobra.Group{ID: "sync", Title: "Peer sync:"},
		&cobra.Group{ID: "setup", Title: "Setup:"},
	)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "config file (default: $GATHER_HOME/gather.toml)")
	flags.String("home", config.DefaultHome(), "directory holding the database and accounts")
	flags.String("db", "", "database path (default: <home>/gather.db)")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("log-file", "", "also write JSON logs to this file")

	bindFlag(config.KeyHome, "home")
	bindFlag(config.KeyDBPath, "db")
	bindFlag(config.KeyLogLevel, "log-level")
	bindFlag(config.KeyLogFile, "log-file")
}

// bindFlag lets a persistent flag override key, but only when set.
func bindFlag(key, flag string) {
	if err := settings.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(fmt.Sprintf("bind %s: %v", flag, err))
	}
}

// bindLocalFlag binds a command's own flag to key.
func bindLocalFlag(cmd *cobra.Command, key, flag string) {
	if err := settings.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
		panic(fmt.Sprintf("bind %s: %v", flag, err))
	}
}

// openStore opens the configured database and applies the schema.
// It exits the process on failure.
func openStore() *db.DB {
	database, err := db.Open(cfg.DB.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	if err := database.InitSchema(); err != nil {
		database.Close()
		fmt.Fprintf(os.Stderr, "Error initializing schema: %v\n", err)
		os.Exit(1)
	}
	return database
}

// newOrganizer builds an offline organizer over database. Events added
// through it are stored but never synced.
func newOrganizer(database *db.DB) *organizer.Service {
	return organizer.New(database, logger,
		organizer.WithAccounts(account.NewFileStore(cfg.Accounts.Path)),
	)
}

// defaultUser is the owner recorded for groups created without --owner.
func defaultUser() string {
	if u := os.Getenv("GATHER_USER"); u != "" {
		return u
	}
	return os.Getenv("USER")
}
