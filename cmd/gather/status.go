package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gatherapp/gather/internal/config"
	"github.com/gatherapp/gather/internal/rendezvous"
	"github.com/gatherapp/gather/internal/ui"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "setup",
	Short:   "Show configuration and store status",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(ui.RenderHeader("gather status"))
		fmt.Println(ui.Field("   Home", cfg.Home))

		info, err := os.Stat(cfg.DB.Path)
		switch {
		case os.IsNotExist(err):
			fmt.Println(ui.Field("   Database", cfg.DB.Path+" "+ui.RenderWarn("(not created yet)")))
		case err != nil:
			fmt.Fprintf(os.Stderr, "Error reading database: %v\n", err)
			os.Exit(1)
		default:
			database := openStore()
			defer database.Close()

			groups, gerr := database.GetGroupCount()
			events, eerr := database.GetEventCount()
			if gerr != nil || eerr != nil {
				fmt.Fprintf(os.Stderr, "Error reading database: %v\n", firstErr(gerr, eerr))
				os.Exit(1)
			}
			fmt.Println(ui.Field("   Database", fmt.Sprintf("%s (%.1f KB)", cfg.DB.Path, float64(info.Size())/1024)))
			fmt.Println(ui.Field("   Groups", groups))
			fmt.Println(ui.Field("   Events", events))
		}

		fmt.Println(ui.Field("   Accounts", cfg.Accounts.Path))
		fmt.Println(ui.Field("   Spool inbox", cfg.Spool.Inbox))

		if cfg.Rendezvous.URL == "" {
			fmt.Println(ui.Field("   Rendezvous", ui.RenderWarn("not configured (in-process only)")))
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := rendezvous.NewClient(cfg.Rendezvous.URL).Health(ctx); err != nil {
			fmt.Println(ui.Field("   Rendezvous", cfg.Rendezvous.URL+" "+ui.RenderFail("unreachable")))
			return
		}
		fmt.Println(ui.Field("   Rendezvous", cfg.Rendezvous.URL+" "+ui.RenderPass("ok")))
	},
}

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "setup",
	Short:   "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a config file with the default values",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		force, _ := cmd.Flags().GetBool("force")

		path := filepath.Join(cfg.Home, config.FileName)
		if len(args) == 1 {
			path = args[0]
		}

		if err := config.WriteDefault(path, force); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s Wrote %s\n", ui.RenderPass("✓"), path)
	},
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func init() {
	configInitCmd.Flags().BoolP("force", "f", false, "overwrite an existing file")

	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(statusCmd, configCmd)
}
