package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gatherapp/gather/internal/config"
	"github.com/gatherapp/gather/internal/spool"
	gsync "github.com/gatherapp/gather/internal/sync"
	"github.com/gatherapp/gather/internal/ui"
	"github.com/spf13/cobra"
)

var spoolCmd = &cobra.Command{
	Use:     "spool",
	GroupID: "sync",
	Short:   "Carry events between instances as files",
	Long: `Move events between instances without a peer link.

A spool file holds one mutation message per line, the same messages a peer
session carries. Export a group on one machine, copy the file, and import it
(or drop it into the other instance's inbox) on the other.

Importing is not idempotent: importing the same file twice adds every event
twice.`,
}

var spoolExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write a group's events to a spool file",
	Run: func(cmd *cobra.Command, args []string) {
		groupID, _ := cmd.Flags().GetInt64("group")
		out, _ := cmd.Flags().GetString("output")
		if groupID <= 0 {
			fmt.Fprintf(os.Stderr, "Error: --group is required\n")
			os.Exit(1)
		}

		database := openStore()
		defer database.Close()

		ctx := context.Background()
		if out == "" || out == "-" {
			if _, err := spool.Export(ctx, os.Stdout, database, groupID); err != nil {
				reportStoreError("exporting", groupID, err)
				os.Exit(1)
			}
			return
		}

		n, err := spool.ExportFile(ctx, out, database, groupID)
		if err != nil {
			reportStoreError("exporting", groupID, err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "%s Exported %d events to %s\n", ui.RenderPass("✓"), n, out)
	},
}

var spoolImportCmd = &cobra.Command{
	Use:   "import <file>...",
	Short: "Apply spool files to the local store",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		database := openStore()
		defer database.Close()

		coord := gsync.New(database, logger)
		defer coord.Close()

		failed := false
		for _, path := range args {
			res, err := spool.ImportFile(context.Background(), path, coord)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error importing %s: %v\n", path, err)
				failed = true
				continue
			}

			mark := ui.RenderPass("✓")
			if !res.Clean() {
				mark = ui.RenderWarn("⚠")
				failed = true
			}
			fmt.Printf("%s %s: %d applied, %d rejected\n", mark, path, res.Applied, res.Rejected)
			for _, msg := range res.Errors {
				fmt.Printf("   %s\n", ui.RenderMuted(msg))
			}
		}
		if failed {
			os.Exit(1)
		}
	},
}

var spoolWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Apply spool files as they appear in the inbox",
	Long: `Watch the inbox directory and apply every *.json or *.jsonl file dropped
into it. Applied files move to processed/, files with rejected lines to
rejected/.`,
	Run: func(cmd *cobra.Command, args []string) {
		database := openStore()
		defer database.Close()

		coord := gsync.New(database, logger)
		defer coord.Close()

		w, err := spool.NewWatcher(spool.Config{
			Inbox:    cfg.Spool.Inbox,
			Debounce: cfg.Spool.Debounce,
			Logger:   logger,
		}, coord)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if err := w.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error starting watcher: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Watching %s\n", ui.RenderAccent("👀"), cfg.Spool.Inbox)
		fmt.Println("Press Ctrl+C to stop...")

		for {
			select {
			case <-ctx.Done():
				if err := w.Stop(); err != nil {
					fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
					os.Exit(1)
				}
				return
			case r := <-w.Results():
				printFileResult(r)
			}
		}
	},
}

func printFileResult(r spool.FileResult) {
	if r.Err != nil {
		fmt.Printf("%s %s: %v\n", ui.RenderFail("✗"), r.Path, r.Err)
		return
	}
	mark := ui.RenderPass("✓")
	if !r.Result.Clean() {
		mark = ui.RenderWarn("⚠")
	}
	fmt.Printf("%s %s: %d applied, %d rejected -> %s\n", mark, r.Path, r.Result.Applied, r.Result.Rejected, r.MovedTo)
}

func init() {
	spoolExportCmd.Flags().Int64P("group", "g", 0, "group id")
	spoolExportCmd.Flags().StringP("output", "o", "", "output file (default: stdout)")

	spoolWatchCmd.Flags().String("inbox", "", "inbox directory, relative to home (default: inbox)")
	bindLocalFlag(spoolWatchCmd, config.KeySpoolInbox, "inbox")

	spoolCmd.AddCommand(spoolExportCmd, spoolImportCmd, spoolWatchCmd)
	rootCmd.AddCommand(spoolCmd)
}
