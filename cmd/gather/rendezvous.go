package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gatherapp/gather/internal/config"
	"github.com/gatherapp/gather/internal/rendezvous"
	"github.com/gatherapp/gather/internal/ui"
	"github.com/spf13/cobra"
)

var rendezvousCmd = &cobra.Command{
	Use:     "rendezvous",
	GroupID: "sync",
	Short:   "Run the rendezvous server peers use to find each other",
	Long: `Start the rendezvous server.

Each "gather serve" registers its peer address here and receives an id.
Connecting to a peer looks its id up here. The registry is in memory and
starts empty.

Endpoints:
  POST   /peers        register {"url": "ws://host:port/peer"} -> {"id": ...}
  GET    /peers/{id}   resolve an id
  DELETE /peers/{id}   unregister
  GET    /health       health check`,
	Run: func(cmd *cobra.Command, args []string) {
		server := rendezvous.NewServer(&rendezvous.Config{
			Addr:   cfg.Rendezvous.Listen,
			Logger: logger,
		})

		if err := server.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to start rendezvous server: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Rendezvous server started on %s\n", ui.RenderPass("✓"), ui.RenderAccent(server.URL()))
		fmt.Printf("Peers use: gather serve --rendezvous %s\n", server.URL())
		fmt.Println("\nPress Ctrl+C to stop...")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		<-ctx.Done()

		fmt.Println("\nShutting down rendezvous server...")
		if err := server.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rendezvousCmd.Flags().String("listen", "127.0.0.1:7400", "address to listen on")
	bindLocalFlag(rendezvousCmd, config.KeyRendezvousListen, "listen")

	rootCmd.AddCommand(rendezvousCmd)
}
