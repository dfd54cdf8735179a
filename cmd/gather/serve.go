package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gatherapp/gather/internal/config"
	"github.com/gatherapp/gather/internal/notify"
	"github.com/gatherapp/gather/internal/ui"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "sync",
	Short:   "Run an instance that syncs events with a peer",
	Long: `Start listening for a peer, register with the rendezvous server and
open an interactive prompt.

Every event added at the prompt is stored locally and sent to the connected
peer. Events the peer sends are stored as they arrive. When no peer is
connected, new events are stored but not sent.

Spool files dropped into the inbox directory are applied as if the peer had
sent them.

Examples:
  gather rendezvous &                                   # once
  gather serve --rendezvous http://127.0.0.1:7400       # terminal A
  gather serve --rendezvous http://127.0.0.1:7400 --connect <A's id>`,
	Run: func(cmd *cobra.Command, args []string) {
		owner, _ := cmd.Flags().GetString("owner")
		connectTo, _ := cmd.Flags().GetString("connect")
		noPrompt, _ := cmd.Flags().GetBool("no-prompt")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a, err := startApp(ctx, owner)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer a.close()

		if err := a.startInbox(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: spool inbox disabled: %v\n", err)
		}

		fmt.Printf("%s Listening for peers\n", ui.RenderPass("✓"))
		fmt.Println(ui.Field("   Your id", ui.RenderAccent(a.localID)))
		fmt.Println(ui.Field("   Peer address", a.node.Addr()))
		if cfg.Feed.Listen != "" {
			fmt.Println(ui.Field("   Notice feed", "ws://"+a.feed.Addr()+"/ws"))
			fmt.Println(ui.Field("   Metrics", "http://"+a.feed.Addr()+"/metrics"))
		}
		if a.watcher != nil {
			fmt.Println(ui.Field("   Spool inbox", cfg.Spool.Inbox))
		}
		fmt.Println()

		notices, unsubscribe := a.feed.Subscribe(32)
		defer unsubscribe()
		go echoNotices(notices)

		if connectTo != "" {
			if err := a.Connect(ctx, connectTo); err != nil {
				fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderFail("Connect failed:"), err)
			}
		}

		if noPrompt {
			fmt.Println("Press Ctrl+C to stop...")
			<-ctx.Done()
		} else {
			fmt.Println(ui.RenderMuted("Type 'help' for commands."))
			done := make(chan struct{})
			go func() {
				defer close(done)
				runREPL(ctx, a, bufio.NewScanner(os.Stdin))
			}()
			// A blocked stdin read does not notice the signal.
			select {
			case <-done:
			case <-ctx.Done():
			}
		}

		fmt.Println("Shutting down...")
	},
}

// echoNotices prints notices the user did not cause directly at the prompt.
func echoNotices(notices <-chan notify.Notice) {
	for n := range notices {
		if !echoed(n) {
			continue
		}
		printlnFn(ui.RenderMuted("» ") + notify.Describe(n))
	}
}

func echoed(n notify.Notice) bool {
	switch n.Type {
	case notify.NoticeTypeGroupCreated, notify.NoticeTypeMutationDropped:
		return false
	case notify.NoticeTypeEventAdded:
		var d notify.EventData
		return json.Unmarshal(n.Data, &d) == nil && d.Origin == notify.OriginRemote
	default:
		return true
	}
}

func init() {
	serveCmd.Flags().String("owner", defaultUser(), "user recorded as owner of groups created at the prompt")
	serveCmd.Flags().String("connect", "", "peer id to connect to on startup")
	serveCmd.Flags().Bool("no-prompt", false, "run without the interactive prompt")
	serveCmd.Flags().String("listen", "127.0.0.1:0", "address to accept peers on")
	serveCmd.Flags().String("advertise", "", "host:port published to the rendezvous server")
	serveCmd.Flags().String("rendezvous", "", "rendezvous server URL")
	serveCmd.Flags().String("feed", "", "notice feed and metrics address (empty disables)")

	bindLocalFlag(serveCmd, config.KeyPeerListen, "listen")
	bindLocalFlag(serveCmd, config.KeyPeerAdvertise, "advertise")
	bindLocalFlag(serveCmd, config.KeyRendezvousURL, "rendezvous")
	bindLocalFlag(serveCmd, config.KeyFeedListen, "feed")

	rootCmd.AddCommand(serveCmd)
}
