package main

import (
	"context"
	"fmt"

	"github.com/gatherapp/gather/internal/account"
	"github.com/gatherapp/gather/internal/metrics"
	"github.com/gatherapp/gather/internal/notify"
	"github.com/gatherapp/gather/internal/organizer"
	"github.com/gatherapp/gather/internal/peer"
	"github.com/gatherapp/gather/internal/rendezvous"
	"github.com/gatherapp/gather/internal/spool"
	"github.com/gatherapp/gather/internal/store/db"
	gsync "github.com/gatherapp/gather/internal/sync"
)

// app is a running instance: store, peer node, coordinator, notice feed
// and spool inbox wired together.
type app struct {
	owner string

	store    *db.DB
	node     *peer.Node
	coord    *gsync.Coordinator
	org      *organizer.Service
	feed     *notify.Server
	notices  *notify.Handler
	metrics  *metrics.Metrics
	watcher  *spool.Watcher
	localID  string
	resolver peer.Resolver
}

// startApp opens the store and brings up networking. The caller must
// call close.
func startApp(ctx context.Context, owner string) (*app, error) {
	a := &app{owner: owner}

	a.store = openStore()
	a.metrics = metrics.New()

	a.feed = notify.NewServer(&notify.Config{
		Addr:    cfg.Feed.Listen,
		Metrics: a.metrics.Handler(),
		Logger:  logger,
	})
	a.notices = notify.NewHandler(a.feed, logger)
	if cfg.Feed.Listen != "" {
		if err := a.feed.Start(); err != nil {
			a.close()
			return nil, fmt.Errorf("failed to start notice feed: %w", err)
		}
	}

	a.coord = gsync.New(a.store, logger,
		gsync.WithNotifier(a.metrics),
		gsync.WithNotifier(a.notices),
	)

	a.resolver = newResolver()
	node, err := peer.NewNode(peer.Config{
		ListenAddr:    cfg.Peer.Listen,
		AdvertiseAddr: cfg.Peer.Advertise,
		DialTimeout:   cfg.Peer.DialTimeout,
		Logger:        logger,
	}, a.resolver)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to create peer node: %w", err)
	}
	a.node = node
	a.node.OnIncoming(func(s *peer.Session) {
		a.coord.Attach(s)
	})

	a.localID, err = a.node.Listen(ctx)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to listen for peers: %w", err)
	}

	a.org = organizer.New(a.store, logger,
		organizer.WithSyncer(a.coord),
		organizer.WithDialer(a.node),
		organizer.WithAccounts(account.NewFileStore(cfg.Accounts.Path)),
		organizer.WithObserver(a.notices),
	)
	return a, nil
}

// startInbox applies spool files dropped into the configured inbox.
func (a *app) startInbox(ctx context.Context) error {
	w, err := spool.NewWatcher(spool.Config{
		Inbox:    cfg.Spool.Inbox,
		Debounce: cfg.Spool.Debounce,
		Logger:   logger,
	}, a.coord)
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	a.watcher = w
	return nil
}

func (a *app) close() {
	if a.watcher != nil {
		if err := a.watcher.Stop(); err != nil {
			logger.Warn("failed to stop inbox watcher", "error", err)
		}
	}
	if a.coord != nil {
		a.coord.Close()
	}
	if a.node != nil {
		if err := a.node.Close(); err != nil {
			logger.Warn("failed to close peer node", "error", err)
		}
	}
	if a.feed != nil {
		if err := a.feed.Stop(); err != nil {
			logger.Warn("failed to stop notice feed", "error", err)
		}
	}
	if a.store != nil {
		_ = a.store.Close()
	}
}

// newResolver returns the rendezvous client for rendezvous.url. Without a
// URL peers can only find each other inside this process.
func newResolver() peer.Resolver {
	if cfg.Rendezvous.URL == "" {
		logger.Warn("rendezvous.url not set, using an in-process registry")
		return rendezvous.NewLocal(rendezvous.NewRegistry())
	}
	return rendezvous.NewClient(cfg.Rendezvous.URL)
}
