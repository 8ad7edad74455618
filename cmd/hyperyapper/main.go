package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"hyperyapper/internal/api"
	"hyperyapper/internal/auth"
	"hyperyapper/internal/config"
	"hyperyapper/internal/database"
	"hyperyapper/internal/events"
	"hyperyapper/internal/logging"
	"hyperyapper/internal/media"
	"hyperyapper/internal/orchestrator"
	"hyperyapper/internal/poster"
	"hyperyapper/internal/replies"
	"hyperyapper/internal/store"
	"hyperyapper/internal/web"
)

func main() {
	cfg := config.LoadConfig()
	logging.SetDebug(cfg.Debug)
	logging.Info("Starting HyperYapper...")

	db, err := database.NewDB(cfg.DatabasePath)
	if err != nil {
		logging.Fatal("Failed to initialize database: %v", err)
	}
	defer db.Close()

	sessionStore := store.NewSessionStore(db)
	replyCache := store.NewReplyCache(db)
	emojiHistory := store.NewEmojiHistory(db)
	notifications := store.NewNotifications(db)
	sessionChanges := events.NewBroadcaster()

	mastodonClient := api.NewMastodonClient()
	threadsClient := api.NewThreadsClient(cfg.MetaAppID, cfg.MetaAppSecret)
	blueskyClient := api.NewBlueskyClient(cfg.BlueskyHost, db)

	// The nil check keeps a typed nil out of the interface value.
	var threadsObjects poster.ObjectStore
	if objectStore := media.NewObjectStore(cfg); objectStore != nil {
		threadsObjects = objectStore
	}

	mastodonAuth := auth.NewMastodonAuth(mastodonClient, sessionStore, sessionChanges, cfg.BaseURL)
	threadsAuth := auth.NewThreadsAuth(threadsClient, sessionStore, sessionChanges, cfg.BaseURL)
	blueskyAuth := auth.NewBlueskyAuth(blueskyClient, sessionStore, sessionChanges)

	posters := []poster.Poster{
		poster.NewMastodonPoster(mastodonClient),
		poster.NewThreadsPoster(threadsClient, threadsObjects, cfg.ThreadsPublishDelay),
		poster.NewBlueskyPoster(blueskyClient),
	}
	orch := orchestrator.New(sessionStore, posters...)

	fetcher := replies.NewFetcher(mastodonClient, threadsClient, blueskyClient, sessionStore, replyCache)
	poller := replies.NewPoller(fetcher, notifications)

	sessionChanges.Subscribe(func() {
		connected, err := sessionStore.ConnectedPlatforms()
		if err != nil {
			logging.Warn("Could not list connected platforms: %v", err)
			return
		}
		logging.Info("Session change, connected platforms: %v", connected)
	})

	handler := web.NewHandler(cfg, web.HandlerDeps{
		Sessions:      sessionStore,
		Emojis:        emojiHistory,
		Notifications: notifications,
		ReplyCache:    replyCache,
		Orchestrator:  orch,
		MastodonAuth:  mastodonAuth,
		ThreadsAuth:   threadsAuth,
		BlueskyAuth:   blueskyAuth,
		Replies:       fetcher,
		Posters:       posters,
	})
	server := web.NewServer(cfg, handler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go poller.Run(ctx)
	server.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info("Shutdown signal received...")
	cancel()
	if err := server.Stop(context.Background()); err != nil {
		logging.Error("Server shutdown failed: %v", err)
	}
	logging.Info("HyperYapper stopped.")
}
