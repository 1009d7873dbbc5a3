// Package cmd wires configuration, storage, scheduling, and the HTTP server
// into a running relay service.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"github.com/relay-for-me/AccountRelayAPI/internal/account"
	"github.com/relay-for-me/AccountRelayAPI/internal/api"
	"github.com/relay-for-me/AccountRelayAPI/internal/config"
	"github.com/relay-for-me/AccountRelayAPI/internal/relay"
	"github.com/relay-for-me/AccountRelayAPI/internal/scheduler"
	"github.com/relay-for-me/AccountRelayAPI/internal/store"
	"github.com/relay-for-me/AccountRelayAPI/internal/watcher"
)

// shutdownTimeout bounds the drain window for in-flight requests.
const shutdownTimeout = 30 * time.Second

// StartService boots the relay: database, account registry, scheduler, HTTP
// server, config watcher, and the periodic cooldown/session sweep. It blocks
// until SIGINT or SIGTERM, then shuts the pieces down in reverse order.
func StartService(cfg *config.Config, configPath string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Open(ctx, cfg.Server.DatabasePath)
	if err != nil {
		log.Fatalf("failed to initialize database: %v", err)
	}
	defer func() {
		_ = st.Close()
	}()

	registry, err := account.NewRegistry(cfg.Accounts)
	if err != nil {
		log.Fatalf("failed to build account registry: %v", err)
	}
	logAccountCounts(registry)

	if len(cfg.APIKeys) == 0 {
		log.Info("no client API keys configured - all requests will be anonymous")
	} else {
		log.Infof("client API key authentication enabled (%d keys)", len(cfg.APIKeys))
	}

	sched := scheduler.New(registry, st, cfg.Session)
	server := api.NewServer(cfg, registry, sched, relay.NewRelayer(), st)

	// Reclaim lapsed cooldowns and expired sticky sessions once a minute.
	sweeper := cron.New()
	if _, err = sweeper.AddFunc("@every 1m", func() { sched.Sweep(ctx) }); err != nil {
		log.Fatalf("failed to schedule sweep task: %v", err)
	}
	sweeper.Start()

	configWatcher, err := watcher.NewWatcher(configPath, cfg, watcher.Hooks{
		OnAPIKeys:       server.UpdateAPIKeys,
		OnManagementKey: server.UpdateManagementKey,
	})
	if err != nil {
		log.Fatalf("failed to create config watcher: %v", err)
	}
	if err = configWatcher.Start(ctx); err != nil {
		log.Fatalf("failed to start config watcher: %v", err)
	}

	go func() {
		if errStart := server.Start(); errStart != nil {
			log.Fatalf("API server failed to start: %v", errStart)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Infof("received %s, shutting down", sig)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err = server.Stop(shutdownCtx); err != nil {
		log.Errorf("error stopping API server: %v", err)
	}

	if err = configWatcher.Stop(); err != nil {
		log.Errorf("error stopping config watcher: %v", err)
	}

	// Stop() returns a context that is done once a running sweep finishes.
	select {
	case <-sweeper.Stop().Done():
	case <-shutdownCtx.Done():
	}

	log.Info("shutdown complete")
}

// logAccountCounts reports how many accounts each platform carries. Endpoints
// for a platform with zero accounts answer every request with an error.
func logAccountCounts(registry *account.Registry) {
	claude := len(registry.ForPlatform(account.PlatformClaude))
	gemini := len(registry.ForPlatform(account.PlatformGemini))
	codex := len(registry.ForPlatform(account.PlatformCodex))
	log.Infof("loaded %d accounts (claude=%d gemini=%d codex=%d)", registry.Len(), claude, gemini, codex)

	if claude == 0 {
		log.Info("no Claude accounts configured - Claude/OpenAI endpoints will return errors")
	}
	if gemini == 0 {
		log.Info("no Gemini accounts configured - Gemini endpoints will return errors")
	}
	if codex == 0 {
		log.Info("no Codex accounts configured - OpenAI Responses endpoints will return errors")
	}
}
