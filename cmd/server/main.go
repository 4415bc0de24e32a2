package main

import (
	"log"
	"net/http"

	"github.com/cloudzz-dev/cldzchat/internal/server/config"
	"github.com/cloudzz-dev/cldzchat/internal/server/handlers"
	"github.com/cloudzz-dev/cldzchat/internal/server/ratelimit"
	"github.com/cloudzz-dev/cldzchat/internal/server/storage"
	"github.com/cloudzz-dev/cldzchat/internal/server/ws"
	"go.uber.org/zap"
)

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := newLogger(cfg.Debug)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	store := storage.New()
	users, err := cfg.SeedUsers()
	if err != nil {
		logger.Fatal("invalid seed", zap.Error(err))
	}
	for _, u := range users {
		store.UpsertUser(u)
	}

	rateLimiter := ratelimit.New(cfg.MaxConnectionsPerIP, cfg.RequestsPerMin)
	defer rateLimiter.Close()

	hub := ws.NewHub(store, rateLimiter, logger.Named("hub"))

	http.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		handlers.HandleWebSocket(hub, w, r)
	})

	// Health check
	http.HandleFunc("/health", handlers.HealthCheck)

	logger.Info("server starting",
		zap.String("port", cfg.Port),
		zap.Int("max_connections_per_ip", rateLimiter.MaxConns()),
		zap.Int("requests_per_min", rateLimiter.MaxRequests()),
		zap.Int("seeded_users", len(users)),
	)
	if err := http.ListenAndServe(":"+cfg.Port, nil); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}
