package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/cloudzz-dev/cldzchat/internal/client/chatstore"
	"github.com/cloudzz-dev/cldzchat/internal/client/chatsync"
	"github.com/cloudzz-dev/cldzchat/internal/client/config"
	"github.com/cloudzz-dev/cldzchat/internal/client/debug"
	"github.com/cloudzz-dev/cldzchat/internal/client/metrics"
	"github.com/cloudzz-dev/cldzchat/internal/client/presence"
	"github.com/cloudzz-dev/cldzchat/internal/client/presencesync"
	"github.com/cloudzz-dev/cldzchat/internal/client/session"
	"github.com/cloudzz-dev/cldzchat/internal/client/socket"
	"github.com/cloudzz-dev/cldzchat/internal/client/ui"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

func newPersister(cfg *config.Config, profile string) (chatstore.Persister, func(), error) {
	if cfg.PersistBackend == config.BackendRedis {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		return chatstore.NewRedisPersister(client, "cldzchat:"+profile+":"), func() { client.Close() }, nil
	}
	vault, err := session.OpenVault(profile)
	if err != nil {
		return nil, nil, err
	}
	return chatstore.NewVaultPersister(vault), func() {}, nil
}

func run() error {
	profile := config.Profile()
	cfg, err := config.Load(session.GetConfigDir(profile))
	if err != nil {
		return err
	}

	logger, err := debug.New(cfg.Debug, cfg.LogPath)
	if err != nil {
		return fmt.Errorf("open debug log: %w", err)
	}
	defer logger.Sync()

	// Fall back to the identity saved by the last run.
	saved := session.Load(profile)
	if saved != nil && cfg.UserID == "" {
		cfg.UserID, cfg.UserName = saved.UserID, saved.UserName
	}
	if cfg.UserID == "" {
		return errors.New("no identity: set CLDZCHAT_USER_ID or user_id in config.yaml")
	}
	if cfg.UserName == "" {
		cfg.UserName = cfg.UserID
	}
	if err := session.Save(profile, session.Session{ServerURL: cfg.ServerURL, UserID: cfg.UserID, UserName: cfg.UserName}); err != nil {
		logger.Warn("failed to save session", zap.Error(err))
	}

	persister, closePersister, err := newPersister(cfg, profile)
	if err != nil {
		return err
	}
	defer closePersister()

	store := chatstore.New(chatstore.WithPersister(persister, cfg.StoreKey), chatstore.WithLogger(logger))
	if err := store.Restore(context.Background()); err != nil {
		logger.Warn("failed to restore chat store", zap.Error(err))
	}
	// Restored chats belong to whoever used this profile last.
	if saved != nil && saved.UserID != cfg.UserID {
		store.Reset()
	}
	online := presence.NewStore()

	m := metrics.New()
	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: m.Handler()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("metrics server stopped", zap.Error(err))
			}
		}()
		defer srv.Close()
	}

	mgr := socket.New(cfg.ServerURL,
		socket.WithRequestTimeout(cfg.RequestTimeout),
		socket.WithLogger(logger),
		socket.WithMetrics(m),
	)

	bridge := ui.NewBridge()
	syncer := chatsync.New(mgr, store, chatsync.WithNotifier(bridge), chatsync.WithLogger(logger))
	stopChats := syncer.Start()
	defer stopChats()
	stopPresence := presencesync.New(mgr, online, logger).Start()
	defer stopPresence()
	defer mgr.OnStatus(bridge.Status)()
	defer store.Subscribe(bridge.Changed)()
	defer online.Subscribe(bridge.Changed)()

	sessionHandler := presencesync.NewSessionHandler(mgr, logger)
	sessionHandler.OnIdentityChange(store.Reset)
	defer sessionHandler.Close()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := sessionHandler.SetIdentity(ctx, cfg.UserID); err != nil {
			bridge.Error("Could not connect to " + cfg.ServerURL)
			logger.Warn("initial connect failed", zap.Error(err))
		}
	}()

	p := tea.NewProgram(ui.New(ui.Config{
		UserID:   cfg.UserID,
		UserName: cfg.UserName,
		Chats:    store,
		Presence: online,
		Actions:  syncer,
		Bridge:   bridge,
	}), tea.WithAltScreen())

	_, err = p.Run()
	return err
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
