package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"salesgame/internal/api"
	"salesgame/internal/config"
	"salesgame/internal/game"
	"salesgame/internal/identity"
	"salesgame/internal/lobby"
	"salesgame/internal/realtime"
	"salesgame/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.LoadServerFromEnv()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	st, err := store.OpenSQL(ctx, cfg.DatabaseDSN)
	if err != nil {
		logger.Error("store open failed", "dsn", cfg.DatabaseDSN, "err", err)
		os.Exit(1)
	}
	defer st.Close()

	var bus realtime.Broadcaster
	if cfg.NATSURL != "" {
		nats, err := realtime.ConnectNATS(cfg.NATSURL, cfg.NodeName)
		if err != nil {
			logger.Error("nats connect failed", "url", cfg.NATSURL, "err", err)
			os.Exit(1)
		}
		bus = nats
		logger.Info("connected to nats", "url", cfg.NATSURL)
	} else {
		bus = realtime.NewLoopback()
		logger.Info("no NATS_URL set, running single node")
	}
	defer bus.Close()

	tuning := game.DefaultTuning()
	tuning.LockTimeout = cfg.LockTimeout
	tuning.RecencyWindow = cfg.RecencyWindow

	syncer := realtime.NewSyncer(cfg.NodeName, st, bus, logger)
	rooms := lobby.NewManager(tuning, st, syncer, logger)
	defer rooms.Close()
	if err := rooms.Restore(ctx); err != nil {
		logger.Error("match restore failed", "err", err)
		os.Exit(1)
	}

	server := api.New(cfg, logger, identity.NewRegistry(), rooms)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("salesd listening", "addr", cfg.Addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}
