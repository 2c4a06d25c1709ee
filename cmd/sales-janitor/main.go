package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"salesgame/internal/config"
	"salesgame/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.LoadJanitorFromEnv()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	st, err := store.OpenSQL(ctx, cfg.DatabaseDSN)
	if err != nil {
		logger.Error("store open failed", "dsn", cfg.DatabaseDSN, "err", err)
		os.Exit(1)
	}
	defer st.Close()

	runOnce := strings.EqualFold(strings.TrimSpace(os.Getenv("SALESGAME_JANITOR_RUN_ONCE")), "true")
	if runOnce {
		if err := sweep(ctx, st, cfg, logger); err != nil {
			logger.Error("sweep failed", "err", err)
			os.Exit(1)
		}
		logger.Info("janitor run-once completed")
		return
	}

	ticker := time.NewTicker(cfg.SweepEvery)
	defer ticker.Stop()

	logger.Info("janitor started", "sweep_every", cfg.SweepEvery.String(), "retention", cfg.Retention.String())
	for {
		select {
		case <-ctx.Done():
			logger.Info("janitor shutdown")
			return
		case <-ticker.C:
			if err := sweep(ctx, st, cfg, logger); err != nil {
				logger.Error("sweep failed", "err", err)
			}
		}
	}
}

// sweep releases turn locks abandoned by crashed nodes and deletes
// finished matches past retention. Every write goes through the version
// check, so a live node racing the janitor always wins.
func sweep(ctx context.Context, st *store.SQL, cfg config.JanitorConfig, logger *slog.Logger) error {
	now := time.Now()

	matches, err := st.List(ctx)
	if err != nil {
		return err
	}
	for _, snap := range matches {
		if !snap.TurnLock || snap.LockedAt == 0 {
			continue
		}
		age := now.Sub(time.UnixMilli(snap.LockedAt))
		if age <= cfg.LockTimeout {
			continue
		}
		if err := releaseLock(ctx, st, snap.RoomID); err != nil {
			if errors.Is(err, store.ErrVersionConflict) || errors.Is(err, store.ErrNotFound) {
				continue
			}
			logger.Error("lock release failed", "room", snap.RoomID, "err", err)
			continue
		}
		logger.Info("released stale turn lock", "room", snap.RoomID, "age", age.String())
	}

	stale, err := st.ListStaleBefore(ctx, now.Add(-cfg.Retention))
	if err != nil {
		return err
	}
	for _, snap := range stale {
		if !snap.GameOver {
			continue
		}
		if err := st.Delete(ctx, snap.RoomID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			logger.Error("match delete failed", "room", snap.RoomID, "err", err)
			continue
		}
		logger.Info("deleted finished match", "room", snap.RoomID)
	}
	return nil
}

func releaseLock(ctx context.Context, st *store.SQL, roomID string) error {
	snap, version, err := st.Load(ctx, roomID)
	if err != nil {
		return err
	}
	if !snap.TurnLock {
		return nil
	}
	snap.TurnLock = false
	snap.LockOwner = ""
	snap.LockedAt = 0
	if next := snap.NextAliveIndex(snap.TurnIndex); next >= 0 {
		snap.TurnIndex = next
	}
	return st.Save(ctx, snap, version)
}
