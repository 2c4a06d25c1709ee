package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"salesgame/internal/game"
	"salesgame/internal/store"
)

// Syncer drives both propagation channels on every committed mutation. It
// plugs into the engine as its Committer.
type Syncer struct {
	id    string
	store store.MatchStore
	bus   Broadcaster
	log   *slog.Logger
}

// NewSyncer builds a syncer for one node. id is the node identity used to
// tag outgoing broadcasts.
func NewSyncer(id string, st store.MatchStore, bus Broadcaster, log *slog.Logger) *Syncer {
	if log == nil {
		log = slog.Default()
	}
	return &Syncer{id: id, store: st, bus: bus, log: log}
}

// Commit broadcasts the snapshot and writes it to the store under
// optimistic concurrency: on a version conflict the intended change is
// re-based onto the freshest remote state and retried exactly once.
func (s *Syncer) Commit(ctx context.Context, roomID string, snap game.MatchState) error {
	if err := s.bus.Publish(Message{Room: roomID, Sender: s.id, Snapshot: snap}); err != nil {
		s.log.Warn("broadcast failed", "room", roomID, "err", err)
	}

	_, version, err := s.store.Load(ctx, roomID)
	if err != nil {
		return fmt.Errorf("load before commit: %w", err)
	}
	err = s.store.Save(ctx, snap, version)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrVersionConflict) {
		return fmt.Errorf("commit: %w", err)
	}

	fresh, freshVersion, err := s.store.Load(ctx, roomID)
	if err != nil {
		return fmt.Errorf("reload after conflict: %w", err)
	}
	rebased := RebaseSnapshot(fresh, snap)
	if err := s.store.Save(ctx, rebased, freshVersion); err != nil {
		return fmt.Errorf("commit retry: %w", err)
	}
	return nil
}

// RebaseSnapshot merges the caller's intended change onto the freshest
// remote base. The local player array and turn index stay authoritative
// (the caller held the advisory lock when producing them); round only
// ever moves up, and a finished match stays finished.
func RebaseSnapshot(fresh, intended game.MatchState) game.MatchState {
	out := intended.Clone()
	if fresh.Round > out.Round {
		out.Round = fresh.Round
	}
	if fresh.GameOver && !out.GameOver {
		out.GameOver = true
		out.Winners = append([]string(nil), fresh.Winners...)
	}
	return out
}

// Watch routes broadcast snapshots for a room into the engine's merge,
// skipping this node's own messages.
func (s *Syncer) Watch(roomID string, e *game.Engine) (func(), error) {
	return s.bus.Subscribe(roomID, func(msg Message) {
		if msg.Sender == s.id {
			return
		}
		e.ApplyRemoteSnapshot(msg.Snapshot)
	})
}

// Refresh pulls the authoritative store state into the engine. Used when
// a node (re)attaches to a match and the broadcast channel may have been
// missed.
func (s *Syncer) Refresh(ctx context.Context, roomID string, e *game.Engine) error {
	snap, _, err := s.store.Load(ctx, roomID)
	if err != nil {
		return fmt.Errorf("refresh %s: %w", roomID, err)
	}
	e.ApplyRemoteSnapshot(snap)
	return nil
}
