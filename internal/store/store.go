// Package store persists match snapshots under optimistic concurrency.
// One record per match: the state JSON plus a version counter that moves
// exactly once per accepted write and is the sole concurrency-control
// token.
package store

import (
	"context"
	"errors"
	"sync"

	"salesgame/internal/game"
)

var (
	ErrNotFound        = errors.New("match not found")
	ErrAlreadyExists   = errors.New("match already exists")
	ErrVersionConflict = errors.New("match version conflict")
)

// MatchStore is the authoritative versioned store. Save is conditional on
// the caller holding the latest version; a mismatch answers
// ErrVersionConflict and writes nothing.
type MatchStore interface {
	Create(ctx context.Context, snap game.MatchState) error
	Load(ctx context.Context, roomID string) (game.MatchState, int64, error)
	Save(ctx context.Context, snap game.MatchState, expectVersion int64) error
	List(ctx context.Context) ([]game.MatchState, error)
	Delete(ctx context.Context, roomID string) error
	Close() error
}

type memoryRecord struct {
	snap    game.MatchState
	version int64
}

// Memory is the in-process MatchStore used for single-node play and tests.
type Memory struct {
	mu      sync.Mutex
	matches map[string]*memoryRecord
}

func NewMemory() *Memory {
	return &Memory{matches: make(map[string]*memoryRecord)}
}

func (m *Memory) Create(ctx context.Context, snap game.MatchState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.matches[snap.RoomID]; ok {
		return ErrAlreadyExists
	}
	m.matches[snap.RoomID] = &memoryRecord{snap: snap.Clone(), version: 1}
	return nil
}

func (m *Memory) Load(ctx context.Context, roomID string) (game.MatchState, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.matches[roomID]
	if !ok {
		return game.MatchState{}, 0, ErrNotFound
	}
	return rec.snap.Clone(), rec.version, nil
}

func (m *Memory) Save(ctx context.Context, snap game.MatchState, expectVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.matches[snap.RoomID]
	if !ok {
		return ErrNotFound
	}
	if rec.version != expectVersion {
		return ErrVersionConflict
	}
	rec.snap = snap.Clone()
	rec.version++
	return nil
}

func (m *Memory) List(ctx context.Context) ([]game.MatchState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]game.MatchState, 0, len(m.matches))
	for _, rec := range m.matches {
		out = append(out, rec.snap.Clone())
	}
	return out, nil
}

func (m *Memory) Delete(ctx context.Context, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.matches[roomID]; !ok {
		return ErrNotFound
	}
	delete(m.matches, roomID)
	return nil
}

func (m *Memory) Close() error { return nil }
