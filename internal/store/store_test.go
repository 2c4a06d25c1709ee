package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"salesgame/internal/game"
)

func sampleMatch(room string) game.MatchState {
	return game.MatchState{
		RoomID: room,
		Players: []game.Player{
			{ID: "p1", Name: "Ana", Cash: 10_000},
			{ID: "p2", Name: "Bea", Cash: 10_000},
		},
		Round: 1,
	}
}

func runStoreContract(t *testing.T, s MatchStore) {
	t.Helper()
	ctx := context.Background()

	if err := s.Create(ctx, sampleMatch("r1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Create(ctx, sampleMatch("r1")); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("duplicate create err=%v", err)
	}

	snap, version, err := s.Load(ctx, "r1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if version != 1 {
		t.Fatalf("version got %d want 1", version)
	}
	if len(snap.Players) != 2 || snap.Players[0].Cash != 10_000 {
		t.Fatalf("bad snapshot %+v", snap)
	}

	snap.TurnIndex = 1
	snap.Players[0].Cash = 9_000
	if err := s.Save(ctx, snap, version); err != nil {
		t.Fatalf("save: %v", err)
	}

	// The stale version must lose.
	if err := s.Save(ctx, snap, version); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("stale save err=%v want ErrVersionConflict", err)
	}

	snap2, version2, err := s.Load(ctx, "r1")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if version2 != 2 {
		t.Fatalf("version got %d want 2", version2)
	}
	if snap2.TurnIndex != 1 || snap2.Players[0].Cash != 9_000 {
		t.Fatalf("update lost: %+v", snap2)
	}

	if _, _, err := s.Load(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing load err=%v", err)
	}
	if err := s.Save(ctx, sampleMatch("ghost"), 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing save err=%v", err)
	}

	if err := s.Create(ctx, sampleMatch("r2")); err != nil {
		t.Fatalf("create r2: %v", err)
	}
	all, err := s.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("list got %d matches want 2", len(all))
	}

	if err := s.Delete(ctx, "r2"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Delete(ctx, "r2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("double delete err=%v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, NewMemory())
}

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "matches.sqlite")
	s, err := OpenSQL(context.Background(), path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	runStoreContract(t, s)
}

func TestMemoryStoreIsolation(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	in := sampleMatch("r1")
	if err := s.Create(ctx, in); err != nil {
		t.Fatalf("create: %v", err)
	}
	in.Players[0].Cash = 0

	out, _, err := s.Load(ctx, "r1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if out.Players[0].Cash != 10_000 {
		t.Fatalf("store aliased caller memory: %d", out.Players[0].Cash)
	}
	out.Players[0].Cash = 1
	again, _, _ := s.Load(ctx, "r1")
	if again.Players[0].Cash != 10_000 {
		t.Fatalf("load aliased store memory: %d", again.Players[0].Cash)
	}
}
