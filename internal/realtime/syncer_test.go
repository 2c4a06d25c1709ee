package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"salesgame/internal/game"
	"salesgame/internal/store"
)

func sampleMatch() game.MatchState {
	return game.MatchState{
		RoomID: "r1",
		Players: []game.Player{
			{ID: "p1", Name: "Ana"},
			{ID: "p2", Name: "Bea"},
		},
		Round: 1,
	}
}

// conflictStore wraps the memory store and forces version conflicts on the
// first n Save calls.
type conflictStore struct {
	store.MatchStore
	mu        sync.Mutex
	conflicts int
	saves     int
}

func (c *conflictStore) Save(ctx context.Context, snap game.MatchState, expect int64) error {
	c.mu.Lock()
	c.saves++
	force := c.conflicts > 0
	if force {
		c.conflicts--
	}
	c.mu.Unlock()
	if force {
		return store.ErrVersionConflict
	}
	return c.MatchStore.Save(ctx, snap, expect)
}

func TestCommitWritesStoreAndBroadcasts(t *testing.T) {
	mem := store.NewMemory()
	bus := NewLoopback()
	s := NewSyncer("node-a", mem, bus, nil)

	if err := mem.Create(context.Background(), sampleMatch()); err != nil {
		t.Fatalf("create: %v", err)
	}
	got := make(chan Message, 1)
	cancel, err := bus.Subscribe("r1", func(m Message) { got <- m })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	snap := sampleMatch()
	snap.TurnIndex = 1
	if err := s.Commit(context.Background(), "r1", snap); err != nil {
		t.Fatalf("commit: %v", err)
	}

	stored, version, err := mem.Load(context.Background(), "r1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if version != 2 || stored.TurnIndex != 1 {
		t.Fatalf("stored version=%d turnIndex=%d", version, stored.TurnIndex)
	}
	select {
	case m := <-got:
		if m.Sender != "node-a" || m.Snapshot.TurnIndex != 1 {
			t.Fatalf("bad broadcast %+v", m)
		}
	case <-time.After(time.Second):
		t.Fatalf("no broadcast")
	}
}

func TestCommitRetriesOnceOnConflict(t *testing.T) {
	mem := store.NewMemory()
	cs := &conflictStore{MatchStore: mem, conflicts: 1}
	s := NewSyncer("node-a", cs, NewLoopback(), nil)

	if err := mem.Create(context.Background(), sampleMatch()); err != nil {
		t.Fatalf("create: %v", err)
	}
	snap := sampleMatch()
	snap.TurnIndex = 1
	if err := s.Commit(context.Background(), "r1", snap); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if cs.saves != 2 {
		t.Fatalf("saves got %d want 2", cs.saves)
	}

	// A second conflict on the retry surfaces the error instead of
	// looping.
	cs.conflicts = 2
	cs.saves = 0
	err := s.Commit(context.Background(), "r1", snap)
	if !errors.Is(err, store.ErrVersionConflict) {
		t.Fatalf("err=%v want version conflict", err)
	}
	if cs.saves != 2 {
		t.Fatalf("saves got %d want 2 (retry exactly once)", cs.saves)
	}
}

func TestRebaseSnapshotKeepsIntendedPlayersAndMaxRound(t *testing.T) {
	fresh := sampleMatch()
	fresh.Round = 3
	fresh.Players[1].Cash = 42

	intended := sampleMatch()
	intended.Round = 2
	intended.TurnIndex = 1
	intended.Players[0].Cash = 9_000

	out := RebaseSnapshot(fresh, intended)
	if out.Round != 3 {
		t.Fatalf("round got %d want 3", out.Round)
	}
	if out.TurnIndex != 1 {
		t.Fatalf("turnIndex got %d want 1", out.TurnIndex)
	}
	if out.Players[0].Cash != 9_000 || out.Players[1].Cash != 0 {
		t.Fatalf("players not authoritative: %+v", out.Players)
	}
}

func TestRebaseSnapshotKeepsFinishedMatchFinished(t *testing.T) {
	fresh := sampleMatch()
	fresh.GameOver = true
	fresh.Winners = []string{"p2"}

	out := RebaseSnapshot(fresh, sampleMatch())
	if !out.GameOver || len(out.Winners) != 1 || out.Winners[0] != "p2" {
		t.Fatalf("finished state lost: %+v", out)
	}
}

func TestWatchIgnoresOwnMessages(t *testing.T) {
	bus := NewLoopback()
	mem := store.NewMemory()
	if err := mem.Create(context.Background(), sampleMatch()); err != nil {
		t.Fatalf("create: %v", err)
	}

	sa := NewSyncer("node-a", mem, bus, nil)
	sb := NewSyncer("node-b", mem, bus, nil)

	ea := game.NewEngine(sampleMatch(), game.DefaultTuning(), nil)
	defer ea.Close()
	eb := game.NewEngine(sampleMatch(), game.DefaultTuning(), nil)
	defer eb.Close()

	cancelA, err := sa.Watch("r1", ea)
	if err != nil {
		t.Fatalf("watch a: %v", err)
	}
	defer cancelA()
	cancelB, err := sb.Watch("r1", eb)
	if err != nil {
		t.Fatalf("watch b: %v", err)
	}
	defer cancelB()

	ea.SetCommitter(sa)
	if err := ea.TakeTurn(context.Background(), "p1", 6, 0); err != nil {
		t.Fatalf("turn: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if eb.Snapshot().TurnIndex == 1 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if got := eb.Snapshot().TurnIndex; got != 1 {
		t.Fatalf("node b turnIndex got %d want 1", got)
	}
	// Node a's own state came from its engine, not an echoed broadcast.
	if got := ea.Snapshot().TurnIndex; got != 1 {
		t.Fatalf("node a turnIndex got %d want 1", got)
	}
}

func TestRefreshPullsStoreState(t *testing.T) {
	mem := store.NewMemory()
	remote := sampleMatch()
	remote.TurnIndex = 1
	if err := mem.Create(context.Background(), remote); err != nil {
		t.Fatalf("create: %v", err)
	}

	s := NewSyncer("node-a", mem, NewLoopback(), nil)
	e := game.NewEngine(sampleMatch(), game.DefaultTuning(), nil)
	defer e.Close()

	if err := s.Refresh(context.Background(), "r1", e); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if got := e.Snapshot().TurnIndex; got != 1 {
		t.Fatalf("turnIndex got %d want 1", got)
	}
}
