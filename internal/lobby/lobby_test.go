package lobby

import (
	"context"
	"errors"
	"testing"

	"salesgame/internal/game"
	"salesgame/internal/realtime"
	"salesgame/internal/store"
)

func newManager() (*Manager, *store.Memory) {
	mem := store.NewMemory()
	syncer := realtime.NewSyncer("node-test", mem, realtime.NewLoopback(), nil)
	return NewManager(game.DefaultTuning(), mem, syncer, nil), mem
}

func TestLobbyFlow(t *testing.T) {
	m, mem := newManager()
	defer m.Close()

	r := m.Create("host", "Ana")
	if r.HostID != "host" || len(r.Members) != 1 {
		t.Fatalf("bad room %+v", r)
	}

	if _, err := m.Join(r.ID, "p2", "Bea"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := m.Join(r.ID, "p2", "Bea"); !errors.Is(err, ErrAlreadyJoined) {
		t.Fatalf("rejoin err=%v", err)
	}

	if _, err := m.Start(context.Background(), r.ID, "p2"); !errors.Is(err, ErrNotHost) {
		t.Fatalf("non-host start err=%v", err)
	}
	if _, err := m.Start(context.Background(), r.ID, "host"); !errors.Is(err, ErrNotAllReady) {
		t.Fatalf("unready start err=%v", err)
	}

	if _, err := m.Ready(r.ID, "host", true); err != nil {
		t.Fatalf("ready host: %v", err)
	}
	if _, err := m.Ready(r.ID, "p2", true); err != nil {
		t.Fatalf("ready p2: %v", err)
	}

	engine, err := m.Start(context.Background(), r.ID, "host")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	snap := engine.Snapshot()
	if len(snap.Players) != 2 {
		t.Fatalf("players got %d want 2", len(snap.Players))
	}
	for _, p := range snap.Players {
		if p.Cash != game.DefaultTuning().StartingCash {
			t.Fatalf("starting cash got %d", p.Cash)
		}
		if p.Color == "" {
			t.Fatalf("player without color: %+v", p)
		}
		if p.ERPLevel != game.TierBaseline || p.MixProducts != game.TierBaseline {
			t.Fatalf("tiers not baseline: %+v", p)
		}
	}

	// Persisted at version 1.
	stored, version, err := mem.Load(context.Background(), r.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if version != 1 || stored.Round != 1 {
		t.Fatalf("version=%d round=%d", version, stored.Round)
	}

	if _, err := m.Join(r.ID, "p3", "Caio"); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("late join err=%v", err)
	}
	if _, err := m.Start(context.Background(), r.ID, "host"); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("double start err=%v", err)
	}

	got, err := m.Engine(r.ID)
	if err != nil || got != engine {
		t.Fatalf("engine lookup got %v err=%v", got, err)
	}
}

func TestStartNeedsTwoPlayers(t *testing.T) {
	m, _ := newManager()
	defer m.Close()

	r := m.Create("host", "Ana")
	if _, err := m.Ready(r.ID, "host", true); err != nil {
		t.Fatalf("ready: %v", err)
	}
	if _, err := m.Start(context.Background(), r.ID, "host"); !errors.Is(err, ErrTooFewPlayers) {
		t.Fatalf("solo start err=%v", err)
	}
}

func TestListSkipsStartedRooms(t *testing.T) {
	m, _ := newManager()
	defer m.Close()

	a := m.Create("h1", "Ana")
	m.Create("h2", "Bea")

	if _, err := m.Join(a.ID, "p2", "Caio"); err != nil {
		t.Fatalf("join: %v", err)
	}
	m.Ready(a.ID, "h1", true)
	m.Ready(a.ID, "p2", true)
	if _, err := m.Start(context.Background(), a.ID, "h1"); err != nil {
		t.Fatalf("start: %v", err)
	}

	open := m.List()
	if len(open) != 1 || open[0].HostID != "h2" {
		t.Fatalf("open rooms %+v", open)
	}
}

func TestStartedMatchPlaysThroughStore(t *testing.T) {
	m, mem := newManager()
	defer m.Close()

	r := m.Create("p1", "Ana")
	m.Join(r.ID, "p2", "Bea")
	m.Ready(r.ID, "p1", true)
	m.Ready(r.ID, "p2", true)
	engine, err := m.Start(context.Background(), r.ID, "p1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := engine.TakeTurn(context.Background(), "p1", 6, 0); err != nil {
		t.Fatalf("turn: %v", err)
	}
	stored, version, err := mem.Load(context.Background(), r.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if version < 2 || stored.TurnIndex != 1 {
		t.Fatalf("turn not persisted: version=%d turnIndex=%d", version, stored.TurnIndex)
	}
}

func TestRestoreReattachesPersistedMatch(t *testing.T) {
	mem := store.NewMemory()
	live := game.MatchState{
		RoomID: "room-live",
		Players: []game.Player{
			{ID: "p1", Name: "Ana", Color: "#e63946", Cash: 9_000, Pos: 3},
			{ID: "p2", Name: "Bea", Color: "#457b9d", Cash: 10_000},
		},
		TurnIndex: 1,
		Round:     1,
	}
	done := game.MatchState{
		RoomID:   "room-done",
		Players:  []game.Player{{ID: "x", Name: "X"}, {ID: "y", Name: "Y"}},
		GameOver: true,
	}
	if err := mem.Create(context.Background(), live); err != nil {
		t.Fatalf("seed live: %v", err)
	}
	if err := mem.Create(context.Background(), done); err != nil {
		t.Fatalf("seed done: %v", err)
	}

	syncer := realtime.NewSyncer("node-test", mem, realtime.NewLoopback(), nil)
	m := NewManager(game.DefaultTuning(), mem, syncer, nil)
	defer m.Close()

	if err := m.Restore(context.Background()); err != nil {
		t.Fatalf("restore: %v", err)
	}

	r, err := m.Get("room-live")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !r.Started || r.HostID != "p1" || len(r.Members) != 2 {
		t.Fatalf("bad restored room %+v", r)
	}
	engine, err := m.Engine("room-live")
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	snap := engine.Snapshot()
	if snap.TurnIndex != 1 || snap.Players[0].Pos != 3 {
		t.Fatalf("snapshot not restored: %+v", snap)
	}

	// The finished match stays out of the registry.
	if _, err := m.Get("room-done"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("finished match restored: err=%v", err)
	}

	// The restored engine keeps playing and persisting.
	if err := engine.TakeTurn(context.Background(), "p2", 3, 0); err != nil {
		t.Fatalf("turn: %v", err)
	}
	stored, _, err := mem.Load(context.Background(), "room-live")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if stored.TurnIndex != 0 {
		t.Fatalf("turn not persisted: turnIndex=%d", stored.TurnIndex)
	}
}
