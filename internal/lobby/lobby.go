// Package lobby owns rooms before and during a match: roster, ready
// check, and the match lifecycle around the per-room engine.
package lobby

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"salesgame/internal/game"
	"salesgame/internal/realtime"
	"salesgame/internal/store"
)

const MaxPlayers = 6

var (
	ErrRoomNotFound   = errors.New("room not found")
	ErrRoomFull       = errors.New("room is full")
	ErrAlreadyStarted = errors.New("match already started")
	ErrNotStarted     = errors.New("match not started")
	ErrNotHost        = errors.New("only the host may do that")
	ErrNotMember      = errors.New("not a member of this room")
	ErrAlreadyJoined  = errors.New("already joined this room")
	ErrNotAllReady    = errors.New("not all players are ready")
	ErrTooFewPlayers  = errors.New("need at least two players")
)

var tokenColors = []string{
	"#e63946", "#457b9d", "#2a9d8f", "#f4a261", "#9b5de5", "#577590",
}

type Member struct {
	PlayerID string `json:"player_id"`
	Name     string `json:"name"`
	Color    string `json:"color"`
	Ready    bool   `json:"ready"`
}

type Room struct {
	ID        string    `json:"id"`
	HostID    string    `json:"host_id"`
	Members   []Member  `json:"members"`
	Started   bool      `json:"started"`
	CreatedAt time.Time `json:"created_at"`
}

type room struct {
	Room
	engine      *game.Engine
	cancelWatch func()
}

// Manager is the in-memory room registry in front of the versioned match
// store. Starting a room is the handoff point: the roster becomes the
// initial match state, persisted at version 1, and the engine takes over.
type Manager struct {
	tuning game.Tuning
	store  store.MatchStore
	syncer *realtime.Syncer
	log    *slog.Logger

	mu    sync.Mutex
	rooms map[string]*room
}

func NewManager(tuning game.Tuning, st store.MatchStore, syncer *realtime.Syncer, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		tuning: tuning,
		store:  st,
		syncer: syncer,
		log:    log,
		rooms:  make(map[string]*room),
	}
}

func (m *Manager) Create(hostID, hostName string) Room {
	r := &room{Room: Room{
		ID:        uuid.NewString(),
		HostID:    hostID,
		CreatedAt: time.Now(),
		Members: []Member{{
			PlayerID: hostID,
			Name:     hostName,
			Color:    tokenColors[0],
		}},
	}}
	m.mu.Lock()
	m.rooms[r.ID] = r
	m.mu.Unlock()
	return r.clone()
}

func (m *Manager) Join(roomID, playerID, name string) (Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return Room{}, ErrRoomNotFound
	}
	if r.Started {
		return Room{}, ErrAlreadyStarted
	}
	if len(r.Members) >= MaxPlayers {
		return Room{}, ErrRoomFull
	}
	for _, mem := range r.Members {
		if mem.PlayerID == playerID {
			return Room{}, ErrAlreadyJoined
		}
	}
	r.Members = append(r.Members, Member{
		PlayerID: playerID,
		Name:     name,
		Color:    tokenColors[len(r.Members)%len(tokenColors)],
	})
	return r.clone(), nil
}

func (m *Manager) Ready(roomID, playerID string, ready bool) (Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return Room{}, ErrRoomNotFound
	}
	if r.Started {
		return Room{}, ErrAlreadyStarted
	}
	for i := range r.Members {
		if r.Members[i].PlayerID == playerID {
			r.Members[i].Ready = true
			if !ready {
				r.Members[i].Ready = false
			}
			return r.clone(), nil
		}
	}
	return Room{}, ErrNotMember
}

// Start turns the roster into a match: initial players built from the
// tuning, state persisted at version 1, engine constructed and wired to
// the sync layer. Host only, everyone ready.
func (m *Manager) Start(ctx context.Context, roomID, playerID string) (*game.Engine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	if r.Started {
		return nil, ErrAlreadyStarted
	}
	if playerID != r.HostID {
		return nil, ErrNotHost
	}
	if len(r.Members) < 2 {
		return nil, ErrTooFewPlayers
	}
	for _, mem := range r.Members {
		if !mem.Ready {
			return nil, ErrNotAllReady
		}
	}

	players := make([]game.Player, len(r.Members))
	for i, mem := range r.Members {
		players[i] = game.Player{
			ID:          mem.PlayerID,
			Name:        mem.Name,
			Color:       mem.Color,
			Cash:        m.tuning.StartingCash,
			ERPLevel:    game.TierBaseline,
			MixProducts: game.TierBaseline,
		}
	}
	snap := game.MatchState{
		RoomID:  r.ID,
		Players: players,
		Round:   1,
	}
	if err := m.store.Create(ctx, snap); err != nil {
		return nil, fmt.Errorf("persist match %s: %w", r.ID, err)
	}

	engine := game.NewEngine(snap, m.tuning, m.log)
	engine.SetCommitter(m.syncer)
	cancel, err := m.syncer.Watch(r.ID, engine)
	if err != nil {
		engine.Close()
		return nil, fmt.Errorf("watch room %s: %w", r.ID, err)
	}
	r.Started = true
	r.engine = engine
	r.cancelWatch = cancel
	m.log.Info("match started", "room", r.ID, "players", len(players))
	return engine, nil
}

// Restore reattaches persisted matches after a restart. Every live match
// in the store gets a room rebuilt from its player roster and an engine
// refreshed from the authoritative snapshot, so turns taken on other
// nodes while this one was down are not lost. Finished matches are left
// for the janitor.
func (m *Manager) Restore(ctx context.Context) error {
	snaps, err := m.store.List(ctx)
	if err != nil {
		return fmt.Errorf("list matches: %w", err)
	}
	for _, snap := range snaps {
		if snap.GameOver || len(snap.Players) == 0 {
			continue
		}
		m.mu.Lock()
		if _, ok := m.rooms[snap.RoomID]; ok {
			m.mu.Unlock()
			continue
		}
		m.mu.Unlock()

		members := make([]Member, len(snap.Players))
		for i, p := range snap.Players {
			members[i] = Member{
				PlayerID: p.ID,
				Name:     p.Name,
				Color:    p.Color,
				Ready:    true,
			}
		}
		engine := game.NewEngine(snap, m.tuning, m.log)
		engine.SetCommitter(m.syncer)
		if err := m.syncer.Refresh(ctx, snap.RoomID, engine); err != nil {
			engine.Close()
			return err
		}
		cancel, err := m.syncer.Watch(snap.RoomID, engine)
		if err != nil {
			engine.Close()
			return fmt.Errorf("watch room %s: %w", snap.RoomID, err)
		}

		m.mu.Lock()
		m.rooms[snap.RoomID] = &room{
			Room: Room{
				ID:        snap.RoomID,
				HostID:    snap.Players[0].ID,
				Members:   members,
				Started:   true,
				CreatedAt: time.Now(),
			},
			engine:      engine,
			cancelWatch: cancel,
		}
		m.mu.Unlock()
		m.log.Info("match restored", "room", snap.RoomID, "players", len(members))
	}
	return nil
}

// Engine resolves the running engine for a started room.
func (m *Manager) Engine(roomID string) (*game.Engine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	if !r.Started || r.engine == nil {
		return nil, ErrNotStarted
	}
	return r.engine, nil
}

func (m *Manager) Get(roomID string) (Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return Room{}, ErrRoomNotFound
	}
	return r.clone(), nil
}

// List answers rooms still accepting players, newest first.
func (m *Manager) List() []Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		if !r.Started {
			out = append(out, r.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Remove tears a room down, closing its engine if the match was running.
func (m *Manager) Remove(roomID string) {
	m.mu.Lock()
	r, ok := m.rooms[roomID]
	if ok {
		delete(m.rooms, roomID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	if r.cancelWatch != nil {
		r.cancelWatch()
	}
	if r.engine != nil {
		r.engine.Close()
	}
}

func (m *Manager) Close() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.rooms))
	for id := range m.rooms {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.Remove(id)
	}
}

func (r *room) clone() Room {
	out := r.Room
	out.Members = append([]Member(nil), r.Members...)
	return out
}
