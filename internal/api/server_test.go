package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"salesgame/internal/config"
	"salesgame/internal/game"
	"salesgame/internal/identity"
	"salesgame/internal/lobby"
	"salesgame/internal/realtime"
	"salesgame/internal/store"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	st := store.NewMemory()
	bus := realtime.NewLoopback()
	sync := realtime.NewSyncer("test-node", st, bus, nil)
	rooms := lobby.NewManager(game.DefaultTuning(), st, sync, nil)
	t.Cleanup(rooms.Close)
	srv := New(config.ServerConfig{}, nil, identity.NewRegistry(), rooms)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, method, url, token string, body any, out any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			t.Fatalf("decode response %q: %v", raw, err)
		}
	}
	return resp
}

func issueIdentity(t *testing.T, base, name string) identity.Identity {
	t.Helper()
	var id identity.Identity
	resp := doJSON(t, http.MethodPost, base+"/v1/identity", "", map[string]string{"name": name}, &id)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("identity status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}
	return id
}

func startedRoom(t *testing.T, base string) (string, identity.Identity, identity.Identity) {
	t.Helper()
	host := issueIdentity(t, base, "Ana")
	guest := issueIdentity(t, base, "Bruno")

	var room lobby.Room
	doJSON(t, http.MethodPost, base+"/v1/rooms", host.Token, nil, &room)
	if room.ID == "" {
		t.Fatal("room create returned empty id")
	}
	doJSON(t, http.MethodPost, base+"/v1/rooms/"+room.ID+"/join", guest.Token, nil, nil)
	doJSON(t, http.MethodPost, base+"/v1/rooms/"+room.ID+"/ready", host.Token, nil, nil)
	doJSON(t, http.MethodPost, base+"/v1/rooms/"+room.ID+"/ready", guest.Token, nil, nil)
	resp := doJSON(t, http.MethodPost, base+"/v1/rooms/"+room.ID+"/start", host.Token, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	return room.ID, host, guest
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t)
	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/rooms", "", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}
	resp = doJSON(t, http.MethodPost, ts.URL+"/v1/rooms", "not-a-token", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}
}

func TestLobbyLifecycle(t *testing.T) {
	ts := newTestServer(t)
	roomID, host, _ := startedRoom(t, ts.URL)

	var state struct {
		Room     lobby.Room       `json:"room"`
		Snapshot *game.MatchState `json:"snapshot"`
	}
	resp := doJSON(t, http.MethodGet, ts.URL+"/v1/rooms/"+roomID+"/state", host.Token, nil, &state)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("state status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if !state.Room.Started {
		t.Fatal("room should be started")
	}
	if state.Snapshot == nil || len(state.Snapshot.Players) != 2 {
		t.Fatalf("snapshot = %+v, want two players", state.Snapshot)
	}
	if state.Snapshot.Round != 1 {
		t.Fatalf("round = %d, want 1", state.Snapshot.Round)
	}
}

func TestStartRequiresHost(t *testing.T) {
	ts := newTestServer(t)
	host := issueIdentity(t, ts.URL, "Ana")
	guest := issueIdentity(t, ts.URL, "Bruno")

	var room lobby.Room
	doJSON(t, http.MethodPost, ts.URL+"/v1/rooms", host.Token, nil, &room)
	doJSON(t, http.MethodPost, ts.URL+"/v1/rooms/"+room.ID+"/join", guest.Token, nil, nil)
	doJSON(t, http.MethodPost, ts.URL+"/v1/rooms/"+room.ID+"/ready", host.Token, nil, nil)
	doJSON(t, http.MethodPost, ts.URL+"/v1/rooms/"+room.ID+"/ready", guest.Token, nil, nil)

	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/rooms/"+room.ID+"/start", guest.Token, nil, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("start by guest status = %d, want %d", resp.StatusCode, http.StatusForbidden)
	}
}

func TestRollValidatesDice(t *testing.T) {
	ts := newTestServer(t)
	roomID, host, _ := startedRoom(t, ts.URL)

	for _, dice := range []int{0, 7, -3} {
		resp := doJSON(t, http.MethodPost, ts.URL+"/v1/rooms/"+roomID+"/roll", host.Token,
			map[string]any{"dice": dice}, nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("dice %d: status = %d, want %d", dice, resp.StatusCode, http.StatusBadRequest)
		}
	}
}

func TestRollOutOfTurnConflicts(t *testing.T) {
	ts := newTestServer(t)
	roomID, _, guest := startedRoom(t, ts.URL)

	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/rooms/"+roomID+"/roll", guest.Token,
		map[string]any{"dice": 3}, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("out-of-turn roll status = %d, want %d", resp.StatusCode, http.StatusConflict)
	}
}

func TestRollAcceptedAndFeedGrows(t *testing.T) {
	ts := newTestServer(t)
	roomID, host, _ := startedRoom(t, ts.URL)

	// Dice 3 lands on a quiet tile, so the turn resolves without prompts.
	var out struct {
		Snapshot game.MatchState `json:"snapshot"`
	}
	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/rooms/"+roomID+"/roll", host.Token,
		map[string]any{"dice": 3}, &out)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("roll status = %d, want %d", resp.StatusCode, http.StatusAccepted)
	}

	deadline := 40
	for i := 0; i < deadline; i++ {
		var feed struct {
			Feed []game.FeedEntry `json:"feed"`
		}
		doJSON(t, http.MethodGet, ts.URL+"/v1/rooms/"+roomID+"/feed", host.Token, nil, &feed)
		if len(feed.Feed) > 0 {
			return
		}
	}
	t.Fatal("feed never recorded the turn")
}

func TestRollIdempotencyKeyRejectsReplay(t *testing.T) {
	ts := newTestServer(t)
	roomID, host, _ := startedRoom(t, ts.URL)

	body, _ := json.Marshal(map[string]any{"dice": 3})
	send := func() *http.Response {
		req, err := http.NewRequest(http.MethodPost, ts.URL+"/v1/rooms/"+roomID+"/roll", bytes.NewReader(body))
		if err != nil {
			t.Fatalf("new request: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+host.Token)
		req.Header.Set("Idempotency-Key", "turn-1")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("roll: %v", err)
		}
		resp.Body.Close()
		return resp
	}
	if resp := send(); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("first roll status = %d, want %d", resp.StatusCode, http.StatusAccepted)
	}
	if resp := send(); resp.StatusCode != http.StatusConflict {
		t.Fatalf("replayed roll status = %d, want %d", resp.StatusCode, http.StatusConflict)
	}
}

func TestPromptEndpointEmptyWhenIdle(t *testing.T) {
	ts := newTestServer(t)
	roomID, host, _ := startedRoom(t, ts.URL)

	var out struct {
		Prompt *game.Descriptor `json:"prompt"`
	}
	resp := doJSON(t, http.MethodGet, ts.URL+"/v1/rooms/"+roomID+"/prompt", host.Token, nil, &out)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("prompt status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if out.Prompt != nil {
		t.Fatalf("prompt = %+v, want none", out.Prompt)
	}
}

func TestPromptResolveWithoutPending(t *testing.T) {
	ts := newTestServer(t)
	roomID, host, _ := startedRoom(t, ts.URL)

	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/rooms/"+roomID+"/prompt", host.Token,
		map[string]any{"action": game.ActionSkip}, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("resolve status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

func TestUnknownRoom(t *testing.T) {
	ts := newTestServer(t)
	host := issueIdentity(t, ts.URL, "Ana")
	for _, path := range []string{"/state", "/feed", "/join"} {
		method := http.MethodGet
		if path == "/join" {
			method = http.MethodPost
		}
		resp := doJSON(t, method, fmt.Sprintf("%s/v1/rooms/missing%s", ts.URL, path), host.Token, nil, nil)
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("%s: status = %d, want %d", path, resp.StatusCode, http.StatusNotFound)
		}
	}
}

func TestIdempotencyKeysEvictOldest(t *testing.T) {
	s := &Server{seenKeys: make(map[string]struct{})}
	keyed := func(key string) *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/v1/rooms/r/roll", nil)
		req.Header.Set("Idempotency-Key", key)
		return req
	}

	for i := 0; i < maxIdempotencyKeys; i++ {
		if err := s.claimIdempotencyKey("r", keyed(fmt.Sprintf("k%d", i))); err != nil {
			t.Fatalf("claim %d: %v", i, err)
		}
	}
	if err := s.claimIdempotencyKey("r", keyed("k0")); !errors.Is(err, errDuplicateRequest) {
		t.Fatalf("replay within window err=%v", err)
	}

	// One more claim pushes the oldest key out of the window.
	if err := s.claimIdempotencyKey("r", keyed("fresh")); err != nil {
		t.Fatalf("claim fresh: %v", err)
	}
	if len(s.seenKeys) != maxIdempotencyKeys || len(s.keyOrder) != maxIdempotencyKeys {
		t.Fatalf("window size map=%d order=%d want %d", len(s.seenKeys), len(s.keyOrder), maxIdempotencyKeys)
	}
	if err := s.claimIdempotencyKey("r", keyed("k0")); err != nil {
		t.Fatalf("evicted key must claim again: %v", err)
	}
}
