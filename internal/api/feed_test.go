package api

import (
	"context"
	"strings"
	"testing"
	"time"

	"salesgame/internal/game"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

func TestWebSocketPushesInitialSnapshot(t *testing.T) {
	ts := newTestServer(t)
	roomID, host, _ := startedRoom(t, ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := strings.Replace(ts.URL, "http://", "ws://", 1) +
		"/v1/rooms/" + roomID + "/ws?token=" + host.Token
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	var msg wsMsg
	if err := wsjson.Read(ctx, conn, &msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != "snapshot" || msg.Snapshot == nil {
		t.Fatalf("first frame = %+v, want snapshot", msg)
	}
	if len(msg.Snapshot.Players) != 2 {
		t.Fatalf("players = %d, want 2", len(msg.Snapshot.Players))
	}
}

func TestWebSocketSeesTurnSnapshots(t *testing.T) {
	ts := newTestServer(t)
	roomID, host, guest := startedRoom(t, ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := strings.Replace(ts.URL, "http://", "ws://", 1) +
		"/v1/rooms/" + roomID + "/ws?token=" + guest.Token
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Drain the initial snapshot first.
	var msg wsMsg
	if err := wsjson.Read(ctx, conn, &msg); err != nil {
		t.Fatalf("read initial: %v", err)
	}

	doJSON(t, "POST", ts.URL+"/v1/rooms/"+roomID+"/roll", host.Token,
		map[string]any{"dice": 3}, nil)

	var moved *game.MatchState
	for moved == nil {
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			t.Fatalf("read update: %v", err)
		}
		if msg.Type == "snapshot" && msg.Snapshot != nil && msg.Snapshot.Players[0].Pos == 3 {
			moved = msg.Snapshot
		}
	}
	if moved.Players[0].Lap != 0 {
		t.Fatalf("lap = %d, want 0", moved.Players[0].Lap)
	}
}
