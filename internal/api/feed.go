package api

import (
	"net/http"

	"salesgame/internal/game"

	"github.com/go-chi/chi/v5"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// wsMsg is the single frame shape pushed to websocket clients. Type is
// "snapshot" or "prompt" and decides which field carries the payload.
type wsMsg struct {
	Type     string           `json:"type"`
	Snapshot *game.MatchState `json:"snapshot,omitempty"`
	Prompt   *game.Descriptor `json:"prompt,omitempty"`
}

func snapshotMsg(snap game.MatchState) wsMsg {
	return wsMsg{Type: "snapshot", Snapshot: &snap}
}

func promptMsg(d game.Descriptor) wsMsg {
	return wsMsg{Type: "prompt", Prompt: &d}
}

func (s *Server) handleRoomWS(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	engine, err := s.rooms.Engine(roomID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		s.log.Info("websocket accept failed", "room", roomID, "err", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "closing")

	// Clients never send frames; CloseRead keeps the connection alive
	// and gives us a context that ends when the peer goes away.
	ctx := conn.CloseRead(r.Context())

	prompts := make(chan wsMsg, 16)
	s.subscribePrompts(roomID, prompts)
	defer s.unsubscribePrompts(roomID, prompts)

	snaps, cancel := engine.Subscribe()
	defer cancel()

	if err := wsjson.Write(ctx, conn, snapshotMsg(engine.Snapshot())); err != nil {
		return
	}
	if d, ok := engine.PendingPrompt(); ok {
		if err := wsjson.Write(ctx, conn, promptMsg(d)); err != nil {
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case snap, ok := <-snaps:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "match closed")
				return
			}
			if err := wsjson.Write(ctx, conn, snapshotMsg(snap)); err != nil {
				return
			}
		case msg := <-prompts:
			if err := wsjson.Write(ctx, conn, msg); err != nil {
				return
			}
		}
	}
}

func (s *Server) subscribePrompts(roomID string, ch chan wsMsg) {
	s.promptMu.Lock()
	defer s.promptMu.Unlock()
	subs := s.promptSubs[roomID]
	if subs == nil {
		subs = make(map[chan wsMsg]struct{})
		s.promptSubs[roomID] = subs
	}
	subs[ch] = struct{}{}
}

func (s *Server) unsubscribePrompts(roomID string, ch chan wsMsg) {
	s.promptMu.Lock()
	defer s.promptMu.Unlock()
	if subs := s.promptSubs[roomID]; subs != nil {
		delete(subs, ch)
		if len(subs) == 0 {
			delete(s.promptSubs, roomID)
		}
	}
}

func (s *Server) pushPrompt(roomID string, d game.Descriptor) {
	msg := promptMsg(d)
	s.promptMu.Lock()
	defer s.promptMu.Unlock()
	for ch := range s.promptSubs[roomID] {
		select {
		case ch <- msg:
		default:
		}
	}
}
