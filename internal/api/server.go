package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"salesgame/internal/config"
	"salesgame/internal/game"
	"salesgame/internal/identity"
	"salesgame/internal/lobby"
	"salesgame/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type contextKey string

const identityContextKey contextKey = "identity"

var errDuplicateRequest = errors.New("duplicate request")

type Server struct {
	cfg   config.ServerConfig
	log   *slog.Logger
	ids   *identity.Registry
	rooms *lobby.Manager
	mux   *chi.Mux

	keyMu    sync.Mutex
	seenKeys map[string]struct{}
	keyOrder []string

	promptMu   sync.Mutex
	promptSubs map[string]map[chan wsMsg]struct{}
}

func New(cfg config.ServerConfig, logger *slog.Logger, ids *identity.Registry, rooms *lobby.Manager) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:        cfg,
		log:        logger,
		ids:        ids,
		rooms:      rooms,
		mux:        chi.NewRouter(),
		seenKeys:   make(map[string]struct{}),
		promptSubs: make(map[string]map[chan wsMsg]struct{}),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))
			r.Post("/identity", s.handleIdentity)

			r.Group(func(r chi.Router) {
				r.Use(s.identityMiddleware)
				r.Post("/rooms", s.handleRoomCreate)
				r.Get("/rooms", s.handleRoomList)
				r.Post("/rooms/{id}/join", s.handleRoomJoin)
				r.Post("/rooms/{id}/ready", s.handleRoomReady)
				r.Post("/rooms/{id}/start", s.handleRoomStart)
				r.Get("/rooms/{id}/state", s.handleRoomState)
				r.Get("/rooms/{id}/feed", s.handleRoomFeed)
				r.Post("/rooms/{id}/roll", s.handleRoll)
				r.Get("/rooms/{id}/prompt", s.handlePromptGet)
				r.Post("/rooms/{id}/prompt", s.handlePromptResolve)
				r.Post("/rooms/{id}/bankrupt", s.handleBankrupt)
			})
		})

		// No request timeout here, the socket stays up for the match.
		r.With(s.identityMiddleware).Get("/rooms/{id}/ws", s.handleRoomWS)
	})
}

func (s *Server) identityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			token = strings.TrimSpace(r.URL.Query().Get("token"))
		}
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		id, err := s.ids.Resolve(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), identityContextKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func identityFromContext(ctx context.Context) (identity.Identity, error) {
	id, ok := ctx.Value(identityContextKey).(identity.Identity)
	if !ok || id.PlayerID == "" {
		return identity.Identity{}, errors.New("missing identity context")
	}
	return id, nil
}

func (s *Server) handleIdentity(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, s.ids.Issue(in.Name))
}

func (s *Server) handleRoomCreate(w http.ResponseWriter, r *http.Request) {
	user, err := identityFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	room := s.rooms.Create(user.PlayerID, user.Name)
	writeJSON(w, http.StatusCreated, room)
}

func (s *Server) handleRoomList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"rooms": s.rooms.List()})
}

func (s *Server) handleRoomJoin(w http.ResponseWriter, r *http.Request) {
	user, err := identityFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	room, err := s.rooms.Join(chi.URLParam(r, "id"), user.PlayerID, user.Name)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (s *Server) handleRoomReady(w http.ResponseWriter, r *http.Request) {
	user, err := identityFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	in := struct {
		Ready *bool `json:"ready"`
	}{}
	if err := decodeJSON(r, &in); err != nil && !errors.Is(err, errEmptyBody) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ready := true
	if in.Ready != nil {
		ready = *in.Ready
	}
	room, err := s.rooms.Ready(chi.URLParam(r, "id"), user.PlayerID, ready)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (s *Server) handleRoomStart(w http.ResponseWriter, r *http.Request) {
	user, err := identityFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	roomID := chi.URLParam(r, "id")
	engine, err := s.rooms.Start(r.Context(), roomID, user.PlayerID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	engine.Prompts().OnOpen(func(d game.Descriptor) {
		s.pushPrompt(roomID, d)
	})
	writeJSON(w, http.StatusOK, map[string]any{"snapshot": engine.Snapshot()})
}

func (s *Server) handleRoomState(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	room, err := s.rooms.Get(roomID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := map[string]any{"room": room}
	if engine, err := s.rooms.Engine(roomID); err == nil {
		out["snapshot"] = engine.Snapshot()
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRoomFeed(w http.ResponseWriter, r *http.Request) {
	engine, err := s.rooms.Engine(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"feed": engine.Feed()})
}

// handleRoll is the input boundary for dice: values outside 1..6 are
// rejected here, the engine trusts its callers.
func (s *Server) handleRoll(w http.ResponseWriter, r *http.Request) {
	user, err := identityFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	roomID := chi.URLParam(r, "id")
	var in struct {
		Dice    int   `json:"dice"`
		Fortune int64 `json:"fortune"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if in.Dice < game.MinDice || in.Dice > game.MaxDice {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("dice must be between %d and %d", game.MinDice, game.MaxDice))
		return
	}
	if err := s.claimIdempotencyKey(roomID, r); err != nil {
		writeDomainError(w, err)
		return
	}
	engine, err := s.rooms.Engine(roomID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	turn, err := engine.Begin(user.PlayerID, in.Dice, in.Fortune)
	if err != nil {
		s.log.Info("roll rejected", "room", roomID, "player", user.PlayerID, "err", err)
		writeDomainError(w, err)
		return
	}
	// Resolution outlives this request: prompts are answered by later
	// calls to the prompt endpoint.
	go func() {
		if err := turn.Run(context.Background()); err != nil {
			s.log.Info("turn ended early", "room", roomID, "player", user.PlayerID, "err", err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]any{"snapshot": engine.Snapshot()})
}

func (s *Server) handlePromptGet(w http.ResponseWriter, r *http.Request) {
	engine, err := s.rooms.Engine(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if d, ok := engine.PendingPrompt(); ok {
		writeJSON(w, http.StatusOK, map[string]any{"prompt": d})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"prompt": nil})
}

func (s *Server) handlePromptResolve(w http.ResponseWriter, r *http.Request) {
	user, err := identityFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	engine, err := s.rooms.Engine(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	var res game.Resolution
	if err := decodeLooseJSON(r, &res); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := engine.ResolvePrompt(user.PlayerID, res); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshot": engine.Snapshot()})
}

func (s *Server) handleBankrupt(w http.ResponseWriter, r *http.Request) {
	user, err := identityFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	engine, err := s.rooms.Engine(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := engine.DeclareBankruptcy(r.Context(), user.PlayerID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshot": engine.Snapshot()})
}

// maxIdempotencyKeys caps the replay window. Keys are evicted oldest
// first, so the map holds a bounded recent history instead of every key
// ever claimed.
const maxIdempotencyKeys = 4096

func (s *Server) claimIdempotencyKey(roomID string, r *http.Request) error {
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key == "" {
		return nil
	}
	full := roomID + ":" + key
	s.keyMu.Lock()
	defer s.keyMu.Unlock()
	if _, seen := s.seenKeys[full]; seen {
		return errDuplicateRequest
	}
	for len(s.keyOrder) >= maxIdempotencyKeys {
		delete(s.seenKeys, s.keyOrder[0])
		s.keyOrder = s.keyOrder[1:]
	}
	s.seenKeys[full] = struct{}{}
	s.keyOrder = append(s.keyOrder, full)
	return nil
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, game.ErrNotYourTurn), errors.Is(err, game.ErrTurnLocked),
		errors.Is(err, game.ErrGameOver), errors.Is(err, game.ErrLoanOutstanding):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, game.ErrPlayerNotFound), errors.Is(err, game.ErrNoPendingPrompt),
		errors.Is(err, lobby.ErrRoomNotFound), errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, lobby.ErrNotHost), errors.Is(err, lobby.ErrNotMember):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, lobby.ErrAlreadyStarted), errors.Is(err, lobby.ErrNotStarted),
		errors.Is(err, lobby.ErrNotAllReady), errors.Is(err, lobby.ErrTooFewPlayers),
		errors.Is(err, lobby.ErrRoomFull), errors.Is(err, lobby.ErrAlreadyJoined),
		errors.Is(err, store.ErrVersionConflict), errors.Is(err, errDuplicateRequest):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, game.ErrEngineClosed):
		writeError(w, http.StatusGone, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

// decodeLooseJSON accepts arbitrary fields; prompt resolutions are
// free-form payloads the engine pattern-matches on.
func decodeLooseJSON(r *http.Request, out *game.Resolution) error {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	return dec.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
