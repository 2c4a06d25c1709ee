package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"salesgame/internal/game"
)

type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// SQL is the durable MatchStore. It speaks both SQLite (local and dev)
// and Postgres through database/sql; the compare-and-swap on the version
// column is what makes concurrent nodes safe.
type SQL struct {
	dialect Dialect
	db      *sql.DB
}

// OpenSQL opens and migrates the match database. A Postgres DSN selects
// pgx; anything else is treated as a SQLite file path.
func OpenSQL(ctx context.Context, dsn string) (*SQL, error) {
	dialect := DialectSQLite
	driver := "sqlite"
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dialect = DialectPostgres
		driver = "pgx"
	} else {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s database: %w", dialect, err)
	}

	s := &SQL{dialect: dialect, db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQL) bind(pos int) string {
	if s.dialect == DialectPostgres {
		return fmt.Sprintf("$%d", pos)
	}
	return "?"
}

func (s *SQL) migrate(ctx context.Context) error {
	create := `
		CREATE TABLE IF NOT EXISTS matches (
			room_id    TEXT PRIMARY KEY,
			state      TEXT NOT NULL,
			version    BIGINT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)
	`
	if _, err := s.db.ExecContext(ctx, create); err != nil {
		return fmt.Errorf("create matches table: %w", err)
	}
	return nil
}

func (s *SQL) Create(ctx context.Context, snap game.MatchState) error {
	state, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode match state: %w", err)
	}
	q := fmt.Sprintf(
		"INSERT INTO matches (room_id, state, version, updated_at) VALUES (%s, %s, 1, %s)",
		s.bind(1), s.bind(2), s.bind(3),
	)
	if _, err := s.db.ExecContext(ctx, q, snap.RoomID, string(state), time.Now().UTC()); err != nil {
		if isDuplicateKey(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert match %s: %w", snap.RoomID, err)
	}
	return nil
}

func (s *SQL) Load(ctx context.Context, roomID string) (game.MatchState, int64, error) {
	q := fmt.Sprintf("SELECT state, version FROM matches WHERE room_id = %s", s.bind(1))
	var raw string
	var version int64
	err := s.db.QueryRowContext(ctx, q, roomID).Scan(&raw, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return game.MatchState{}, 0, ErrNotFound
	}
	if err != nil {
		return game.MatchState{}, 0, fmt.Errorf("load match %s: %w", roomID, err)
	}
	var snap game.MatchState
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return game.MatchState{}, 0, fmt.Errorf("decode match %s: %w", roomID, err)
	}
	return snap, version, nil
}

// Save writes the snapshot only when expectVersion is still current. The
// UPDATE's version predicate is the whole concurrency story: zero rows
// touched means someone else won the race.
func (s *SQL) Save(ctx context.Context, snap game.MatchState, expectVersion int64) error {
	state, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode match state: %w", err)
	}
	q := fmt.Sprintf(
		"UPDATE matches SET state = %s, version = version + 1, updated_at = %s WHERE room_id = %s AND version = %s",
		s.bind(1), s.bind(2), s.bind(3), s.bind(4),
	)
	res, err := s.db.ExecContext(ctx, q, string(state), time.Now().UTC(), snap.RoomID, expectVersion)
	if err != nil {
		return fmt.Errorf("save match %s: %w", snap.RoomID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save match %s: %w", snap.RoomID, err)
	}
	if n == 0 {
		if _, _, lerr := s.Load(ctx, snap.RoomID); errors.Is(lerr, ErrNotFound) {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	return nil
}

func (s *SQL) List(ctx context.Context) ([]game.MatchState, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT state FROM matches")
	if err != nil {
		return nil, fmt.Errorf("list matches: %w", err)
	}
	defer rows.Close()
	var out []game.MatchState
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		var snap game.MatchState
		if err := json.Unmarshal([]byte(raw), &snap); err != nil {
			return nil, fmt.Errorf("decode match: %w", err)
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate matches: %w", err)
	}
	return out, nil
}

// ListStaleBefore returns matches whose row has not been written since
// the cutoff. Finished-match retention and stale-lock sweeps both start
// from this set.
func (s *SQL) ListStaleBefore(ctx context.Context, cutoff time.Time) ([]game.MatchState, error) {
	q := fmt.Sprintf("SELECT state FROM matches WHERE updated_at < %s", s.bind(1))
	rows, err := s.db.QueryContext(ctx, q, cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("list stale matches: %w", err)
	}
	defer rows.Close()
	var out []game.MatchState
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		var snap game.MatchState
		if err := json.Unmarshal([]byte(raw), &snap); err != nil {
			return nil, fmt.Errorf("decode match: %w", err)
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale matches: %w", err)
	}
	return out, nil
}

func (s *SQL) Delete(ctx context.Context, roomID string) error {
	q := fmt.Sprintf("DELETE FROM matches WHERE room_id = %s", s.bind(1))
	res, err := s.db.ExecContext(ctx, q, roomID)
	if err != nil {
		return fmt.Errorf("delete match %s: %w", roomID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQL) Close() error { return s.db.Close() }

func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}
