package indexer

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"tradesee/core/events"
	"tradesee/core/types"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// Record is one published escrow event.
type Record struct {
	Sequence   int64             `json:"sequence"`
	Type       string            `json:"type"`
	Contract   string            `json:"contract,omitempty"`
	Attributes map[string]string `json:"attributes"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// Filter narrows a List query. Zero fields match everything.
type Filter struct {
	Type     string
	Contract string
	// After returns records with a sequence strictly greater than the cursor.
	After int64
	Limit int
}

// SQLiteStore is an append-only log of committed escrow events for explorers
// and settlement dashboards. It implements events.Emitter.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	nowFn  func() time.Time
}

var _ events.Emitter = (*SQLiteStore)(nil)

// NewSQLiteStore opens or creates the event database at path. Use ":memory:"
// for an ephemeral index.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("indexer: empty db path")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single connection keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)
	store := &SQLiteStore{db: db, logger: slog.Default(), nowFn: time.Now}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) init() error {
	schema := []string{
		`PRAGMA journal_mode=WAL;`,
		`CREATE TABLE IF NOT EXISTS events (
            sequence INTEGER PRIMARY KEY AUTOINCREMENT,
            type TEXT NOT NULL,
            contract TEXT,
            payload TEXT NOT NULL,
            created_at TIMESTAMP NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS events_contract ON events(contract, sequence);`,
		`CREATE INDEX IF NOT EXISTS events_type ON events(type, sequence);`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SetLogger overrides the logger used to report failed writes from Emit.
func (s *SQLiteStore) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetNowFunc overrides the clock stamping appended records.
func (s *SQLiteStore) SetNowFunc(now func() time.Time) {
	if now != nil {
		s.nowFn = now
	}
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Emit implements events.Emitter. Write failures are logged; the committed
// state transition that produced the event is not affected.
func (s *SQLiteStore) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	if _, err := s.Append(context.Background(), evt.Event()); err != nil {
		s.logger.Error("index event", slog.String("type", evt.EventType()), slog.Any("error", err))
	}
}

// Append stores evt and returns its sequence number.
func (s *SQLiteStore) Append(ctx context.Context, evt *types.Event) (int64, error) {
	if evt == nil {
		return 0, errors.New("indexer: nil event")
	}
	payload, err := json.Marshal(evt.Attributes)
	if err != nil {
		return 0, err
	}
	var contract sql.NullString
	if c := evt.Attr("contract"); c != "" {
		contract = sql.NullString{String: c, Valid: true}
	}
	const stmt = `INSERT INTO events(type, contract, payload, created_at) VALUES(?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, stmt, evt.Type, contract, string(payload), s.nowFn().UTC())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// List returns records matching f in sequence order.
func (s *SQLiteStore) List(ctx context.Context, f Filter) ([]Record, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	var (
		clauses = []string{"sequence > ?"}
		args    = []any{f.After}
	)
	if t := strings.TrimSpace(f.Type); t != "" {
		clauses = append(clauses, "type = ?")
		args = append(args, t)
	}
	if c := strings.TrimSpace(f.Contract); c != "" {
		clauses = append(clauses, "contract = ?")
		args = append(args, c)
	}
	args = append(args, limit)
	query := `SELECT sequence, type, contract, payload, created_at FROM events WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY sequence ASC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Record, 0)
	for rows.Next() {
		var (
			rec      Record
			contract sql.NullString
			payload  string
		)
		if err := rows.Scan(&rec.Sequence, &rec.Type, &contract, &payload, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Contract = contract.String
		if err := json.Unmarshal([]byte(payload), &rec.Attributes); err != nil {
			return nil, fmt.Errorf("indexer: decode event %d: %w", rec.Sequence, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Count returns the number of stored records.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n)
	return n, err
}
