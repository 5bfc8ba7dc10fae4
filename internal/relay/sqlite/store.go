// Package sqlite persists call signals in a SQLite database and relays them
// to subscribers by polling for new rows.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"skillswap/native/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS call_signals (
	seq                 INTEGER PRIMARY KEY AUTOINCREMENT,
	id                  TEXT NOT NULL UNIQUE,
	call_id             TEXT NOT NULL,
	session_id          TEXT NOT NULL DEFAULT '',
	reply_to            TEXT NOT NULL DEFAULT '',
	from_participant_id TEXT NOT NULL,
	to_participant_id   TEXT NOT NULL,
	signal_type         TEXT NOT NULL,
	signal_data         TEXT NOT NULL,
	created_at          INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS call_signals_recipient
	ON call_signals (call_id, to_participant_id, seq);
`

// Columns added after the first release. Databases created earlier get them
// with ALTER TABLE.
var addedColumns = []string{
	`ALTER TABLE call_signals ADD COLUMN session_id TEXT NOT NULL DEFAULT ''`,
	`ALTER TABLE call_signals ADD COLUMN reply_to TEXT NOT NULL DEFAULT ''`,
}

// Store is a domain.SignalStore backed by the call_signals table.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

var _ domain.SignalStore = (*Store)(nil)

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	// Pragmas go in the DSN so every pooled connection gets them.
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create call_signals table: %w", err)
	}
	for _, stmt := range addedColumns {
		if _, err := db.Exec(stmt); err != nil && !strings.Contains(err.Error(), "duplicate column") {
			db.Close()
			return nil, fmt.Errorf("migrate call_signals table: %w", err)
		}
	}
	return &Store{db: db, path: path}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Append inserts msg. Re-appending a stored message id returns the stored row.
func (s *Store) Append(ctx context.Context, msg domain.SignalMessage) (domain.SignalMessage, error) {
	if err := msg.Validate(); err != nil {
		return domain.SignalMessage{}, err
	}
	if msg.ID == "" {
		return domain.SignalMessage{}, errors.New("signal: id is required")
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO call_signals
			(id, call_id, session_id, reply_to, from_participant_id, to_participant_id, signal_type, signal_data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		msg.ID, msg.CallID, msg.SessionID, msg.ReplyTo, msg.From, msg.To, string(msg.Kind), string(msg.Payload), msg.SentAt.UnixMicro(),
	)
	if err != nil {
		return domain.SignalMessage{}, fmt.Errorf("insert signal: %w", err)
	}

	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, msg.ID)
	stored, err := scanSignal(row)
	if err != nil {
		return domain.SignalMessage{}, fmt.Errorf("read back signal: %w", err)
	}
	return stored, nil
}

const selectColumns = `
	SELECT seq, id, call_id, session_id, reply_to, from_participant_id, to_participant_id, signal_type, signal_data, created_at
	FROM call_signals`

// List returns matching rows in seq order.
func (s *Store) List(ctx context.Context, q domain.SignalQuery) ([]domain.SignalMessage, error) {
	where := []string{"call_id = ?"}
	args := []any{q.CallID}
	if q.To != "" {
		where = append(where, "to_participant_id = ?")
		args = append(args, q.To)
	}
	if q.AfterSeq > 0 {
		where = append(where, "seq > ?")
		args = append(args, q.AfterSeq)
	}
	if !q.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, q.Since.UnixMicro())
	}

	query := selectColumns + " WHERE " + strings.Join(where, " AND ") + " ORDER BY seq"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query signals: %w", err)
	}
	defer rows.Close()

	var out []domain.SignalMessage
	for rows.Next() {
		m, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSignal(sc scanner) (domain.SignalMessage, error) {
	var (
		m       domain.SignalMessage
		kind    string
		payload string
		created int64
	)
	if err := sc.Scan(&m.Seq, &m.ID, &m.CallID, &m.SessionID, &m.ReplyTo, &m.From, &m.To, &kind, &payload, &created); err != nil {
		return domain.SignalMessage{}, err
	}
	m.Kind = domain.SignalKind(kind)
	m.Payload = []byte(payload)
	m.SentAt = time.UnixMicro(created).UTC()
	return m, nil
}
