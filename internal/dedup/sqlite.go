package dedup

import (
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"gapscan/pkg/model"
)

// SQLiteStore persists dedup keys to a SQLite database.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteStore opens (or creates) the database and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL mode so the clear job can run while a scanner reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Printf("[DEDUP] sqlite store opened: %s", dbPath)
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sent_alerts (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			ticker       TEXT    NOT NULL,
			triggered_at INTEGER NOT NULL,
			pattern      TEXT    NOT NULL,
			bar_size     TEXT    NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_sent_key
			ON sent_alerts(ticker, triggered_at, pattern, bar_size)`,
		`CREATE INDEX IF NOT EXISTS idx_sent_ticker_pattern
			ON sent_alerts(ticker, pattern)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}
	return nil
}

func (s *SQLiteStore) ExistsSent(key model.DedupKey) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM sent_alerts WHERE ticker=? AND triggered_at=? AND pattern=? AND bar_size=?`,
		key.Ticker, key.Trigger.Unix(), key.Pattern.String(), key.BarSize.String(),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query sent: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) RecordSent(keys []model.DedupKey) error {
	if len(keys) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	for _, key := range keys {
		if _, err := tx.Exec(
			`INSERT OR IGNORE INTO sent_alerts (ticker, triggered_at, pattern, bar_size) VALUES (?,?,?,?)`,
			key.Ticker, key.Trigger.Unix(), key.Pattern.String(), key.BarSize.String(),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert %s: %w", key.Ticker, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) CountSentToday(ticker string, pattern model.PatternName, day time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	y, m, d := day.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, day.Location())
	end := start.Add(24 * time.Hour)

	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM sent_alerts WHERE ticker=? AND pattern=? AND triggered_at >= ? AND triggered_at < ?`,
		ticker, pattern.String(), start.Unix(), end.Unix(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count today: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) LastSent(ticker string, pattern model.PatternName) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var unix sql.NullInt64
	err := s.db.QueryRow(
		`SELECT MAX(triggered_at) FROM sent_alerts WHERE ticker=? AND pattern=?`,
		ticker, pattern.String(),
	).Scan(&unix)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("last sent: %w", err)
	}
	if !unix.Valid {
		return time.Time{}, false, nil
	}
	return time.Unix(unix.Int64, 0).UTC(), true, nil
}

func (s *SQLiteStore) ClearAll() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM sent_alerts`)
	if err != nil {
		return 0, fmt.Errorf("clear: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
