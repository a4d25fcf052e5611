// Package journal keeps an optional SQLite record of every handled webhook
// event and the outcome of its reply.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// replyTokenPrefixLen bounds how much of a reply token is stored.
const replyTokenPrefixLen = 8

// Entry is one journal row.
type Entry struct {
	ID         int64
	RequestID  string
	Kind       string
	MediaID    string
	ReplyToken string // stored truncated
	Fragments  int
	StatusCode int
	Delivered  bool
	Error      string
	Label      string
	Latency    time.Duration
	CreatedAt  time.Time
}

// Store is the SQLite-backed journal.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates the database file and its directory if needed and applies
// pending migrations.
func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := runMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal migration failed: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Record(ctx context.Context, e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	token := e.ReplyToken
	if len(token) > replyTokenPrefixLen {
		token = token[:replyTokenPrefixLen]
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deliveries
		 (request_id, kind, media_id, reply_token, fragments, status_code, delivered, error, label, latency_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RequestID, e.Kind, e.MediaID, token, e.Fragments, e.StatusCode, e.Delivered,
		e.Error, e.Label, e.Latency.Milliseconds(), e.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record delivery: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, request_id, kind, media_id, reply_token, fragments, status_code,
		        delivered, error, label, latency_ms, created_at
		 FROM deliveries ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query deliveries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var latencyMS int64
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Kind, &e.MediaID, &e.ReplyToken, &e.Fragments,
			&e.StatusCode, &e.Delivered, &e.Error, &e.Label, &latencyMS, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		e.Latency = time.Duration(latencyMS) * time.Millisecond
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune deletes entries older than the cutoff and returns how many went.
func (s *Store) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM deliveries WHERE created_at < ?`, olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune deliveries: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Info("journal pruned", "rows", n, "older_than", olderThan)
	}
	return n, nil
}
