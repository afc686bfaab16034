package push

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// SQLiteRegistry keeps subscriptions in a SQLite database so they survive restarts.
type SQLiteRegistry struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLiteRegistry opens the registry in the given file.
// If file name is empty, a new in-memory db is opened.
func NewSQLiteRegistry(filename string) (SQLiteRegistry, error) {
	memory := filename == ""
	if memory {
		filename = ":memory:"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return SQLiteRegistry{}, err
	}
	if memory {
		db.SetMaxOpenConns(1)
	}
	statements := []string{
		`CREATE TABLE IF NOT EXISTS subscriptions (
			endpoint TEXT PRIMARY KEY,
			expiration_time INTEGER,
			p256dh TEXT,
			auth TEXT,
			created_at INTEGER
		)`,
	}
	if !memory {
		statements = append(statements, "PRAGMA journal_mode=WAL")
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return SQLiteRegistry{}, fmt.Errorf("init sqlite registry: %w", err)
		}
	}
	return SQLiteRegistry{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

func (s SQLiteRegistry) Add(ctx context.Context, sub Subscription) error {
	sub = sub.normalized()
	if err := sub.Validate(); err != nil {
		return err
	}
	var expiration sql.NullInt64
	if sub.ExpirationTime != nil {
		expiration = sql.NullInt64{Int64: *sub.ExpirationTime, Valid: true}
	}
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions (endpoint, expiration_time, p256dh, auth, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(endpoint) DO UPDATE SET expiration_time = excluded.expiration_time, p256dh = excluded.p256dh, auth = excluded.auth`,
		sub.Endpoint, expiration, sub.Keys.P256dh, sub.Keys.Auth, time.Now().UnixNano())
	return err
}

func (s SQLiteRegistry) All(ctx context.Context) ([]Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT endpoint, expiration_time, p256dh, auth FROM subscriptions ORDER BY created_at, rowid")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	subs := make([]Subscription, 0)
	for rows.Next() {
		var sub Subscription
		var expiration sql.NullInt64
		if err := rows.Scan(&sub.Endpoint, &expiration, &sub.Keys.P256dh, &sub.Keys.Auth); err != nil {
			return subs, err
		}
		if expiration.Valid {
			sub.ExpirationTime = &expiration.Int64
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (s SQLiteRegistry) Remove(ctx context.Context, endpoint string) (bool, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	result, err := s.db.ExecContext(ctx, "DELETE FROM subscriptions WHERE endpoint = ?", strings.TrimSpace(endpoint))
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	return rows > 0, err
}

func (s SQLiteRegistry) Close() error {
	return s.db.Close()
}
