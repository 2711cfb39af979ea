// Copyright 2024-2026 Aiku AI

// Package store persists display message mappings and linked user accounts
// in SQLite.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/aiku/discordlink/pkg/display"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store is the SQLite-backed persistence layer. Thread-safe.
type Store struct {
	db *sqlx.DB
}

// displayMessageRow mirrors the display_messages table.
type displayMessageRow struct {
	Module      string `db:"module"`
	TargetKey   string `db:"target_key"`
	Tag         string `db:"tag"`
	ChannelID   string `db:"channel_id"`
	MessageID   string `db:"message_id"`
	ContentHash string `db:"content_hash"`
	UpdatedAt   int64  `db:"updated_at"`
}

// LinkedUser is a remote account linked to a game account.
type LinkedUser struct {
	RemoteID  string    `json:"remote_id"`
	GameUser  string    `json:"game_user"`
	CreatedAt time.Time `json:"created_at"`
}

type linkedUserRow struct {
	RemoteID  string `db:"remote_id"`
	GameUser  string `db:"game_user"`
	CreatedAt int64  `db:"created_at"`
}

// Open opens the database at path and applies pending migrations. The path
// ":memory:" opens a private in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("database path is required")
	}
	dsn := ":memory:"
	if path != ":memory:" {
		dsn = filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sqlx.ConnectContext(ctx, "sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps in-memory databases shared and serializes
	// writers.
	db.SetMaxOpenConns(1)
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			name TEXT PRIMARY KEY,
			applied_at INTEGER NOT NULL
		)`); err != nil {
		return fmt.Errorf("failed to create migration table: %w", err)
	}
	files, err := fs.Glob(migrationFS, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(files)
	for _, file := range files {
		name := filepath.Base(file)
		var applied int
		err := db.GetContext(ctx, &applied, `SELECT COUNT(*) FROM schema_migrations WHERE name = ?`, name)
		if err != nil {
			return fmt.Errorf("failed to check migration %s: %w", name, err)
		}
		if applied > 0 {
			continue
		}
		content, err := migrationFS.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, string(content)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to apply migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (name, applied_at) VALUES (?, ?)`,
			name, time.Now().UTC().UnixMilli()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %s: %w", name, err)
		}
	}
	return nil
}

// DisplayMessages returns every persisted message of a display module.
func (s *Store) DisplayMessages(ctx context.Context, module string) ([]display.StoredMessage, error) {
	var rows []displayMessageRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT module, target_key, tag, channel_id, message_id, content_hash, updated_at
		FROM display_messages
		WHERE module = ?
		ORDER BY target_key, tag`, module)
	if err != nil {
		return nil, fmt.Errorf("failed to list display messages: %w", err)
	}
	out := make([]display.StoredMessage, 0, len(rows))
	for _, r := range rows {
		out = append(out, display.StoredMessage{
			Module:    r.Module,
			TargetKey: r.TargetKey,
			Tag:       r.Tag,
			ChannelID: r.ChannelID,
			MessageID: r.MessageID,
			Hash:      r.ContentHash,
		})
	}
	return out, nil
}

// SaveDisplayMessage inserts or replaces the mapping for (module, target, tag).
func (s *Store) SaveDisplayMessage(ctx context.Context, msg display.StoredMessage) error {
	if msg.Module == "" || msg.TargetKey == "" || msg.Tag == "" {
		return fmt.Errorf("module, target key and tag are required")
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO display_messages (module, target_key, tag, channel_id, message_id, content_hash, updated_at)
		VALUES (:module, :target_key, :tag, :channel_id, :message_id, :content_hash, :updated_at)
		ON CONFLICT (module, target_key, tag) DO UPDATE SET
			channel_id = excluded.channel_id,
			message_id = excluded.message_id,
			content_hash = excluded.content_hash,
			updated_at = excluded.updated_at`,
		displayMessageRow{
			Module:      msg.Module,
			TargetKey:   msg.TargetKey,
			Tag:         msg.Tag,
			ChannelID:   msg.ChannelID,
			MessageID:   msg.MessageID,
			ContentHash: msg.Hash,
			UpdatedAt:   time.Now().UTC().UnixMilli(),
		})
	if err != nil {
		return fmt.Errorf("failed to save display message: %w", err)
	}
	return nil
}

// DeleteDisplayMessage removes a mapping. Deleting a missing row is not an
// error.
func (s *Store) DeleteDisplayMessage(ctx context.Context, module, targetKey, tag string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM display_messages WHERE module = ? AND target_key = ? AND tag = ?`,
		module, targetKey, tag)
	if err != nil {
		return fmt.Errorf("failed to delete display message: %w", err)
	}
	return nil
}

// LinkedGameUser returns the game account linked to a remote user.
func (s *Store) LinkedGameUser(ctx context.Context, remoteID string) (string, bool, error) {
	var name string
	err := s.db.GetContext(ctx, &name, `SELECT game_user FROM linked_users WHERE remote_id = ?`, remoteID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	} else if err != nil {
		return "", false, fmt.Errorf("failed to get linked user: %w", err)
	}
	return name, true, nil
}

// LinkUser links a remote account to a game account, replacing any earlier
// link of the same remote account.
func (s *Store) LinkUser(ctx context.Context, remoteID, gameUser string) error {
	remoteID = strings.TrimSpace(remoteID)
	gameUser = strings.TrimSpace(gameUser)
	if remoteID == "" || gameUser == "" {
		return fmt.Errorf("remote id and game user are required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO linked_users (remote_id, game_user, created_at) VALUES (?, ?, ?)
		ON CONFLICT (remote_id) DO UPDATE SET game_user = excluded.game_user`,
		remoteID, gameUser, time.Now().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to link user: %w", err)
	}
	return nil
}

// UnlinkUser removes the link of a remote account.
func (s *Store) UnlinkUser(ctx context.Context, remoteID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM linked_users WHERE remote_id = ?`, remoteID)
	if err != nil {
		return fmt.Errorf("failed to unlink user: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// LinkedUsers lists every linked account, oldest first.
func (s *Store) LinkedUsers(ctx context.Context) ([]LinkedUser, error) {
	var rows []linkedUserRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT remote_id, game_user, created_at FROM linked_users ORDER BY created_at, remote_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list linked users: %w", err)
	}
	out := make([]LinkedUser, 0, len(rows))
	for _, r := range rows {
		out = append(out, LinkedUser{RemoteID: r.RemoteID, GameUser: r.GameUser, CreatedAt: time.UnixMilli(r.CreatedAt).UTC()})
	}
	return out, nil
}

var _ display.Store = (*Store)(nil)

// TrackTrades adds a user or item name to the trade watchlist and reports
// whether it was new. Names are compared case-insensitively.
func (s *Store) TrackTrades(ctx context.Context, term string) (bool, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return false, fmt.Errorf("tracked term is required")
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO tracked_trades (term, created_at) VALUES (?, ?)
		ON CONFLICT (term) DO NOTHING`,
		term, time.Now().UTC().UnixMilli())
	if err != nil {
		return false, fmt.Errorf("failed to track trades: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to track trades: %w", err)
	}
	return n > 0, nil
}

// UntrackTrades removes a name from the trade watchlist.
func (s *Store) UntrackTrades(ctx context.Context, term string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tracked_trades WHERE term = ?`, strings.TrimSpace(term))
	if err != nil {
		return fmt.Errorf("failed to untrack trades: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// TrackedTrades lists the trade watchlist, oldest first.
func (s *Store) TrackedTrades(ctx context.Context) ([]string, error) {
	var terms []string
	err := s.db.SelectContext(ctx, &terms, `SELECT term FROM tracked_trades ORDER BY created_at, term`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tracked trades: %w", err)
	}
	return terms, nil
}
