// Package toolconfig persists per-tool user configuration in SQLite.
// Values of sensitive fields are encrypted at rest.
package toolconfig

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	toolcrypto "github.com/nupi-ai/tool/internal/toolconfig/crypto"
)

// Options describes parameters for opening a store.
type Options struct {
	DBPath   string // Path to config.db
	ReadOnly bool   // Open database in read-only mode
}

// Store provides access to saved tool configuration.
type Store struct {
	db            *sql.DB
	dbPath        string
	readOnly      bool
	encryptionKey []byte
}

// Entry is one saved configuration value.
type Entry struct {
	Key       string
	Value     string
	Sensitive bool
}

// NotFoundError indicates a requested record does not exist.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e NotFoundError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s not found", e.Entity)
	}
	return fmt.Sprintf("%s %s not found", e.Entity, e.Key)
}

// IsNotFound returns true when err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var target NotFoundError
	return errors.As(err, &target)
}

// Open opens (creating if needed) the store at opts.DBPath.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.DBPath == "" {
		return nil, errors.New("toolconfig: database path is required")
	}

	dsn := opts.DBPath
	if opts.ReadOnly {
		dsn = fmt.Sprintf("file:%s?mode=ro", opts.DBPath)
	} else if err := os.MkdirAll(filepath.Dir(opts.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("toolconfig: create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("toolconfig: open sqlite store: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := applyPragmas(ctx, db, opts.ReadOnly); err != nil {
		db.Close()
		return nil, err
	}
	if !opts.ReadOnly {
		if err := applySchema(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
	}

	encKey, err := loadOrCreateKey(ctx, db, opts)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{
		db:            db,
		dbPath:        opts.DBPath,
		readOnly:      opts.ReadOnly,
		encryptionKey: encKey,
	}, nil
}

// loadOrCreateKey only creates a key when the database holds no encrypted
// values; otherwise existing secrets would become unreadable.
func loadOrCreateKey(ctx context.Context, db *sql.DB, opts Options) ([]byte, error) {
	keyPath := toolcrypto.KeyPath(opts.DBPath)
	key, err := toolcrypto.LoadKey(keyPath)
	if opts.ReadOnly {
		if err != nil {
			log.Printf("[ToolConfig] WARNING: failed to load encryption key (read-only): %v", err)
		}
		return key, nil
	}
	if err != nil || key != nil {
		return key, err
	}

	hasEnc, err := toolcrypto.HasEncryptedValues(ctx, db)
	if err != nil {
		return nil, err
	}
	if hasEnc {
		return nil, fmt.Errorf("toolconfig: encryption key %s is missing but the database already contains encrypted values; restore the key file or unset the affected values", keyPath)
	}
	return toolcrypto.CreateKey(keyPath)
}

// Close finalises the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string { return s.dbPath }

// Set upserts entries for tool in a single transaction.
func (s *Store) Set(ctx context.Context, tool string, entries ...Entry) error {
	if s.readOnly {
		return errors.New("toolconfig: set: store opened read-only")
	}
	if len(entries) == 0 {
		return nil
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
            INSERT INTO tool_config (tool, key, value, sensitive, updated_at)
            VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
            ON CONFLICT(tool, key) DO UPDATE SET
                value = excluded.value,
                sensitive = excluded.sensitive,
                updated_at = CURRENT_TIMESTAMP
        `)
		if err != nil {
			return fmt.Errorf("toolconfig: prepare set: %w", err)
		}
		defer stmt.Close()

		for _, e := range entries {
			stored := e.Value
			if e.Sensitive {
				if s.encryptionKey == nil {
					return fmt.Errorf("toolconfig: cannot store sensitive %q without an encryption key", e.Key)
				}
				stored, err = toolcrypto.EncryptValue(s.encryptionKey, e.Value)
				if err != nil {
					return fmt.Errorf("toolconfig: encrypt %q: %w", e.Key, err)
				}
			}
			if _, err := stmt.ExecContext(ctx, tool, e.Key, stored, boolToInt(e.Sensitive)); err != nil {
				return fmt.Errorf("toolconfig: exec set %q: %w", e.Key, err)
			}
		}
		return nil
	})
}

// Get returns a single saved value.
func (s *Store) Get(ctx context.Context, tool, key string) (Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT key, value, sensitive FROM tool_config WHERE tool = ? AND key = ?`,
		tool, key,
	)
	e, err := s.scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, NotFoundError{Entity: "config value", Key: tool + " " + key}
	}
	return e, err
}

// List returns every saved value for tool ordered by key.
func (s *Store) List(ctx context.Context, tool string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value, sensitive FROM tool_config WHERE tool = ? ORDER BY key`,
		tool,
	)
	if err != nil {
		return nil, fmt.Errorf("toolconfig: list: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := s.scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("toolconfig: iterate rows: %w", err)
	}
	return entries, nil
}

// Values returns the saved configuration for tool as a plain map.
func (s *Store) Values(ctx context.Context, tool string) (map[string]string, error) {
	entries, err := s.List(ctx, tool)
	if err != nil {
		return nil, err
	}
	values := make(map[string]string, len(entries))
	for _, e := range entries {
		values[e.Key] = e.Value
	}
	return values, nil
}

// Unset removes one value.
func (s *Store) Unset(ctx context.Context, tool, key string) error {
	if s.readOnly {
		return errors.New("toolconfig: unset: store opened read-only")
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM tool_config WHERE tool = ? AND key = ?`, tool, key)
	if err != nil {
		return fmt.Errorf("toolconfig: unset %q: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NotFoundError{Entity: "config value", Key: tool + " " + key}
	}
	return nil
}

// Delete removes all values for tool and returns how many were removed.
func (s *Store) Delete(ctx context.Context, tool string) (int, error) {
	if s.readOnly {
		return 0, errors.New("toolconfig: delete: store opened read-only")
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM tool_config WHERE tool = ?`, tool)
	if err != nil {
		return 0, fmt.Errorf("toolconfig: delete %s: %w", tool, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Tools lists every tool that has saved configuration.
func (s *Store) Tools(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT tool FROM tool_config ORDER BY tool`)
	if err != nil {
		return nil, fmt.Errorf("toolconfig: list tools: %w", err)
	}
	defer rows.Close()

	var tools []string
	for rows.Next() {
		var tool string
		if err := rows.Scan(&tool); err != nil {
			return nil, fmt.Errorf("toolconfig: scan tool: %w", err)
		}
		tools = append(tools, tool)
	}
	return tools, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanEntry(row rowScanner) (Entry, error) {
	var (
		e         Entry
		stored    string
		sensitive int
	)
	if err := row.Scan(&e.Key, &stored, &sensitive); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, err
		}
		return Entry{}, fmt.Errorf("toolconfig: scan row: %w", err)
	}
	e.Sensitive = sensitive != 0
	if !e.Sensitive {
		e.Value = stored
		return e, nil
	}
	if s.encryptionKey == nil {
		return Entry{}, fmt.Errorf("toolconfig: %q is encrypted but no decryption key is available", e.Key)
	}
	plain, err := toolcrypto.DecryptValue(s.encryptionKey, stored)
	if err != nil {
		return Entry{}, fmt.Errorf("toolconfig: decrypt %q: %w", e.Key, err)
	}
	e.Value = plain
	return e, nil
}

func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("toolconfig: rollback failed after %v: %w", err, rbErr)
		}
		return err
	}

	return tx.Commit()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
