// Package storage persists canvas extractions in SQLite, writes canvas
// images to disk and keeps a rotating JSONL journal of status events.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

const memoryPath = ":memory:"

type openConfig struct {
	busyTimeout int
	synchronous string
	mkdirAll    bool
	schemas     []string
}

// OpenOption customises Open.
type OpenOption func(*openConfig)

// WithBusyTimeout sets PRAGMA busy_timeout in milliseconds. Default: 10000.
func WithBusyTimeout(ms int) OpenOption { return func(c *openConfig) { c.busyTimeout = ms } }

// WithMkdirAll creates the parent directory of the database file.
func WithMkdirAll() OpenOption { return func(c *openConfig) { c.mkdirAll = true } }

// WithSchema queues SQL to run once the database is open.
func WithSchema(s string) OpenOption {
	return func(c *openConfig) { c.schemas = append(c.schemas, s) }
}

// Open opens the SQLite database at path with WAL journaling and foreign
// keys enabled. Use ":memory:" for a private in-memory database.
func Open(path string, opts ...OpenOption) (*sql.DB, error) {
	cfg := openConfig{busyTimeout: 10_000, synchronous: "NORMAL"}
	for _, o := range opts {
		o(&cfg)
	}

	if cfg.mkdirAll && path != memoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("storage: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn(path, cfg))
	if err != nil {
		return nil, fmt.Errorf("storage: open: %w", err)
	}
	if path == memoryPath {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	for _, s := range cfg.schemas {
		if _, err := db.Exec(s); err != nil {
			db.Close()
			return nil, fmt.Errorf("storage: exec schema: %w", err)
		}
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: ping: %w", err)
	}
	return db, nil
}

// dsn carries the pragmas as _pragma parameters; the driver runs them on
// every new pooled connection.
func dsn(path string, cfg openConfig) string {
	pragmas := []string{
		"foreign_keys(1)",
		"journal_mode(WAL)",
		fmt.Sprintf("busy_timeout(%d)", cfg.busyTimeout),
		fmt.Sprintf("synchronous(%s)", cfg.synchronous),
	}
	params := make([]string, len(pragmas))
	for i, p := range pragmas {
		params[i] = "_pragma=" + p
	}
	return path + "?" + strings.Join(params, "&")
}
