package db

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// InitDB opens/creates a SQLite DB file and ensures tables exist.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open(sqliteDriverName, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %q: %w", path, err)
	}

	// SQLite is not great with many writers
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA foreign_keys = ON;",
		"PRAGMA busy_timeout = 5000;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	// Fail fast if the DB cannot be reached
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return db, nil
}

const sqliteDriverName = "sqlite"

// Boards keep insertion order through the implicit rowid.
const schemaBoards = `
CREATE TABLE IF NOT EXISTS boards (
    name TEXT PRIMARY KEY,
    board_id INTEGER NOT NULL UNIQUE CHECK (board_id BETWEEN 1 AND 99),
    type TEXT NOT NULL,
    host TEXT,
    hostname TEXT,
    mac_address TEXT,
    web_username TEXT,
    web_password TEXT,
    api_key TEXT,
    last_seen TEXT,
    sensors TEXT NOT NULL DEFAULT '{}',
    device_info TEXT NOT NULL DEFAULT '{}',
    created_at TEXT NOT NULL
);
`

const schemaStatusLog = `
CREATE TABLE IF NOT EXISTS board_status_log (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    ts TEXT NOT NULL,
    board_name TEXT NOT NULL,
    event TEXT NOT NULL CHECK (event IN ('online', 'offline')),
    details TEXT NOT NULL DEFAULT ''
);
`

const schemaStatusLogIndex = `
CREATE INDEX IF NOT EXISTS idx_board_status_log_board ON board_status_log (board_name, seq);
`

// Last known event per board, kept apart from the capped log.
const schemaLastStatus = `
CREATE TABLE IF NOT EXISTS board_last_status (
    board_name TEXT PRIMARY KEY,
    event TEXT NOT NULL
);
`

const schemaUsers = `
CREATE TABLE IF NOT EXISTS users (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    username TEXT UNIQUE NOT NULL,
    password_hash TEXT NOT NULL
);
`

func ensureSchema(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin schema transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for i, stmt := range []string{
		schemaBoards,
		schemaStatusLog,
		schemaStatusLogIndex,
		schemaLastStatus,
		schemaUsers,
	} {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema transaction: %w", err)
	}
	return nil
}
