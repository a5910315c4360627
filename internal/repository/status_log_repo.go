package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mdario971/cactus-flasher/internal/models"
)

// StatusLogCap is the number of entries kept; older ones are evicted first.
const StatusLogCap = 500

type StatusLogSQLite struct {
	db  *sql.DB
	cap int
}

func NewStatusLogSQLite(db *sql.DB) *StatusLogSQLite {
	return &StatusLogSQLite{db: db, cap: StatusLogCap}
}

var _ StatusLogRepo = (*StatusLogSQLite)(nil)

const (
	selectLastStatusSQL = `SELECT event FROM board_last_status WHERE board_name = ?`

	upsertLastStatusSQL = `
		INSERT INTO board_last_status (board_name, event) VALUES (?, ?)
		ON CONFLICT(board_name) DO UPDATE SET event = excluded.event
	`

	insertStatusLogSQL = `INSERT INTO board_status_log (ts, board_name, event, details) VALUES (?, ?, ?, ?)`

	trimStatusLogSQL = `
		DELETE FROM board_status_log
		WHERE seq NOT IN (SELECT seq FROM board_status_log ORDER BY seq DESC LIMIT ?)
	`

	deleteStatusEntrySQL = `
		DELETE FROM board_status_log
		WHERE seq = (
			SELECT seq FROM board_status_log
			WHERE ts = ? AND board_name = ?
			ORDER BY seq DESC LIMIT 1
		)
	`

	clearStatusLogSQL  = `DELETE FROM board_status_log`
	clearLastStatusSQL = `DELETE FROM board_last_status`
)

// Record appends e unless it repeats the board's last known event. The check, the
// append and the trim run in one transaction so concurrent scans cannot both log.
func (r *StatusLogSQLite) Record(ctx context.Context, e models.StatusLogEntry) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin status record: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var last string
	err = tx.QueryRowContext(ctx, selectLastStatusSQL, e.BoardName).Scan(&last)
	switch {
	case err == nil && last == e.Event:
		return false, nil
	case err != nil && !errors.Is(err, sql.ErrNoRows):
		return false, fmt.Errorf("select last status of %q: %w", e.BoardName, err)
	}

	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	if _, err := tx.ExecContext(ctx, upsertLastStatusSQL, e.BoardName, e.Event); err != nil {
		return false, fmt.Errorf("upsert last status of %q: %w", e.BoardName, err)
	}
	if _, err := tx.ExecContext(ctx, insertStatusLogSQL,
		ts.UTC().Format(timeLayout),
		e.BoardName,
		e.Event,
		e.Details,
	); err != nil {
		return false, fmt.Errorf("insert status entry: %w", err)
	}
	if _, err := tx.ExecContext(ctx, trimStatusLogSQL, r.cap); err != nil {
		return false, fmt.Errorf("trim status log: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit status record: %w", err)
	}
	return true, nil
}

// List returns up to limit entries, newest first, optionally for one board.
func (r *StatusLogSQLite) List(ctx context.Context, limit int, board string) ([]models.StatusLogEntry, error) {
	q := `SELECT ts, board_name, event, details FROM board_status_log`
	var args []any
	if board != "" {
		q += " WHERE board_name = ?"
		args = append(args, board)
	}
	q += " ORDER BY seq DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("select status log: %w", err)
	}
	defer rows.Close()

	out := make([]models.StatusLogEntry, 0, limit)
	for rows.Next() {
		var (
			e  models.StatusLogEntry
			ts string
		)
		if err := rows.Scan(&ts, &e.BoardName, &e.Event, &e.Details); err != nil {
			return nil, err
		}
		if e.Timestamp, err = time.Parse(timeLayout, ts); err != nil {
			return nil, fmt.Errorf("parse status timestamp %q: %w", ts, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteEntry removes the entry with exactly this timestamp and board.
func (r *StatusLogSQLite) DeleteEntry(ctx context.Context, ts time.Time, board string) error {
	res, err := r.db.ExecContext(ctx, deleteStatusEntrySQL, ts.UTC().Format(timeLayout), board)
	if err != nil {
		return fmt.Errorf("delete status entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for status entry: %w", err)
	}
	if n == 0 {
		return models.NotFound("status entry %s for %q", ts.UTC().Format(timeLayout), board)
	}
	return nil
}

// Clear drops every entry and the last known status of every board.
func (r *StatusLogSQLite) Clear(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin clear status log: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{clearStatusLogSQL, clearLastStatusSQL} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("clear status log: %w", err)
		}
	}
	return tx.Commit()
}
