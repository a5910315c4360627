package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mdario971/cactus-flasher/internal/models"
)

type BoardSQLite struct {
	db *sql.DB
}

func NewBoardSQLite(db *sql.DB) *BoardSQLite {
	return &BoardSQLite{db: db}
}

var _ BoardRepo = (*BoardSQLite)(nil)

const (
	boardColumns = `name, board_id, type, host, hostname, mac_address, web_username, web_password,
		api_key, last_seen, sensors, device_info, created_at`

	selectBoardsSQL = `SELECT ` + boardColumns + ` FROM boards ORDER BY rowid`
	selectBoardSQL  = `SELECT ` + boardColumns + ` FROM boards WHERE name = ?`

	insertBoardSQL = `
		INSERT INTO boards (` + boardColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	deleteBoardSQL      = `DELETE FROM boards WHERE name = ?`
	deleteLastStatusSQL = `DELETE FROM board_last_status WHERE board_name = ?`

	selectScanStateSQL = `SELECT mac_address, sensors, device_info FROM boards WHERE name = ?`

	// The stored MAC is never overwritten by a scraped one.
	updateScanSQL = `
		UPDATE boards SET
			mac_address = COALESCE(NULLIF(mac_address, ''), ?),
			sensors = ?,
			device_info = ?,
			last_seen = ?
		WHERE name = ?
	`
)

// timeLayout is used for every timestamp stored as TEXT.
const timeLayout = time.RFC3339Nano

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBoard(rs rowScanner) (models.Board, error) {
	var b models.Board
	var host, hostname, mac, user, pass, apiKey, lastSeen sql.NullString
	var sensorsJSON, infoJSON, createdAt, typStr string
	if err := rs.Scan(
		&b.Name,
		&b.ID,
		&typStr,
		&host,
		&hostname,
		&mac,
		&user,
		&pass,
		&apiKey,
		&lastSeen,
		&sensorsJSON,
		&infoJSON,
		&createdAt,
	); err != nil {
		return models.Board{}, err
	}
	b.Type = models.BoardType(typStr)
	b.Host, b.Hostname, b.MACAddress = host.String, hostname.String, mac.String
	b.WebUsername, b.WebPassword, b.APIKey = user.String, pass.String, apiKey.String

	if lastSeen.Valid && lastSeen.String != "" {
		ts, err := time.Parse(timeLayout, lastSeen.String)
		if err != nil {
			return models.Board{}, fmt.Errorf("parse last_seen of %q: %w", b.Name, err)
		}
		b.LastSeen = &ts
	}
	if ts, err := time.Parse(timeLayout, createdAt); err == nil {
		b.CreatedAt = ts
	}

	var err error
	if b.Sensors, err = unmarshalSensors(sensorsJSON); err != nil {
		return models.Board{}, fmt.Errorf("decode sensors of %q: %w", b.Name, err)
	}
	if b.DeviceInfo, err = unmarshalInfo(infoJSON); err != nil {
		return models.Board{}, fmt.Errorf("decode device_info of %q: %w", b.Name, err)
	}
	return b, nil
}

// List returns every board in registration order.
func (r *BoardSQLite) List(ctx context.Context) ([]models.Board, error) {
	rows, err := r.db.QueryContext(ctx, selectBoardsSQL)
	if err != nil {
		return nil, fmt.Errorf("select boards: %w", err)
	}
	defer rows.Close()

	out := make([]models.Board, 0, 16)
	for rows.Next() {
		b, err := scanBoard(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *BoardSQLite) Get(ctx context.Context, name string) (models.Board, error) {
	b, err := scanBoard(r.db.QueryRowContext(ctx, selectBoardSQL, name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Board{}, models.NotFound("board %q", name)
		}
		return models.Board{}, fmt.Errorf("select board %q: %w", name, err)
	}
	return b, nil
}

// Create inserts b. A name or id collision is reported as a validation error.
func (r *BoardSQLite) Create(ctx context.Context, b models.Board) error {
	sensors, err := marshalJSON(b.Sensors)
	if err != nil {
		return err
	}
	info, err := marshalJSON(b.DeviceInfo)
	if err != nil {
		return err
	}
	created := b.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	_, err = r.db.ExecContext(ctx, insertBoardSQL,
		b.Name,
		b.ID,
		string(b.Type),
		nullable(b.Host),
		nullable(b.Hostname),
		nullable(b.MACAddress),
		nullable(b.WebUsername),
		nullable(b.WebPassword),
		nullable(b.APIKey),
		formatTime(b.LastSeen),
		sensors,
		info,
		created.UTC().Format(timeLayout),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return models.Invalid("board", "name %q or id %d is already registered", b.Name, b.ID)
		}
		return fmt.Errorf("insert board %q: %w", b.Name, err)
	}
	return nil
}

// Update applies the non-nil fields of u and returns the stored board.
func (r *BoardSQLite) Update(ctx context.Context, name string, u models.BoardUpdate) (models.Board, error) {
	var (
		sets []string
		args []any
	)
	set := func(col string, v *string) {
		if v != nil {
			sets = append(sets, col+" = ?")
			args = append(args, nullable(*v))
		}
	}
	target := name
	if u.Name != nil && *u.Name != name {
		sets = append(sets, "name = ?")
		args = append(args, *u.Name)
		target = *u.Name
	}
	if u.Type != nil {
		sets = append(sets, "type = ?")
		args = append(args, string(*u.Type))
	}
	set("host", u.Host)
	set("hostname", u.Hostname)
	set("mac_address", u.MACAddress)
	set("web_username", u.WebUsername)
	set("web_password", u.WebPassword)
	set("api_key", u.APIKey)

	if len(sets) > 0 {
		q := "UPDATE boards SET " + strings.Join(sets, ", ") + " WHERE name = ?"
		res, err := r.db.ExecContext(ctx, q, append(args, name)...)
		if err != nil {
			if isUniqueViolation(err) {
				return models.Board{}, models.Invalid("name", "%q is already registered", target)
			}
			return models.Board{}, fmt.Errorf("update board %q: %w", name, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return models.Board{}, models.NotFound("board %q", name)
		}
	}
	return r.Get(ctx, target)
}

// Delete removes the board and forgets its last known status.
func (r *BoardSQLite) Delete(ctx context.Context, name string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete board: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, deleteBoardSQL, name)
	if err != nil {
		return fmt.Errorf("delete board %q: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for board %q: %w", name, err)
	}
	if n == 0 {
		return models.NotFound("board %q", name)
	}
	if _, err := tx.ExecContext(ctx, deleteLastStatusSQL, name); err != nil {
		return fmt.Errorf("delete last status of %q: %w", name, err)
	}
	return tx.Commit()
}

// SaveScan writes probe results back. Scraped sensors and device info are merged
// into what is stored; a MAC is only recorded when none is known yet.
func (r *BoardSQLite) SaveScan(ctx context.Context, name string, u models.ScanUpdate) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save scan: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		mac                   sql.NullString
		sensorsJSON, infoJSON string
	)
	if err := tx.QueryRowContext(ctx, selectScanStateSQL, name).Scan(&mac, &sensorsJSON, &infoJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.NotFound("board %q", name)
		}
		return fmt.Errorf("select scan state of %q: %w", name, err)
	}

	sensors, err := unmarshalSensors(sensorsJSON)
	if err != nil {
		return fmt.Errorf("decode sensors of %q: %w", name, err)
	}
	info, err := unmarshalInfo(infoJSON)
	if err != nil {
		return fmt.Errorf("decode device_info of %q: %w", name, err)
	}
	for k, v := range u.Sensors {
		if sensors == nil {
			sensors = make(map[string]models.Sensor, len(u.Sensors))
		}
		sensors[k] = v
	}
	for k, v := range u.DeviceInfo {
		if info == nil {
			info = make(map[string]models.Value, len(u.DeviceInfo))
		}
		info[k] = v
	}

	sensorsOut, err := marshalJSON(sensors)
	if err != nil {
		return err
	}
	infoOut, err := marshalJSON(info)
	if err != nil {
		return err
	}
	seen := u.LastSeen
	if seen.IsZero() {
		seen = time.Now()
	}
	if _, err := tx.ExecContext(ctx, updateScanSQL,
		nullable(u.MACAddress),
		sensorsOut,
		infoOut,
		seen.UTC().Format(timeLayout),
		name,
	); err != nil {
		return fmt.Errorf("update scan of %q: %w", name, err)
	}
	return tx.Commit()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func formatTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

func marshalJSON[T any](m map[string]T) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode json column: %w", err)
	}
	return string(b), nil
}

func unmarshalSensors(s string) (map[string]models.Sensor, error) {
	if s == "" || s == "{}" {
		return nil, nil
	}
	var m map[string]models.Sensor
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func unmarshalInfo(s string) (map[string]models.Value, error) {
	if s == "" || s == "{}" {
		return nil, nil
	}
	var m map[string]models.Value
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
