package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/btsentry/btsentry/internal/config"
	"github.com/btsentry/btsentry/internal/core"
	"github.com/btsentry/btsentry/internal/logger"
	"github.com/btsentry/btsentry/pkg/types"
)

// Store persists sessions, discovered devices and scenario outcomes
// for later reporting. Schema is migrated on open.
type Store struct {
	db  *sqlx.DB
	log *logger.Logger
}

var _ core.ResultStore = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS devices (
	session_id    TEXT NOT NULL REFERENCES sessions(id),
	mac           TEXT NOT NULL,
	name          TEXT,
	type          TEXT,
	device_class  INTEGER,
	major_class   TEXT,
	rssi          INTEGER,
	discovered_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS scenario_results (
	id          TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL REFERENCES sessions(id),
	kind        TEXT NOT NULL,
	target      TEXT NOT NULL,
	status      TEXT NOT NULL,
	started_at  TIMESTAMP,
	finished_at TIMESTAMP,
	exit_code   INTEGER,
	error       TEXT,
	request     TEXT NOT NULL,
	output      TEXT
);

CREATE INDEX IF NOT EXISTS idx_devices_session ON devices(session_id);
CREATE INDEX IF NOT EXISTS idx_results_session ON scenario_results(session_id);
CREATE INDEX IF NOT EXISTS idx_results_target ON scenario_results(target);
`

func NewStore(cfg config.DatabaseConfig, log *logger.Logger) (*Store, error) {
	db, err := sqlx.Connect(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("database: connect: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("database: migrate: %w", err)
	}
	return &Store{db: db, log: log.WithComponent("database")}, nil
}

func (s *Store) SaveSession(ctx context.Context, record types.SessionRecord) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("database: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (id, created_at) VALUES (?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		record.ID, record.CreatedAt); err != nil {
		return fmt.Errorf("database: insert session: %w", err)
	}

	// Reinserting a session replaces its contents wholesale; the
	// record is the source of truth.
	if _, err := tx.ExecContext(ctx, `DELETE FROM devices WHERE session_id = ?`, record.ID); err != nil {
		return fmt.Errorf("database: clear devices: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM scenario_results WHERE session_id = ?`, record.ID); err != nil {
		return fmt.Errorf("database: clear results: %w", err)
	}

	for _, device := range record.Devices {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO devices (session_id, mac, name, type, device_class, major_class, rssi, discovered_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			record.ID, device.MAC, device.Name, device.Type,
			device.DeviceClass, device.MajorClass, device.RSSI, device.DiscoveredAt); err != nil {
			return fmt.Errorf("database: insert device: %w", err)
		}
	}

	for _, snap := range record.Scenarios {
		request, err := json.Marshal(snap.Request)
		if err != nil {
			return fmt.Errorf("database: marshal request: %w", err)
		}
		output, err := json.Marshal(snap.Output)
		if err != nil {
			return fmt.Errorf("database: marshal output: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO scenario_results (id, session_id, kind, target, status, started_at, finished_at, exit_code, error, request, output)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			snap.ID, record.ID, snap.Request.Kind, snap.Request.Target, snap.Status,
			snap.StartedAt, snap.FinishedAt, snap.ExitCode, snap.Error,
			string(request), string(output)); err != nil {
			return fmt.Errorf("database: insert result: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("database: commit: %w", err)
	}
	s.log.Debugw("Session saved",
		"session_id", record.ID,
		"devices", len(record.Devices),
		"scenarios", len(record.Scenarios))
	return nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (*types.SessionRecord, error) {
	var row struct {
		ID        string    `db:"id"`
		CreatedAt time.Time `db:"created_at"`
	}
	err := s.db.GetContext(ctx, &row, `SELECT id, created_at FROM sessions WHERE id = ?`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("database: session %s not found", sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("database: get session: %w", err)
	}

	record := &types.SessionRecord{ID: row.ID, CreatedAt: row.CreatedAt}

	if err := s.db.SelectContext(ctx, &record.Devices,
		`SELECT mac, name, type, device_class, major_class, rssi, discovered_at
		 FROM devices WHERE session_id = ? ORDER BY discovered_at`, sessionID); err != nil {
		return nil, fmt.Errorf("database: load devices: %w", err)
	}

	rows, err := s.db.QueryxContext(ctx,
		`SELECT id, status, started_at, finished_at, exit_code, error, request, output
		 FROM scenario_results WHERE session_id = ? ORDER BY started_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("database: load results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			snap    types.ScenarioSnapshot
			request string
			output  sql.NullString
		)
		if err := rows.Scan(&snap.ID, &snap.Status, &snap.StartedAt, &snap.FinishedAt,
			&snap.ExitCode, &snap.Error, &request, &output); err != nil {
			return nil, fmt.Errorf("database: scan result: %w", err)
		}
		if err := json.Unmarshal([]byte(request), &snap.Request); err != nil {
			return nil, fmt.Errorf("database: unmarshal request: %w", err)
		}
		if output.Valid && output.String != "" {
			if err := json.Unmarshal([]byte(output.String), &snap.Output); err != nil {
				return nil, fmt.Errorf("database: unmarshal output: %w", err)
			}
		}
		record.Scenarios = append(record.Scenarios, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("database: iterate results: %w", err)
	}
	return record, nil
}

func (s *Store) ListSessions(ctx context.Context, limit int) ([]types.SessionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []struct {
		ID        string    `db:"id"`
		CreatedAt time.Time `db:"created_at"`
	}
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT id, created_at FROM sessions ORDER BY created_at DESC LIMIT ?`, limit); err != nil {
		return nil, fmt.Errorf("database: list sessions: %w", err)
	}
	records := make([]types.SessionRecord, len(rows))
	for i, row := range rows {
		records[i] = types.SessionRecord{ID: row.ID, CreatedAt: row.CreatedAt}
	}
	return records, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
