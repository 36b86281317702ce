package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/simfleet/simfleet/internal/model"
)

var ErrNotFound = errors.New("not found")

// Store is the hub's audit database: last-known machine rows and a history
// of session outcomes. The in-memory fleet registry stays authoritative for
// liveness; the store is what survives a hub restart.
type Store struct {
	db *sql.DB
}

func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := ApplyMigrations(ctx, db); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) UpsertMachine(ctx context.Context, m model.Machine) error {
	var machineID int
	var machineName, lastStatus, lastGame, lastSessionID string
	var lastSeen any
	if m.Heartbeat != nil {
		machineID = m.Heartbeat.Identity.ID
		machineName = m.Heartbeat.Identity.Name
		lastStatus = string(m.Heartbeat.Status)
		lastGame = m.Heartbeat.CurrentGame
		lastSessionID = m.Heartbeat.SessionID
		lastSeen = ts(m.Heartbeat.ReceivedAt)
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO machines(addr, service_name, slot, machine_id, machine_name, last_status, last_game, last_session_id, last_seen_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(addr) DO UPDATE SET
	service_name=excluded.service_name,
	slot=excluded.slot,
	machine_id=excluded.machine_id,
	machine_name=excluded.machine_name,
	last_status=excluded.last_status,
	last_game=excluded.last_game,
	last_session_id=excluded.last_session_id,
	last_seen_at=excluded.last_seen_at,
	updated_at=excluded.updated_at
`, m.Addr(), m.ServiceName, m.Slot, machineID, machineName, lastStatus, lastGame, lastSessionID, lastSeen, ts(time.Now()))
	if err != nil {
		return fmt.Errorf("upsert machine: %w", err)
	}
	return nil
}

func (s *Store) DeleteMachine(ctx context.Context, addr string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM machines WHERE addr = ?`, addr)
	if err != nil {
		return fmt.Errorf("delete machine: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MachineRow is the persisted shape of one machine.
type MachineRow struct {
	Addr        string
	ServiceName string
	Slot        int
	MachineID   int
	MachineName string
	LastStatus  string
	LastGame    string
	LastSession string
	LastSeenAt  *time.Time
}

func (s *Store) ListMachines(ctx context.Context) ([]MachineRow, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT addr, service_name, slot, machine_id, machine_name, last_status, last_game, last_session_id, last_seen_at
FROM machines ORDER BY slot, addr`)
	if err != nil {
		return nil, fmt.Errorf("list machines: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []MachineRow
	for rows.Next() {
		var r MachineRow
		var lastSeen sql.NullString
		if err := rows.Scan(&r.Addr, &r.ServiceName, &r.Slot, &r.MachineID, &r.MachineName,
			&r.LastStatus, &r.LastGame, &r.LastSession, &lastSeen); err != nil {
			return nil, fmt.Errorf("scan machine: %w", err)
		}
		if lastSeen.Valid {
			t, err := parseTS(lastSeen.String)
			if err != nil {
				return nil, fmt.Errorf("parse last_seen_at: %w", err)
			}
			r.LastSeenAt = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) InsertSession(ctx context.Context, session model.Session) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin session insert: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO sessions(session_id, game, num_players, host_ip, configured_count, success_count, started_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
`, session.SessionID, session.Game, session.PlayerCount, session.HostIP,
		session.ConfiguredCount, session.SuccessCount, ts(session.StartedAt))
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("insert session: %w", err)
	}
	for _, res := range session.Results {
		_, err = tx.ExecContext(ctx, `
INSERT INTO session_results(session_id, addr, machine_name, machine_id, slot, role, status, error)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`, session.SessionID, res.Addr, res.Name, res.ID, res.Slot, string(res.Role), res.Status, res.Error)
		if err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("insert session result: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit session insert: %w", err)
	}
	return nil
}

func (s *Store) ListSessions(ctx context.Context, limit int) ([]model.Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT session_id, game, num_players, host_ip, configured_count, success_count, started_at
FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Session
	for rows.Next() {
		var sess model.Session
		var started string
		if err := rows.Scan(&sess.SessionID, &sess.Game, &sess.PlayerCount, &sess.HostIP,
			&sess.ConfiguredCount, &sess.SuccessCount, &started); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if sess.StartedAt, err = parseTS(started); err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		results, err := s.sessionResults(ctx, out[i].SessionID)
		if err != nil {
			return nil, err
		}
		out[i].Results = results
	}
	return out, nil
}

func (s *Store) sessionResults(ctx context.Context, sessionID string) ([]model.MachineResult, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT addr, machine_name, machine_id, slot, role, status, error
FROM session_results WHERE session_id = ? ORDER BY machine_id, addr`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list session results: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.MachineResult
	for rows.Next() {
		var r model.MachineResult
		var role string
		if err := rows.Scan(&r.Addr, &r.Name, &r.ID, &r.Slot, &role, &r.Status, &r.Error); err != nil {
			return nil, fmt.Errorf("scan session result: %w", err)
		}
		r.Role = model.Role(role)
		out = append(out, r)
	}
	return out, rows.Err()
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTS(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
