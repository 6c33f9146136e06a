// Package store is the durable local state shared across process
// invocations: persisted session identifiers, per-query-type filter
// tuples, and an audit log of privileged mutations. Access follows a
// load-mutate-save discipline; cross-process mutual exclusion is out of
// scope, last writer wins.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("not found")

type Store struct {
	db *sql.DB
}

func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("chmod store path: %w", err)
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

// SessionRecord is the persisted authentication state: the two session
// tokens plus whether the session was established in judge mode.
type SessionRecord struct {
	SID       string
	EJSID     string
	Judge     bool
	UpdatedAt time.Time
}

func (s *Store) SaveSession(ctx context.Context, rec SessionRecord) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO session_state(id, sid, ejsid, judge, updated_at)
VALUES (1, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	sid=excluded.sid,
	ejsid=excluded.ejsid,
	judge=excluded.judge,
	updated_at=excluded.updated_at
`, rec.SID, rec.EJSID, boolToInt(rec.Judge), ts(rec.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *Store) LoadSession(ctx context.Context) (SessionRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT sid, ejsid, judge, updated_at FROM session_state WHERE id = 1`)
	var (
		rec       SessionRecord
		judge     int
		updatedAt string
	)
	if err := row.Scan(&rec.SID, &rec.EJSID, &judge, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SessionRecord{}, ErrNotFound
		}
		return SessionRecord{}, fmt.Errorf("scan session: %w", err)
	}
	rec.Judge = judge == 1
	var err error
	rec.UpdatedAt, err = parseTS(updatedAt)
	if err != nil {
		return SessionRecord{}, fmt.Errorf("parse session updated_at: %w", err)
	}
	return rec, nil
}

func (s *Store) ClearSession(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session_state WHERE id = 1`); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// LoadFilterStatus returns the is-component-set tuple of the previous
// query of the given type, or ErrNotFound when none was recorded yet.
func (s *Store) LoadFilterStatus(ctx context.Context, queryType string) ([]bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT components FROM filter_status WHERE query_type = ?`, queryType)
	var components string
	if err := row.Scan(&components); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan filter status: %w", err)
	}
	var tuple []bool
	if err := json.Unmarshal([]byte(components), &tuple); err != nil {
		return nil, fmt.Errorf("decode filter status: %w", err)
	}
	return tuple, nil
}

func (s *Store) SaveFilterStatus(ctx context.Context, queryType string, tuple []bool) error {
	components, err := json.Marshal(tuple)
	if err != nil {
		return fmt.Errorf("encode filter status: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO filter_status(query_type, components, updated_at)
VALUES (?, ?, ?)
ON CONFLICT(query_type) DO UPDATE SET
	components=excluded.components,
	updated_at=excluded.updated_at
`, queryType, string(components), ts(time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("save filter status: %w", err)
	}
	return nil
}

// AuditRecord is one locally recorded privileged mutation.
type AuditRecord struct {
	AuditID   string
	Action    string
	RunID     *int
	Detail    string
	CreatedAt time.Time
}

func (s *Store) AppendAudit(ctx context.Context, rec AuditRecord) error {
	if strings.TrimSpace(rec.Action) == "" {
		return fmt.Errorf("audit action is required")
	}
	if rec.AuditID == "" {
		rec.AuditID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	var runID any
	if rec.RunID != nil {
		runID = *rec.RunID
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO audit_log(audit_id, action, run_id, detail, created_at)
VALUES (?, ?, ?, ?, ?)
`, rec.AuditID, rec.Action, runID, nullIfEmpty(rec.Detail), ts(rec.CreatedAt))
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

func (s *Store) ListAudit(ctx context.Context, limit int) ([]AuditRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT audit_id, action, run_id, COALESCE(detail, ''), created_at
FROM audit_log
ORDER BY created_at DESC, audit_id DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	out := make([]AuditRecord, 0)
	for rows.Next() {
		var (
			rec       AuditRecord
			runID     sql.NullInt64
			createdAt string
		)
		if err := rows.Scan(&rec.AuditID, &rec.Action, &runID, &rec.Detail, &createdAt); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		if runID.Valid {
			v := int(runID.Int64)
			rec.RunID = &v
		}
		rec.CreatedAt, err = parseTS(createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse audit created_at: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iter audit: %w", err)
	}
	return out, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func nullIfEmpty(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTS(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
