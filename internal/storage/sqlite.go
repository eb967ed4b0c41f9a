package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"teleads/internal/target"
	logx "teleads/pkg/logx"
)

//go:embed migrations.sql
var migrations string

const prunePeriod = 500

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
	now func() time.Time

	writes atomic.Uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one writer; this also keeps ":memory:" on a single connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{"PRAGMA journal_mode = WAL", "PRAGMA synchronous = NORMAL"}
	if cfg.BusyTimeout > 0 {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			log.Debug("pragma failed", logx.String("pragma", p), logx.Err(err))
		}
	}
	if _, err := db.Exec(migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Info("sqlite store opened", logx.String("path", path))
	return &sqliteStore{db: db, log: log, now: time.Now}, nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, kind, job_id, payload, targets, sent, failed, skipped, err, took_ms)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`,
		e.At.UTC().Format(time.RFC3339Nano), e.Kind, nullStr(e.JobID), nullStr(e.Payload),
		e.Targets, e.Sent, e.Failed, e.Skipped, nullStr(e.Error), e.TookMS,
	)
	return err
}

// ListAudit returns the newest entries first.
func (s *sqliteStore) ListAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, kind, COALESCE(job_id,''), COALESCE(payload,''), targets, sent, failed, skipped, COALESCE(err,''), took_ms
		 FROM audit ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var at string
		if err := rows.Scan(&at, &e.Kind, &e.JobID, &e.Payload, &e.Targets, &e.Sent, &e.Failed, &e.Skipped, &e.Error, &e.TookMS); err != nil {
			return nil, err
		}
		e.At, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup(key, until) VALUES(?,?) ON CONFLICT(key) DO UPDATE SET until = excluded.until`,
		key, until.UnixMilli())
	if err == nil && s.writes.Add(1)%prunePeriod == 0 {
		if _, perr := s.db.ExecContext(ctx, `DELETE FROM dedup WHERE until < ?`, s.now().UnixMilli()); perr != nil {
			s.log.Debug("dedup prune failed", logx.Err(perr))
		}
	}
	return err
}

func (s *sqliteStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT until FROM dedup WHERE key = ?`, key).Scan(&ms)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return time.Time{}, false, nil
	case err != nil:
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func (s *sqliteStore) RecordMembership(ctx context.Context, rec target.MembershipRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO membership(target_id, account_id, state, reason, updated_at) VALUES(?,?,?,?,?)
		 ON CONFLICT(target_id, account_id) DO UPDATE SET
		   state = excluded.state, reason = excluded.reason, updated_at = excluded.updated_at`,
		rec.TargetID, rec.AccountID, int(rec.State), nullStr(rec.Reason), s.now().UnixMilli())
	return err
}

func (s *sqliteStore) ListMemberships(ctx context.Context) ([]target.MembershipRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT target_id, account_id, state, COALESCE(reason,'') FROM membership ORDER BY updated_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []target.MembershipRecord
	for rows.Next() {
		var rec target.MembershipRecord
		var state int
		if err := rows.Scan(&rec.TargetID, &rec.AccountID, &state, &rec.Reason); err != nil {
			return nil, err
		}
		rec.State = target.Membership(state)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
