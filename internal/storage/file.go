package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"teleads/internal/target"
	logx "teleads/pkg/logx"
)

// fileStore keeps everything in JSON Lines next to cfg.Path:
//
//	<prefix>.audit.jsonl        append-only
//	<prefix>.dedup.jsonl        journal, compacted every compactEvery writes
//	<prefix>.membership.jsonl   journal, last record per (target, account) wins
type fileStore struct {
	log logx.Logger
	now func() time.Time

	mu sync.Mutex

	auditPath string
	audit     *os.File

	dedupPath string
	dedupLog  *os.File
	dedup     map[string]int64 // unix milli
	writes    int

	memberPath string
	memberLog  *os.File
	members    map[string]target.MembershipRecord
	order      []string
}

const compactEvery = 1000

type dedupLine struct {
	Key   string `json:"key"`
	Until int64  `json:"until"`
}

type memberLine struct {
	Target  string `json:"target"`
	Account string `json:"account,omitempty"`
	State   int    `json:"state"`
	Reason  string `json:"reason,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for the file driver")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	prefix := filepath.Join(dir, strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))

	s := &fileStore{
		log:        log,
		now:        time.Now,
		auditPath:  prefix + ".audit.jsonl",
		dedupPath:  prefix + ".dedup.jsonl",
		memberPath: prefix + ".membership.jsonl",
		dedup:      map[string]int64{},
		members:    map[string]target.MembershipRecord{},
	}
	_ = replay(s.dedupPath, func(l dedupLine) {
		if l.Key != "" {
			s.dedup[l.Key] = l.Until
		}
	})
	_ = replay(s.memberPath, func(l memberLine) {
		s.putMember(target.MembershipRecord{TargetID: l.Target, AccountID: l.Account, State: target.Membership(l.State), Reason: l.Reason})
	})
	s.pruneLocked()

	var err error
	if s.audit, err = appendOnly(s.auditPath); err != nil {
		return nil, err
	}
	if s.dedupLog, err = appendOnly(s.dedupPath); err != nil {
		_ = s.audit.Close()
		return nil, err
	}
	if s.memberLog, err = appendOnly(s.memberPath); err != nil {
		_ = s.audit.Close()
		_ = s.dedupLog.Close()
		return nil, err
	}
	log.Info("file store opened", logx.String("prefix", prefix), logx.Int("dedup", len(s.dedup)), logx.Int("memberships", len(s.members)))
	return s, nil
}

func appendOnly(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
}

func replay[T any](path string, fn func(T)) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var v T
		if json.Unmarshal(sc.Bytes(), &v) == nil {
			fn(v)
		}
	}
	return sc.Err()
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for _, f := range []**os.File{&s.audit, &s.dedupLog, &s.memberLog} {
		if *f != nil {
			errs = append(errs, (*f).Close())
			*f = nil
		}
	}
	return errors.Join(errs...)
}

func (s *fileStore) AppendAudit(_ context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = s.now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.audit == nil {
		return ErrClosed
	}
	return json.NewEncoder(s.audit).Encode(e)
}

// ListAudit returns the newest entries first.
func (s *fileStore) ListAudit(_ context.Context, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []AuditEntry
	if err := replay(s.auditPath, func(e AuditEntry) { all = append(all, e) }); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	out := make([]AuditEntry, 0, min(limit, len(all)))
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (s *fileStore) PutDedup(_ context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dedupLog == nil {
		return ErrClosed
	}
	ms := until.UnixMilli()
	s.dedup[key] = ms
	if err := json.NewEncoder(s.dedupLog).Encode(dedupLine{Key: key, Until: ms}); err != nil {
		return err
	}
	s.writes++
	if s.writes%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("dedup compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) GetDedup(_ context.Context, key string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.dedup[key]
	if !ok {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

func (s *fileStore) RecordMembership(_ context.Context, rec target.MembershipRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.memberLog == nil {
		return ErrClosed
	}
	s.putMember(rec)
	return json.NewEncoder(s.memberLog).Encode(memberLine{
		Target: rec.TargetID, Account: rec.AccountID, State: int(rec.State), Reason: rec.Reason,
	})
}

func (s *fileStore) putMember(rec target.MembershipRecord) {
	k := membershipKey(rec)
	if _, ok := s.members[k]; !ok {
		s.order = append(s.order, k)
	}
	s.members[k] = rec
}

func (s *fileStore) ListMemberships(context.Context) ([]target.MembershipRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]target.MembershipRecord, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, s.members[k])
	}
	return out, nil
}

func (s *fileStore) pruneLocked() {
	now := s.now().UnixMilli()
	for k, v := range s.dedup {
		if v < now {
			delete(s.dedup, k)
		}
	}
}

// compactLocked rewrites the dedup journal with only live keys.
func (s *fileStore) compactLocked() error {
	s.pruneLocked()
	tmp := s.dedupPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	for k, v := range s.dedup {
		if err := enc.Encode(dedupLine{Key: k, Until: v}); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.dedupPath); err != nil {
		return err
	}
	_ = s.dedupLog.Close()
	s.dedupLog, err = appendOnly(s.dedupPath)
	return err
}
