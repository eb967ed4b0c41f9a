package target

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/samber/lo"

	logx "teleads/pkg/logx"
)

// Store persists the raw references of the registry.
type Store interface {
	Load(ctx context.Context) ([]string, error)
	Save(ctx context.Context, raws []string) error
}

// MembershipRecord is the persisted form of one membership fact.
// AccountID is empty for target-wide facts (inaccessible).
type MembershipRecord struct {
	TargetID  string
	AccountID string
	State     Membership
	Reason    string
}

type entry struct {
	t            Target
	inaccessible bool
	reason       string
	members      map[string]Membership
}

func (e *entry) view() Target {
	t := e.t
	t.Membership = MembershipUnknown
	if e.inaccessible {
		t.Membership = MembershipInaccessible
		return t
	}
	for _, m := range e.members {
		if m == MembershipMember {
			t.Membership = MembershipMember
			return t
		}
		if m == MembershipNotMember {
			t.Membership = MembershipNotMember
		}
	}
	return t
}

// Registry is safe for concurrent use. Canonical ids are unique; List keeps
// insertion order.
type Registry struct {
	mu      sync.RWMutex
	entries []*entry
	index   map[string]int

	store Store
	log   logx.Logger
}

func NewRegistry(store Store, log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{index: map[string]int{}, store: store, log: log}
}

// Load replaces nothing: it appends persisted references that are not yet
// present and returns how many were loaded.
func (r *Registry) Load(ctx context.Context) (int, error) {
	if r.store == nil {
		return 0, nil
	}
	raws, err := r.store.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("load targets: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	added := r.appendLocked(raws)
	return len(added), nil
}

// Add canonicalizes raws, drops duplicates, persists and returns the number added.
func (r *Registry) Add(ctx context.Context, raws []string) (int, error) {
	added, err := r.AddTargets(ctx, raws)
	return len(added), err
}

// AddTargets is Add returning the newly added targets in insertion order.
func (r *Registry) AddTargets(ctx context.Context, raws []string) ([]Target, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	before := len(r.entries)
	added := r.appendLocked(raws)
	if len(added) == 0 {
		return nil, nil
	}
	if r.store != nil {
		if err := r.store.Save(ctx, r.rawsLocked()); err != nil {
			// roll back so memory and disk agree
			for _, t := range added {
				delete(r.index, t.ID)
			}
			r.entries = r.entries[:before]
			return nil, fmt.Errorf("save targets: %w", err)
		}
	}
	r.log.Info("targets added", logx.Int("added", len(added)), logx.Int("total", len(r.entries)))
	return added, nil
}

func (r *Registry) appendLocked(raws []string) []Target {
	var added []Target
	for _, raw := range raws {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		t, err := Canonicalize(line)
		if err != nil {
			r.log.Warn("target skipped", logx.String("ref", line), logx.Err(err))
			continue
		}
		if _, ok := r.index[t.ID]; ok {
			continue
		}
		r.index[t.ID] = len(r.entries)
		r.entries = append(r.entries, &entry{t: t, members: map[string]Membership{}})
		added = append(added, t)
	}
	return added
}

func (r *Registry) rawsLocked() []string {
	return lo.Map(r.entries, func(e *entry, _ int) string { return e.t.Raw })
}

// List returns value copies in insertion order.
func (r *Registry) List() []Target {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Map(r.entries, func(e *entry, _ int) Target { return e.view() })
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Registry) Get(id string) (Target, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.index[id]
	if !ok {
		return Target{}, false
	}
	return r.entries[i].view(), true
}

// Membership returns the state of id for one account. Inaccessible wins over
// any per-account state.
func (r *Registry) Membership(id, accountID string) Membership {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.index[id]
	if !ok {
		return MembershipUnknown
	}
	e := r.entries[i]
	if e.inaccessible {
		return MembershipInaccessible
	}
	return e.members[accountID]
}

func (r *Registry) SetMembership(id, accountID string, m Membership) {
	if m == MembershipInaccessible {
		r.MarkInaccessible(id, "")
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if i, ok := r.index[id]; ok {
		r.entries[i].members[accountID] = m
	}
}

// MarkInaccessible short-circuits every future join attempt against id.
func (r *Registry) MarkInaccessible(id, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i, ok := r.index[id]; ok {
		e := r.entries[i]
		e.inaccessible = true
		e.reason = reason
	}
}

// InaccessibleReason returns the reason recorded by MarkInaccessible.
func (r *Registry) InaccessibleReason(id string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i, ok := r.index[id]; ok {
		return r.entries[i].reason
	}
	return ""
}

// Restore applies persisted membership facts for targets that are present.
func (r *Registry) Restore(recs []MembershipRecord) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rec := range recs {
		i, ok := r.index[rec.TargetID]
		if !ok {
			continue
		}
		e := r.entries[i]
		if rec.State == MembershipInaccessible {
			e.inaccessible = true
			e.reason = rec.Reason
		} else if rec.AccountID != "" {
			e.members[rec.AccountID] = rec.State
		}
		n++
	}
	return n
}
