package storage

import (
	"context"
	"errors"
	"time"

	"teleads/internal/target"
)

var ErrClosed = errors.New("storage closed")

type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only
}

// Store is implemented by every driver. It satisfies the forward package's
// Dedup and MembershipRecorder ports.
type Store interface {
	AppendAudit(ctx context.Context, e AuditEntry) error
	ListAudit(ctx context.Context, limit int) ([]AuditEntry, error)

	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)

	RecordMembership(ctx context.Context, rec target.MembershipRecord) error
	ListMemberships(ctx context.Context) ([]target.MembershipRecord, error)

	Close() error
}

// AuditEntry is one finished job or join batch.
type AuditEntry struct {
	At      time.Time `json:"at"`
	Kind    string    `json:"kind"` // "forward" | "join"
	JobID   string    `json:"job_id,omitempty"`
	Payload string    `json:"payload,omitempty"`
	Targets int       `json:"targets"`
	Sent    int       `json:"sent"`
	Failed  int       `json:"failed"`
	Skipped int       `json:"skipped"`
	Error   string    `json:"error,omitempty"`
	TookMS  int64     `json:"took_ms"`
}

func membershipKey(rec target.MembershipRecord) string {
	return rec.TargetID + "\x00" + rec.AccountID
}
