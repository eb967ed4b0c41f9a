package app

import (
	"context"

	"teleads/internal/eventbus"
	"teleads/internal/forward"
	"teleads/internal/storage"
	logx "teleads/pkg/logx"
)

// runAudit persists forward job events until ctx is done.
func (a *App) runAudit(ctx context.Context) {
	events, unsub := a.bus.Subscribe(64)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			entry, ok := auditEntry(ev)
			if !ok {
				continue
			}
			if err := a.store.AppendAudit(context.WithoutCancel(ctx), entry); err != nil {
				a.log.Warn("audit write failed", logx.String("type", ev.Type), logx.Err(err))
			}
		}
	}
}

func auditEntry(ev eventbus.Event) (storage.AuditEntry, bool) {
	je, ok := ev.Data.(forward.JobEvent)
	if !ok {
		return storage.AuditEntry{}, false
	}
	return storage.AuditEntry{
		At:      ev.Time,
		Kind:    ev.Type,
		JobID:   je.JobID,
		Payload: je.Payload,
		Targets: je.Targets,
		Sent:    je.Totals.Sent,
		Failed:  je.Totals.Failed,
		Skipped: je.Totals.Skipped,
		Error:   je.Err,
		TookMS:  je.Took.Milliseconds(),
	}, true
}
