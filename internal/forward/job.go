package forward

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"teleads/internal/failure"
	"teleads/internal/remote"
	"teleads/internal/target"
)

// Payload is exactly one of a literal text or a message link.
type Payload struct {
	Text string
	Link *remote.MessageRef
}

func TextPayload(text string) Payload { return Payload{Text: text} }

func LinkPayload(ref remote.MessageRef) Payload { return Payload{Link: &ref} }

func (p Payload) IsZero() bool { return strings.TrimSpace(p.Text) == "" && p.Link == nil }

func (p Payload) Validate() error {
	hasText := strings.TrimSpace(p.Text) != ""
	switch {
	case hasText && p.Link != nil:
		return fmt.Errorf("%w: both text and link set", failure.ErrInvalidJob)
	case !hasText && p.Link == nil:
		return fmt.Errorf("%w: empty payload", failure.ErrInvalidJob)
	case p.Link != nil && p.Link.MessageID <= 0:
		return fmt.Errorf("%w: bad message id", failure.ErrInvalidJob)
	}
	return nil
}

// Key identifies the payload content for duplicate suppression.
func (p Payload) Key() string {
	h := sha256.New()
	if p.Link != nil {
		h.Write([]byte("link:" + p.Link.String()))
	} else {
		h.Write([]byte("text:" + p.Text))
	}
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// String is a short description for logs and confirmations.
func (p Payload) String() string {
	if p.Link != nil {
		return "message " + p.Link.String()
	}
	text := []rune(strings.TrimSpace(p.Text))
	if len(text) > 40 {
		return fmt.Sprintf("text %q…", string(text[:40]))
	}
	return fmt.Sprintf("text %q", string(text))
}

type OutcomeKind int

const (
	Sent OutcomeKind = iota + 1
	Skipped
	Failed
)

func (k OutcomeKind) String() string {
	switch k {
	case Sent:
		return "sent"
	case Skipped:
		return "skipped"
	case Failed:
		return "failed"
	default:
		return "pending"
	}
}

type Outcome struct {
	Target  target.Target
	Account string
	Kind    OutcomeKind
	Reason  string
}

type Totals struct {
	Sent    int
	Failed  int
	Skipped int
}

func (t Totals) Processed() int { return t.Sent + t.Failed + t.Skipped }

func (t Totals) String() string {
	return fmt.Sprintf("sent %d, failed %d, skipped %d", t.Sent, t.Failed, t.Skipped)
}

func (t *Totals) add(k OutcomeKind) {
	switch k {
	case Sent:
		t.Sent++
	case Skipped:
		t.Skipped++
	default:
		t.Failed++
	}
}

// Job is mutated in place by Orchestrator.Run. Targets is a snapshot taken
// at creation; registry changes afterwards do not affect it.
type Job struct {
	ID      string
	Payload Payload
	Targets []target.Target

	Outcomes []Outcome
	Totals   Totals

	StartedAt  time.Time
	FinishedAt time.Time
}

func NewJob(p Payload, targets []target.Target) *Job {
	return &Job{
		ID:      uuid.NewString(),
		Payload: p,
		Targets: append([]target.Target(nil), targets...),
	}
}

func (j *Job) record(o Outcome) {
	j.Outcomes = append(j.Outcomes, o)
	j.Totals.add(o.Kind)
}

func (j *Job) Summary() string { return j.Totals.String() }

// Failures returns the non-sent outcomes in snapshot order.
func (j *Job) Failures() []Outcome {
	var out []Outcome
	for _, o := range j.Outcomes {
		if o.Kind != Sent {
			out = append(out, o)
		}
	}
	return out
}

func (j *Job) Took() time.Duration {
	if j.StartedAt.IsZero() || j.FinishedAt.IsZero() {
		return 0
	}
	return j.FinishedAt.Sub(j.StartedAt)
}

// Progress is a point-in-time view of a running job.
type Progress struct {
	JobID     string
	Totals    Totals
	Processed int
	Total     int
	Done      bool
}

func (p Progress) String() string {
	return fmt.Sprintf("%d/%d: %s", p.Processed, p.Total, p.Totals)
}
