package forward

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teleads/internal/failure"
	"teleads/internal/remote/remotetest"
	"teleads/internal/target"
)

type memRecorder struct {
	mu   sync.Mutex
	recs []target.MembershipRecord
}

func (m *memRecorder) RecordMembership(_ context.Context, rec target.MembershipRecord) error {
	m.mu.Lock()
	m.recs = append(m.recs, rec)
	m.mu.Unlock()
	return nil
}

func TestEnsure(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		ref        string
		setup      func(h *harness)
		want       MembershipStatus
		wantCalls  int
		wantMember target.Membership
	}{
		{
			name:       "public join",
			ref:        "@shop",
			want:       Joined,
			wantCalls:  1,
			wantMember: target.MembershipMember,
		},
		{
			name:       "invite join",
			ref:        "t.me/+Hash1",
			want:       Joined,
			wantCalls:  1,
			wantMember: target.MembershipMember,
		},
		{
			name: "known member skips remote",
			ref:  "shop",
			setup: func(h *harness) {
				h.registry.SetMembership("shop", "a", target.MembershipMember)
			},
			want:       AlreadyMember,
			wantMember: target.MembershipMember,
		},
		{
			name: "already participant",
			ref:  "shop",
			setup: func(h *harness) {
				h.clients["a"].Fail(remotetest.OpJoinPublic, "shop", failure.ErrAlreadyParticipant)
			},
			want:       AlreadyMember,
			wantCalls:  1,
			wantMember: target.MembershipMember,
		},
		{
			name: "private marks inaccessible",
			ref:  "shop",
			setup: func(h *harness) {
				h.clients["a"].Fail(remotetest.OpJoinPublic, "shop", fmt.Errorf("CHANNEL_PRIVATE: %w", failure.ErrTargetInaccessible))
			},
			want:       MembershipFailed,
			wantCalls:  1,
			wantMember: target.MembershipInaccessible,
		},
		{
			name: "account limit leaves target usable",
			ref:  "shop",
			setup: func(h *harness) {
				h.clients["a"].Fail(remotetest.OpJoinPublic, "shop", fmt.Errorf("CHANNELS_TOO_MUCH: %w", failure.ErrAccountLimit))
			},
			want:       MembershipFailed,
			wantCalls:  1,
			wantMember: target.MembershipUnknown,
		},
		{
			name:       "numeric id not joined",
			ref:        "-1001234",
			want:       AlreadyMember,
			wantMember: target.MembershipUnknown,
		},
		{
			name: "inaccessible short circuits",
			ref:  "shop",
			setup: func(h *harness) {
				h.registry.MarkInaccessible("shop", "banned")
			},
			want:       MembershipFailed,
			wantMember: target.MembershipInaccessible,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, []string{"a"}, []string{tt.ref})
			if tt.setup != nil {
				tt.setup(h)
			}
			tg := h.registry.List()[0]
			acc, err := h.pool.Acquire(0)
			require.NoError(t, err)

			res := h.joins.Ensure(context.Background(), acc, tg)
			assert.Equal(t, tt.want, res.Status)
			cl := h.clients["a"]
			assert.Equal(t, tt.wantCalls, cl.Count(remotetest.OpJoinPublic)+cl.Count(remotetest.OpJoinInvite))
			assert.Equal(t, tt.wantMember, h.registry.Membership(tg.ID, "a"))
		})
	}
}

func TestEnsureSleepsAfterJoin(t *testing.T) {
	t.Parallel()
	h := newHarness(t, []string{"a"}, []string{"one", "two"})
	h.joins.SetJoinDelay(3 * time.Second)
	acc, _ := h.pool.Acquire(0)

	h.joins.Ensure(context.Background(), acc, h.registry.List()[0])
	h.clients["a"].Fail(remotetest.OpJoinPublic, "two", failure.ErrAlreadyParticipant)
	h.joins.Ensure(context.Background(), acc, h.registry.List()[1])

	assert.Equal(t, []time.Duration{3 * time.Second}, h.sleeps.Waits())
}

func TestEnsureRecordsMembership(t *testing.T) {
	t.Parallel()
	h := newHarness(t, []string{"a"}, []string{"one", "two"})
	rec := &memRecorder{}
	WithRecorder(rec)(h.joins)
	h.clients["a"].Fail(remotetest.OpJoinPublic, "two", failure.ErrTargetInaccessible)
	acc, _ := h.pool.Acquire(0)

	for _, tg := range h.registry.List() {
		h.joins.Ensure(context.Background(), acc, tg)
	}
	require.Len(t, rec.recs, 2)
	assert.Equal(t, target.MembershipRecord{TargetID: "one", AccountID: "a", State: target.MembershipMember}, rec.recs[0])
	assert.Equal(t, target.MembershipInaccessible, rec.recs[1].State)
	assert.Empty(t, rec.recs[1].AccountID)
}

func TestJoinAllStreams(t *testing.T) {
	t.Parallel()
	refs := []string{"g0", "g1", "g2", "g3", "g4", "closed", "g6"}
	h := newHarness(t, []string{"a", "b", "c"}, refs)
	h.registry.MarkInaccessible("closed", "private")
	h.registry.SetMembership("g6", "a", target.MembershipMember)
	h.clients["b"].Fail(remotetest.OpJoinPublic, "g4", failure.ErrPermissionDenied)

	rep, err := h.joins.JoinAll(context.Background(), h.registry.List())
	require.NoError(t, err)
	assert.Equal(t, JoinReport{Joined: 4, Already: 1, Skipped: 1, Failed: 1}, rep)
	assert.Equal(t, len(refs), rep.Total())

	// stream k owns targets k, k+3, k+6
	assert.Equal(t, []remotetest.Call{{Op: remotetest.OpJoinPublic, Arg: "g0"}, {Op: remotetest.OpJoinPublic, Arg: "g3"}},
		h.clients["a"].Calls())
	assert.Equal(t, []remotetest.Call{{Op: remotetest.OpJoinPublic, Arg: "g1"}, {Op: remotetest.OpJoinPublic, Arg: "g4"}},
		h.clients["b"].Calls())
	assert.Equal(t, []remotetest.Call{{Op: remotetest.OpJoinPublic, Arg: "g2"}},
		h.clients["c"].Calls())
}

func TestJoinAllNoAccounts(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil, []string{"g0"})
	_, err := h.joins.JoinAll(context.Background(), h.registry.List())
	assert.ErrorIs(t, err, failure.ErrNoActiveAccounts)
}

func TestEnsureAccountLimitKeepsTargetForOthers(t *testing.T) {
	t.Parallel()
	h := newHarness(t, []string{"a", "b"}, []string{"shop"})
	h.clients["a"].Fail(remotetest.OpJoinPublic, "shop", fmt.Errorf("CHANNELS_TOO_MUCH: %w", failure.ErrAccountLimit))
	shop := h.registry.List()[0]
	a, _ := h.pool.Get("a")
	b, _ := h.pool.Get("b")

	res := h.joins.Ensure(context.Background(), a, shop)
	assert.Equal(t, MembershipFailed, res.Status)
	assert.Equal(t, "account channel limit", res.Reason)
	assert.Equal(t, target.MembershipUnknown, h.registry.Membership("shop", "b"))

	res = h.joins.Ensure(context.Background(), b, shop)
	assert.Equal(t, Joined, res.Status)
	assert.Equal(t, 1, h.clients["b"].Count(remotetest.OpJoinPublic))
}

func TestJoinAllNeverOverlapsOnOneAccount(t *testing.T) {
	t.Parallel()
	refs := []string{"g0", "g1", "g2", "g3", "g4", "g5"}
	h := newHarness(t, []string{"a", "b"}, refs)
	// above the one minute ceiling: a leaves the active set after g0
	h.clients["a"].Fail(remotetest.OpJoinPublic, "g0", &failure.RateLimited{Wait: 10 * time.Minute})

	var inflight, peak atomic.Int32
	h.clients["b"].OnCall(func(remotetest.Call) {
		n := inflight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inflight.Add(-1)
	})

	rep, err := h.joins.JoinAll(context.Background(), h.registry.List())
	require.NoError(t, err)
	assert.Equal(t, len(refs), rep.Total())
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, 5, rep.Joined)
	assert.Equal(t, int32(1), peak.Load())
	assert.Len(t, h.clients["b"].Calls(), 5)
	assert.Equal(t, []remotetest.Call{{Op: remotetest.OpJoinPublic, Arg: "g0"}}, h.clients["a"].Calls())
}
