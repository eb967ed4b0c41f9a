package forward

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teleads/internal/account"
	"teleads/internal/eventbus"
	"teleads/internal/failure"
	"teleads/internal/remote"
	"teleads/internal/remote/remotetest"
	"teleads/internal/target"
	logx "teleads/pkg/logx"
)

type sleepRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) Waits() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.waits...)
}

type harness struct {
	pool     *account.Pool
	registry *target.Registry
	clients  map[string]*remotetest.Client
	sleeps   *sleepRecorder
	policy   *Policy
	joins    *Coordinator
	orch     *Orchestrator
}

func newHarness(t *testing.T, accounts []string, refs []string, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		pool:     account.NewPool(),
		registry: target.NewRegistry(nil, logx.Nop()),
		clients:  map[string]*remotetest.Client{},
		sleeps:   &sleepRecorder{},
	}
	for _, id := range accounts {
		cl := remotetest.New(id)
		h.clients[id] = cl
		require.NoError(t, h.pool.Add(account.New(id, "", cl)))
		h.pool.MarkAuthenticated(id, id)
	}
	_, err := h.registry.Add(context.Background(), refs)
	require.NoError(t, err)

	h.policy = NewPolicy(time.Minute, WithPolicySleep(h.sleeps.Sleep))
	h.joins = NewCoordinator(h.registry, h.pool, h.policy,
		WithCoordinatorSleep(h.sleeps.Sleep), WithJoinDelay(0))
	all := append([]Option{WithSleep(h.sleeps.Sleep), WithConfig(Config{SendInterval: time.Second})}, opts...)
	h.orch = NewOrchestrator(h.pool, h.joins, h.policy, all...)
	return h
}

func (h *harness) job(p Payload) *Job { return NewJob(p, h.registry.List()) }

func TestRunScenarioAllSent(t *testing.T) {
	t.Parallel()
	h := newHarness(t, []string{"a"}, []string{"one", "two", "three"})

	job, err := h.orch.Run(context.Background(), h.job(TextPayload("hello")), nil)
	require.NoError(t, err)
	assert.Equal(t, Totals{Sent: 3}, job.Totals)
	assert.Equal(t, "sent 3, failed 0, skipped 0", job.Summary())
	assert.Equal(t, 3, h.clients["a"].Count(remotetest.OpSendText))
	assert.Equal(t, 3, h.clients["a"].Count(remotetest.OpJoinPublic))
	assert.False(t, h.orch.Running())
}

func TestRunSkipsInaccessibleWithoutRemoteCall(t *testing.T) {
	t.Parallel()
	h := newHarness(t, []string{"a"}, []string{"one", "closed", "three"})
	h.registry.MarkInaccessible("closed", "private")

	job, err := h.orch.Run(context.Background(), h.job(TextPayload("hi")), nil)
	require.NoError(t, err)
	assert.Equal(t, Totals{Sent: 2, Skipped: 1}, job.Totals)
	assert.Equal(t, Skipped, job.Outcomes[1].Kind)

	for _, c := range h.clients["a"].Calls() {
		assert.NotEqual(t, "closed", c.Arg, "no remote call expected for %s", c.Op)
	}
}

func TestRunRejectsConcurrentJob(t *testing.T) {
	t.Parallel()
	h := newHarness(t, []string{"a"}, []string{"one", "two"})
	h.orch.running.Store(true)

	job := h.job(TextPayload("hi"))
	_, err := h.orch.Run(context.Background(), job, nil)
	assert.ErrorIs(t, err, failure.ErrJobAlreadyRunning)
	assert.Empty(t, job.Outcomes)
	assert.Empty(t, h.clients["a"].Calls())
	assert.True(t, h.orch.Running(), "guard owned by the other job stays set")
}

func TestRunGuardWhileJobInFlight(t *testing.T) {
	t.Parallel()
	h := newHarness(t, []string{"a"}, []string{"one"})
	entered := make(chan struct{})
	release := make(chan struct{})
	h.clients["a"].OnCall(func(c remotetest.Call) {
		if c.Op == remotetest.OpSendText {
			close(entered)
			<-release
		}
	})

	done := make(chan error, 1)
	go func() {
		_, err := h.orch.Run(context.Background(), h.job(TextPayload("first")), nil)
		done <- err
	}()
	<-entered
	_, err := h.orch.Run(context.Background(), h.job(TextPayload("second")), nil)
	assert.ErrorIs(t, err, failure.ErrJobAlreadyRunning)
	close(release)
	require.NoError(t, <-done)
}

func TestRunPreconditions(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		accounts []string
		refs     []string
		payload  Payload
		want     error
	}{
		{name: "empty payload", accounts: []string{"a"}, refs: []string{"x"}, want: failure.ErrInvalidJob},
		{name: "both forms", accounts: []string{"a"}, refs: []string{"x"},
			payload: Payload{Text: "t", Link: &remote.MessageRef{Handle: "src", MessageID: 1}}, want: failure.ErrInvalidJob},
		{name: "no targets", accounts: []string{"a"}, payload: TextPayload("t"), want: failure.ErrInvalidJob},
		{name: "no accounts", refs: []string{"x"}, payload: TextPayload("t"), want: failure.ErrNoActiveAccounts},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, tt.accounts, tt.refs)
			_, err := h.orch.Run(context.Background(), h.job(tt.payload), nil)
			assert.ErrorIs(t, err, tt.want)
			assert.False(t, h.orch.Running(), "guard released after precondition failure")
		})
	}
}

func TestRunRoundRobinBalance(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct{ k, n int }{{1, 3}, {2, 5}, {3, 7}, {4, 4}, {3, 10}} {
		t.Run(fmt.Sprintf("k%d_n%d", tc.k, tc.n), func(t *testing.T) {
			t.Parallel()
			accs := make([]string, tc.k)
			for i := range accs {
				accs[i] = fmt.Sprintf("acc%d", i)
			}
			refs := make([]string, tc.n)
			for i := range refs {
				refs[i] = fmt.Sprintf("group%d", i)
			}
			h := newHarness(t, accs, refs)
			job, err := h.orch.Run(context.Background(), h.job(TextPayload("x")), nil)
			require.NoError(t, err)

			counts := map[string]int{}
			for _, o := range job.Outcomes {
				counts[o.Account]++
			}
			lo, hi := tc.n/tc.k, (tc.n+tc.k-1)/tc.k
			for _, id := range accs {
				assert.GreaterOrEqual(t, counts[id], lo, id)
				assert.LessOrEqual(t, counts[id], hi, id)
			}
		})
	}
}

func TestRunOutcomeCountAlwaysMatches(t *testing.T) {
	t.Parallel()
	h := newHarness(t, []string{"a", "b"}, []string{"one", "two", "+inv1", "four", "five", "six"})
	h.clients["a"].FailAlways(remotetest.OpSendText, "one", failure.ErrPermissionDenied)
	h.clients["a"].Fail(remotetest.OpJoinInvite, "inv1", fmt.Errorf("INVITE_HASH_EXPIRED: %w", failure.ErrTargetInaccessible))
	h.clients["b"].Fail(remotetest.OpSendText, "four", errors.New("connection reset"))

	job, err := h.orch.Run(context.Background(), h.job(TextPayload("x")), nil)
	require.NoError(t, err)
	assert.Equal(t, len(job.Targets), job.Totals.Processed())
	assert.Len(t, job.Outcomes, len(job.Targets))
	assert.Equal(t, Totals{Sent: 3, Failed: 2, Skipped: 1}, job.Totals)
	assert.Equal(t, "write forbidden", job.Outcomes[0].Reason)
	assert.Equal(t, target.MembershipInaccessible, h.registry.Membership("inv1", "a"))
}

func TestRunRateLimitAboveCeilingMarksAccount(t *testing.T) {
	t.Parallel()
	now := time.Now()
	h := newHarness(t, []string{"a", "b"}, []string{"one", "two", "three", "four"}, WithClock(func() time.Time { return now }))
	h.clients["b"].Fail(remotetest.OpSendText, "two", &failure.RateLimited{Wait: time.Hour})

	job, err := h.orch.Run(context.Background(), h.job(TextPayload("x")), nil)
	require.NoError(t, err)

	assert.Equal(t, Failed, job.Outcomes[1].Kind)
	assert.Equal(t, "b", job.Outcomes[1].Account)
	// b left the active set, so a handled everything after it
	assert.Equal(t, "a", job.Outcomes[2].Account)
	assert.Equal(t, "a", job.Outcomes[3].Account)
	assert.Equal(t, Totals{Sent: 3, Failed: 1}, job.Totals)

	active := h.pool.ActiveAccounts()
	require.Len(t, active, 1)
	assert.Equal(t, "a", active[0].ID)
}

func TestRunForwardsResolvedMessageOnce(t *testing.T) {
	t.Parallel()
	h := newHarness(t, []string{"a", "b"}, []string{"one", "two", "three"})
	ref := remote.MessageRef{Handle: "source", MessageID: 42}

	job, err := h.orch.Run(context.Background(), h.job(LinkPayload(ref)), nil)
	require.NoError(t, err)
	assert.Equal(t, Totals{Sent: 3}, job.Totals)
	assert.Equal(t, 1, h.clients["a"].Count(remotetest.OpResolve)+h.clients["b"].Count(remotetest.OpResolve))
	assert.Equal(t, 3, h.clients["a"].Count(remotetest.OpForward)+h.clients["b"].Count(remotetest.OpForward))
	assert.Zero(t, h.clients["a"].Count(remotetest.OpSendText))
}

func TestRunUnresolvableSourceFailsEveryTarget(t *testing.T) {
	t.Parallel()
	h := newHarness(t, []string{"a"}, []string{"one", "two"})
	h.clients["a"].FailAlways(remotetest.OpResolve, "", failure.ErrTargetInaccessible)

	job, err := h.orch.Run(context.Background(), h.job(LinkPayload(remote.MessageRef{Handle: "gone", MessageID: 1})), nil)
	require.NoError(t, err)
	assert.Equal(t, Totals{Failed: 2}, job.Totals)
	assert.Zero(t, h.clients["a"].Count(remotetest.OpForward))
}

func TestRunProgressEveryBatch(t *testing.T) {
	t.Parallel()
	refs := make([]string, 12)
	for i := range refs {
		refs[i] = fmt.Sprintf("g%d", i)
	}
	h := newHarness(t, []string{"a"}, refs)

	var got []Progress
	_, err := h.orch.Run(context.Background(), h.job(TextPayload("x")), func(p Progress) { got = append(got, p) })
	require.NoError(t, err)

	require.Len(t, got, 3)
	assert.Equal(t, []int{5, 10, 12}, []int{got[0].Processed, got[1].Processed, got[2].Processed})
	assert.True(t, got[2].Done)
	assert.Equal(t, 12, got[2].Totals.Sent)
}

func TestRunSleepsBetweenTargets(t *testing.T) {
	t.Parallel()
	h := newHarness(t, []string{"a"}, []string{"one", "two", "three"})
	h.orch.jitter = func(time.Duration) time.Duration { return 0 }

	_, err := h.orch.Run(context.Background(), h.job(TextPayload("x")), nil)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, h.sleeps.Waits())
}

func TestRunCancelledMarksRemainingStopped(t *testing.T) {
	t.Parallel()
	h := newHarness(t, []string{"a"}, []string{"one", "two", "three"})
	ctx, cancel := context.WithCancel(context.Background())
	h.clients["a"].OnCall(func(c remotetest.Call) {
		if c.Op == remotetest.OpSendText {
			cancel()
		}
	})

	job, err := h.orch.Run(ctx, h.job(TextPayload("x")), nil)
	require.NoError(t, err)
	assert.Equal(t, Totals{Sent: 1, Failed: 2}, job.Totals)
	assert.Equal(t, "stopped", job.Outcomes[2].Reason)
}

type memDedup struct {
	mu sync.Mutex
	m  map[string]time.Time
}

func (d *memDedup) PutDedup(_ context.Context, key string, until time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.m[key] = until
	return nil
}

func (d *memDedup) GetDedup(_ context.Context, key string) (time.Time, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.m[key]
	return v, ok, nil
}

func TestRunDuplicateWindow(t *testing.T) {
	t.Parallel()
	dd := &memDedup{m: map[string]time.Time{}}
	h := newHarness(t, []string{"a"}, []string{"one", "two"},
		WithDedup(dd), WithConfig(Config{SendInterval: time.Second, DuplicateWindow: time.Hour}))

	first, err := h.orch.Run(context.Background(), h.job(TextPayload("same")), nil)
	require.NoError(t, err)
	assert.Equal(t, Totals{Sent: 2}, first.Totals)

	second, err := h.orch.Run(context.Background(), h.job(TextPayload("same")), nil)
	require.NoError(t, err)
	assert.Equal(t, Totals{Skipped: 2}, second.Totals)

	third, err := h.orch.Run(context.Background(), h.job(TextPayload("different")), nil)
	require.NoError(t, err)
	assert.Equal(t, Totals{Sent: 2}, third.Totals)
}

func TestRunPublishesEvents(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4)
	defer unsub()
	h := newHarness(t, []string{"a"}, []string{"one"}, WithBus(bus))

	_, err := h.orch.Run(context.Background(), h.job(TextPayload("x")), nil)
	require.NoError(t, err)

	started := <-ch
	finished := <-ch
	assert.Equal(t, EventStarted, started.Type)
	assert.Equal(t, EventFinished, finished.Type)
	assert.Equal(t, Totals{Sent: 1}, finished.Data.(JobEvent).Totals)
}

func TestJobSnapshotIsImmutable(t *testing.T) {
	t.Parallel()
	h := newHarness(t, []string{"a"}, []string{"one"})
	job := h.job(TextPayload("x"))
	_, err := h.registry.Add(context.Background(), []string{"late"})
	require.NoError(t, err)
	assert.Len(t, job.Targets, 1)
}
