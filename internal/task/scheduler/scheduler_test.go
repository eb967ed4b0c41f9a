package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "teleads/pkg/logx"
)

func TestParseScheduleVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		raw      string
		kind     SpecKind
		source   string
		duration time.Duration
	}{
		{name: "cron", raw: "*/5 * * * *", kind: SpecCron, source: "cron"},
		{name: "descriptor", raw: "@every 55m", kind: SpecCron, source: "cron"},
		{name: "prefixed cron", raw: "cron:0 0 * * *", kind: SpecCron, source: "cron"},
		{name: "duration", raw: "10m", kind: SpecInterval, source: "duration", duration: 10 * time.Minute},
		{name: "prefixed interval", raw: "interval:45s", kind: SpecInterval, source: "duration", duration: 45 * time.Second},
		{name: "every prefix hhmm", raw: "every: 02:30", kind: SpecInterval, source: "hhmm", duration: 150 * time.Minute},
		{name: "hhmm", raw: "01:30", kind: SpecInterval, source: "hhmm", duration: 90 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseSchedule(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, tt.source, got.Source)
			if tt.kind == SpecInterval {
				assert.Equal(t, tt.duration, got.Every)
			}
		})
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-a-schedule", "00:00", "01:75", "-5m", "cron:"} {
		_, err := ParseSchedule(raw)
		assert.Error(t, err, raw)
	}
}

func TestScheduleRejectsBadSpec(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())
	assert.Error(t, s.Schedule("x", "61 * * * *", func(context.Context) {}))
	assert.Error(t, s.Schedule("", "1m", func(context.Context) {}))
	assert.Error(t, s.Schedule("x", "1m", nil))
}

func TestScheduleCancelActive(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())
	require.NoError(t, s.Schedule("repeat", "30m", func(context.Context) {}))

	spec, ok := s.Active("repeat")
	assert.True(t, ok)
	assert.Equal(t, "30m", spec)

	require.NoError(t, s.Schedule("repeat", "@hourly", func(context.Context) {}))
	require.Len(t, s.Entries(), 1)
	assert.Equal(t, "@hourly", s.Entries()[0].Spec)

	assert.True(t, s.Cancel("repeat"))
	assert.False(t, s.Cancel("repeat"))
	_, ok = s.Active("repeat")
	assert.False(t, ok)
}

func TestScheduleFires(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	var runs atomic.Int32
	require.NoError(t, s.Schedule("tick", "@every 1s", func(context.Context) { runs.Add(1) }))
	require.Eventually(t, func() bool { return runs.Load() > 0 }, 5*time.Second, 50*time.Millisecond)

	entries := s.Entries()
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Next.IsZero())
}
