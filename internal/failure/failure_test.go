package failure

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsRateLimitedThroughWrapping(t *testing.T) {
	t.Parallel()
	err := fmt.Errorf("send: %w", &RateLimited{Wait: 7 * time.Second})
	w, ok := AsRateLimited(err)
	require.True(t, ok)
	assert.Equal(t, 7*time.Second, w)

	_, ok = AsRateLimited(errors.New("boom"))
	assert.False(t, ok)
}

func TestIsClassified(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: true},
		{name: "permission", err: fmt.Errorf("x: %w", ErrPermissionDenied), want: true},
		{name: "account limit", err: fmt.Errorf("join: %w", ErrAccountLimit), want: true},
		{name: "rate limited", err: &RateLimited{Wait: time.Second}, want: true},
		{name: "transient", err: Transient(errors.New("io")), want: true},
		{name: "canceled", err: context.Canceled, want: true},
		{name: "plain", err: errors.New("io"), want: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsClassified(tt.err))
		})
	}
}

func TestTransientUnwraps(t *testing.T) {
	t.Parallel()
	cause := errors.New("connection reset")
	err := Transient(cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Nil(t, Transient(nil))
}

func TestReason(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "write forbidden", Reason(ErrPermissionDenied))
	assert.Equal(t, "inaccessible", Reason(fmt.Errorf("join: %w", ErrTargetInaccessible)))
	assert.Equal(t, "account channel limit", Reason(ErrAccountLimit))
	assert.Equal(t, "rate limited 1m0s", Reason(&RateLimited{Wait: time.Minute}))
	assert.Equal(t, "", Reason(nil))
}
