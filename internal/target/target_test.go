package target

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "teleads/pkg/logx"
)

func TestCanonicalizeScenario(t *testing.T) {
	t.Parallel()
	refs := []string{"@alpha", "t.me/+abcd", "beta"}
	wantKinds := []Kind{KindPublicHandle, KindInviteHash, KindPublicHandle}
	wantIDs := []string{"alpha", "abcd", "beta"}
	for i, ref := range refs {
		got, err := Canonicalize(ref)
		require.NoError(t, err, ref)
		assert.Equal(t, wantKinds[i], got.Kind, ref)
		assert.Equal(t, wantIDs[i], got.ID, ref)
		assert.Equal(t, ref, got.Raw)
	}
}

func TestCanonicalizeForms(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		kind Kind
		id   string
	}{
		{raw: "https://t.me/joinchat/AbCdEf", kind: KindInviteHash, id: "AbCdEf"},
		{raw: "https://t.me/joinchat/+AbCdEf", kind: KindInviteHash, id: "AbCdEf"},
		{raw: "https://t.me/+XyZ_123/", kind: KindInviteHash, id: "XyZ_123"},
		{raw: "https://t.me/MarketPlace", kind: KindPublicHandle, id: "marketplace"},
		{raw: "t.me/market_place?start=1", kind: KindPublicHandle, id: "market_place"},
		{raw: "telegram.me/shop", kind: KindPublicHandle, id: "shop"},
		{raw: "  @Shop  ", kind: KindPublicHandle, id: "shop"},
		{raw: "-1001234567890", kind: KindNumericID, id: "-1001234567890"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.raw, func(t *testing.T) {
			t.Parallel()
			got, err := Canonicalize(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, tt.id, got.ID)
		})
	}
}

func TestCanonicalizeRejects(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "   ", "@", "https://t.me/", "two words"} {
		_, err := Canonicalize(raw)
		assert.ErrorIs(t, err, ErrInvalidReference, "raw=%q", raw)
	}
}

func TestRegistryAddIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := NewRegistry(nil, logx.Nop())
	input := []string{"@alpha", "t.me/+abcd", "beta", "", "# comment", "ALPHA", "https://t.me/beta"}

	n, err := r.Add(ctx, input)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = r.Add(ctx, input)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	ids := []string{}
	for _, tg := range r.List() {
		ids = append(ids, tg.ID)
	}
	assert.Equal(t, []string{"alpha", "abcd", "beta"}, ids)
	assert.Equal(t, r.List(), r.List())
}

func TestRegistryAddTargetsReturnsOnlyNew(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := NewRegistry(nil, logx.Nop())
	_, err := r.Add(ctx, []string{"alpha"})
	require.NoError(t, err)

	added, err := r.AddTargets(ctx, []string{"alpha", "gamma", "@delta"})
	require.NoError(t, err)
	require.Len(t, added, 2)
	assert.Equal(t, "gamma", added[0].ID)
	assert.Equal(t, "delta", added[1].ID)
}

type failingStore struct{}

func (failingStore) Load(context.Context) ([]string, error) { return nil, nil }
func (failingStore) Save(context.Context, []string) error   { return errors.New("disk full") }

func TestRegistryRollsBackOnSaveError(t *testing.T) {
	t.Parallel()
	r := NewRegistry(failingStore{}, logx.Nop())
	_, err := r.Add(context.Background(), []string{"alpha"})
	require.Error(t, err)
	assert.Equal(t, 0, r.Len())
	_, ok := r.Get("alpha")
	assert.False(t, ok)
}

func TestRegistryMembership(t *testing.T) {
	t.Parallel()
	r := NewRegistry(nil, logx.Nop())
	_, err := r.Add(context.Background(), []string{"alpha", "beta"})
	require.NoError(t, err)

	assert.Equal(t, MembershipUnknown, r.Membership("alpha", "acc1"))
	r.SetMembership("alpha", "acc1", MembershipMember)
	assert.Equal(t, MembershipMember, r.Membership("alpha", "acc1"))
	assert.Equal(t, MembershipUnknown, r.Membership("alpha", "acc2"))

	r.MarkInaccessible("beta", "private")
	assert.Equal(t, MembershipInaccessible, r.Membership("beta", "acc1"))
	assert.Equal(t, MembershipInaccessible, r.Membership("beta", "acc2"))
	assert.Equal(t, "private", r.InaccessibleReason("beta"))

	got, _ := r.Get("alpha")
	assert.Equal(t, MembershipMember, got.Membership)
}

func TestRegistryRestore(t *testing.T) {
	t.Parallel()
	r := NewRegistry(nil, logx.Nop())
	_, err := r.Add(context.Background(), []string{"alpha", "beta"})
	require.NoError(t, err)
	n := r.Restore([]MembershipRecord{
		{TargetID: "alpha", AccountID: "a", State: MembershipMember},
		{TargetID: "beta", State: MembershipInaccessible, Reason: "banned"},
		{TargetID: "missing", AccountID: "a", State: MembershipMember},
	})
	assert.Equal(t, 2, n)
	assert.Equal(t, MembershipMember, r.Membership("alpha", "a"))
	assert.Equal(t, MembershipInaccessible, r.Membership("beta", "a"))
}

func TestFileStoreRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "groups.txt")
	require.NoError(t, os.WriteFile(path, []byte("# my groups\n@alpha\n\n  t.me/+abcd  \n#beta\n"), 0o644))

	fs := NewFileStore(path)
	r := NewRegistry(fs, logx.Nop())
	n, err := r.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = r.Add(ctx, []string{"gamma"})
	require.NoError(t, err)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "@alpha\nt.me/+abcd\ngamma\n", string(b))
}

func TestFileStoreMissingFile(t *testing.T) {
	t.Parallel()
	fs := NewFileStore(filepath.Join(t.TempDir(), "none.txt"))
	raws, err := fs.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, raws)
}
