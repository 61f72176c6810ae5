package checklink

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studyroom/internal/layout"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	layouts := layout.NewStore(layout.NewMemRepository())
	_, err := layouts.Create(context.Background(), layout.SeatLayout{ID: "L1", Name: "Main Room"})
	require.NoError(t, err)
	return NewService(NewMemRepository(), layouts, nil)
}

func TestCreateAndResolve(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	link, err := svc.Create(ctx, "L1", "Evening shift", "scan at the door", nil)
	require.NoError(t, err)
	assert.True(t, link.IsActive)
	assert.NotEmpty(t, link.Token)
	assert.GreaterOrEqual(t, len(link.Token), 32, "token must be unguessable")

	resolved, err := svc.Resolve(ctx, link.Token)
	require.NoError(t, err)
	assert.Equal(t, "L1", resolved.LayoutID)
}

func TestCreateUnknownLayout(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Create(context.Background(), "nope", "x", "", nil)
	assert.ErrorIs(t, err, layout.ErrNotFound)
}

func TestResolveUnknownToken(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Resolve(context.Background(), "bogus")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveInactive(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	link, err := svc.Create(ctx, "L1", "Evening shift", "", nil)
	require.NoError(t, err)
	require.NoError(t, svc.Toggle(ctx, link.Token, false))

	_, err = svc.Resolve(ctx, link.Token)
	assert.ErrorIs(t, err, ErrInactive)

	require.NoError(t, svc.Toggle(ctx, link.Token, true))
	_, err = svc.Resolve(ctx, link.Token)
	assert.NoError(t, err)
}

func TestExpiryBeatsActiveFlag(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Second)
	link, err := svc.Create(ctx, "L1", "Expired link", "", &past)
	require.NoError(t, err)
	assert.True(t, link.IsActive)

	_, err = svc.Resolve(ctx, link.Token)
	assert.ErrorIs(t, err, ErrExpired)

	// Expiry is also reported for a deactivated link.
	require.NoError(t, svc.Toggle(ctx, link.Token, false))
	_, err = svc.Resolve(ctx, link.Token)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestRecordUsage(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	link, err := svc.Create(ctx, "L1", "Door link", "", nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, svc.RecordUsage(ctx, link.Token))
		}()
	}
	wg.Wait()

	got, err := svc.Resolve(ctx, link.Token)
	require.NoError(t, err)
	assert.EqualValues(t, 10, got.UsageCount)
	assert.NotNil(t, got.LastUsedAt)
}

func TestDelete(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	link, err := svc.Create(ctx, "L1", "Short lived", "", nil)
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, link.Token))

	_, err = svc.Resolve(ctx, link.Token)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, link.Token), ErrNotFound)
}

func TestList(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, "L1", "one", "", nil)
	require.NoError(t, err)
	_, err = svc.Create(ctx, "L1", "two", "", nil)
	require.NoError(t, err)

	links, err := svc.List(ctx, "L1")
	require.NoError(t, err)
	assert.Len(t, links, 2)
}

func TestTokensAreUnique(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		link, err := svc.Create(ctx, "L1", "link", "", nil)
		require.NoError(t, err)
		assert.False(t, seen[link.Token])
		seen[link.Token] = true
	}
}
