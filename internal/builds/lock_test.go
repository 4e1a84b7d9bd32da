package builds

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/packfinderz-metrics/internal/types"
	"github.com/angelmondragon/packfinderz-metrics/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-metrics/pkg/errors"
)

type fakeRedis struct {
	values map[string]string
	ttls   map[string]time.Duration
	err    error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) TryLock(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if _, ok := f.values[key]; ok {
		return false, nil
	}
	f.values[key] = owner
	f.ttls[key] = ttl
	return true, nil
}

func (f *fakeRedis) Unlock(_ context.Context, key, owner string) (bool, error) {
	if f.values[key] != owner {
		return false, nil
	}
	delete(f.values, key)
	return true, nil
}

func (f *fakeRedis) LockKey(period string) string {
	return "pfm:build_lock:" + period
}

func TestRedisLockIsExclusivePerPeriod(t *testing.T) {
	ctx := context.Background()
	store := newFakeRedis()
	locker := NewRedisLocker(store, time.Minute)

	first, err := locker.Lock("2024-01")
	require.NoError(t, err)
	second, err := locker.Lock("2024-01")
	require.NoError(t, err)
	other, err := locker.Lock("2024-02")
	require.NoError(t, err)

	ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, time.Minute, store.ttls["pfm:build_lock:2024-01"])

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = other.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	// Releasing a lock that was never owned leaves the holder in place.
	require.NoError(t, second.Release(ctx))
	assert.Contains(t, store.values, "pfm:build_lock:2024-01")

	require.NoError(t, first.Release(ctx))
	assert.NotContains(t, store.values, "pfm:build_lock:2024-01")

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLockReleaseSkipsForeignOwner(t *testing.T) {
	ctx := context.Background()
	store := newFakeRedis()
	lock, err := NewRedisLock(store, "pfm:build_lock:2024-01", 0)
	require.NoError(t, err)
	assert.Equal(t, defaultLockTTL, lock.ttl)

	ok, err := lock.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// The TTL expired and another process took over.
	store.values["pfm:build_lock:2024-01"] = "someone-else"
	require.NoError(t, lock.Release(ctx))
	assert.Equal(t, "someone-else", store.values["pfm:build_lock:2024-01"])
}

func TestWaitForReportsDependencyErrors(t *testing.T) {
	store := newFakeRedis()
	store.err = assert.AnError
	lock, err := NewRedisLock(store, "k", time.Minute)
	require.NoError(t, err)

	err = waitFor(context.Background(), lock, time.Millisecond)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeDependency))
}

func TestLocalLockerWaitsForRelease(t *testing.T) {
	locker := NewLocalLocker()
	held, _ := locker.Lock("2024-01")
	waiting, _ := locker.Lock("2024-01")

	ok, err := held.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	done := make(chan error, 1)
	go func() {
		done <- waitFor(context.Background(), waiting, time.Millisecond)
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, held.Release(context.Background()))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the lock")
	}
}

func TestFingerprintIgnoresRowOrder(t *testing.T) {
	rows := []types.FactMarketingSpend{
		{Channel: "paid", SpendDate: "2024-01-03", Amount: decimal.RequireFromString("100.00")},
		{Channel: "email", SpendDate: "2024-01-04", Amount: decimal.RequireFromString("20")},
	}
	reversed := []types.FactMarketingSpend{rows[1], rows[0]}

	a, err := fingerprint([]types.Table{{Name: types.TableFactMarketingSpend, Layer: enums.LayerFact, Rows: types.AsRows(rows)}})
	require.NoError(t, err)
	b, err := fingerprint([]types.Table{{Name: types.TableFactMarketingSpend, Layer: enums.LayerFact, Rows: types.AsRows(reversed)}})
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 16)

	rows[0].Amount = decimal.RequireFromString("100.01")
	c, err := fingerprint([]types.Table{{Name: types.TableFactMarketingSpend, Layer: enums.LayerFact, Rows: types.AsRows(rows)}})
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}
