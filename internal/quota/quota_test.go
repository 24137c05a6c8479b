package quota

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openTestTracker(t *testing.T, opts ...Option) *Tracker {
	t.Helper()

	tracker, err := Open(filepath.Join(t.TempDir(), "quota.db"), zap.NewNop(), opts...)
	require.NoError(t, err)
	return tracker
}

func TestCheckAndReserveGrantsUpToLimit(t *testing.T) {
	t.Parallel()

	tracker := openTestTracker(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, tracker.CheckAndReserve(ctx, 7, 3))
	}
	require.ErrorIs(t, tracker.CheckAndReserve(ctx, 7, 3), ErrExceeded)

	status, err := tracker.Status(ctx, 7, 3)
	require.NoError(t, err)
	require.Equal(t, Status{Used: 3, Remaining: 0}, status)
}

func TestCheckAndReserveBoundary(t *testing.T) {
	t.Parallel()

	tracker := openTestTracker(t)
	ctx := context.Background()

	// User at 49 of 50: one more grant raises the count to the limit.
	for i := 0; i < 49; i++ {
		require.NoError(t, tracker.CheckAndReserve(ctx, 42, 50))
	}

	require.NoError(t, tracker.CheckAndReserve(ctx, 42, 50))
	require.ErrorIs(t, tracker.CheckAndReserve(ctx, 42, 50), ErrExceeded)

	status, err := tracker.Status(ctx, 42, 50)
	require.NoError(t, err)
	require.Equal(t, 50, status.Used)
	require.Equal(t, 0, status.Remaining)
}

func TestCheckAndReserveConcurrentNoOverGrant(t *testing.T) {
	t.Parallel()

	tracker := openTestTracker(t)
	ctx := context.Background()

	const callers = 20
	const limit = 5

	var wg sync.WaitGroup
	granted := make(chan struct{}, callers)
	denied := make(chan struct{}, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			switch err := tracker.CheckAndReserve(ctx, 99, limit); {
			case err == nil:
				granted <- struct{}{}
			default:
				denied <- struct{}{}
			}
		}()
	}
	wg.Wait()

	require.Len(t, granted, limit)
	require.Len(t, denied, callers-limit)
}

func TestQuotaResetsOnNewDay(t *testing.T) {
	t.Parallel()

	day := time.Date(2025, 3, 1, 23, 59, 0, 0, time.UTC)
	var mu sync.Mutex
	tracker := openTestTracker(t, WithClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return day
	}))
	ctx := context.Background()

	require.NoError(t, tracker.CheckAndReserve(ctx, 1, 1))
	require.ErrorIs(t, tracker.CheckAndReserve(ctx, 1, 1), ErrExceeded)

	mu.Lock()
	day = day.Add(2 * time.Minute) // crosses midnight UTC
	mu.Unlock()

	require.NoError(t, tracker.CheckAndReserve(ctx, 1, 1))

	status, err := tracker.Status(ctx, 1, 1)
	require.NoError(t, err)
	require.Equal(t, Status{Used: 1, Remaining: 0}, status)
}

func TestZeroLimitAlwaysDenied(t *testing.T) {
	t.Parallel()

	tracker := openTestTracker(t)
	require.ErrorIs(t, tracker.CheckAndReserve(context.Background(), 5, 0), ErrExceeded)
}

func TestStatusForUnseenUser(t *testing.T) {
	t.Parallel()

	tracker := openTestTracker(t)
	status, err := tracker.Status(context.Background(), 12345, 50)
	require.NoError(t, err)
	require.Equal(t, Status{Used: 0, Remaining: 50}, status)
}
