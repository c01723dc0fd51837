package records

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/progression/internal/domain"
)

type stubHistory struct {
	max   map[string]float64
	calls int
	err   error
	// during runs once while the read is in flight.
	during func()
}

func (s *stubHistory) MaxEstimatedOneRepMax(_ context.Context, accountID, exercise string) (float64, bool, error) {
	s.calls++
	if s.during != nil {
		during := s.during
		s.during = nil
		during()
	}
	if s.err != nil {
		return 0, false, s.err
	}
	v, ok := s.max[accountID+"/"+exercise]
	return v, ok, nil
}

func TestIsPersonalRecord(t *testing.T) {
	history := &stubHistory{max: map[string]float64{"acc-1/bench press": 116.0}}
	detector := NewDetector(history)
	ctx := context.Background()

	pr, err := detector.IsPersonalRecord(ctx, "acc-1", "Bench  Press", 102, 5)
	require.NoError(t, err)
	require.True(t, pr)

	pr, err = detector.IsPersonalRecord(ctx, "acc-1", "bench press", 100, 4)
	require.NoError(t, err)
	require.False(t, pr)
}

func TestIsPersonalRecordWithoutHistory(t *testing.T) {
	detector := NewDetector(&stubHistory{})
	ctx := context.Background()

	pr, err := detector.IsPersonalRecord(ctx, "acc-1", "squat", 60, 5)
	require.NoError(t, err)
	require.True(t, pr)

	pr, err = detector.IsPersonalRecord(ctx, "acc-1", "squat", 0, 10)
	require.NoError(t, err)
	require.False(t, pr, "a zero estimate never counts")
}

func TestIsPersonalRecordEqualIsNotARecord(t *testing.T) {
	history := &stubHistory{max: map[string]float64{"acc-1/deadlift": 100 * (1 + 5.0/30)}}
	pr, err := NewDetector(history).IsPersonalRecord(context.Background(), "acc-1", "deadlift", 100, 5)
	require.NoError(t, err)
	require.False(t, pr)
}

func TestIsPersonalRecordValidation(t *testing.T) {
	detector := NewDetector(&stubHistory{})
	ctx := context.Background()

	_, err := detector.IsPersonalRecord(ctx, "acc-1", "  ", 50, 5)
	require.True(t, domain.IsValidation(err))
	_, err = detector.IsPersonalRecord(ctx, "acc-1", "row", -1, 5)
	require.True(t, domain.IsValidation(err))
	_, err = detector.IsPersonalRecord(ctx, "", "row", 50, 5)
	require.True(t, domain.IsValidation(err))
}

func TestIsPersonalRecordHistoryError(t *testing.T) {
	boom := errors.New("db down")
	_, err := NewDetector(&stubHistory{err: boom}).IsPersonalRecord(context.Background(), "acc-1", "row", 50, 5)
	require.ErrorIs(t, err, boom)
}

func TestCachedHistory(t *testing.T) {
	inner := &stubHistory{max: map[string]float64{"acc-1/bench press": 116.0}}
	cached, err := NewCachedHistory(inner, 8, time.Minute)
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		v, found, err := cached.MaxEstimatedOneRepMax(ctx, "acc-1", "Bench Press")
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, 116.0, v)
	}
	require.Equal(t, 1, inner.calls)

	cached.Observe("acc-1", "bench press", 120)
	v, _, _ := cached.MaxEstimatedOneRepMax(ctx, "acc-1", "bench press")
	require.Equal(t, 120.0, v)

	cached.Observe("acc-1", "bench press", 90)
	v, _, _ = cached.MaxEstimatedOneRepMax(ctx, "acc-1", "bench press")
	require.Equal(t, 120.0, v, "a lower set never lowers the cached max")

	// A deleted set must not leave a stale max behind.
	cached.Invalidate("acc-1", "bench press")
	v, _, _ = cached.MaxEstimatedOneRepMax(ctx, "acc-1", "bench press")
	require.Equal(t, 116.0, v)
	require.Equal(t, 2, inner.calls)
}

func TestCachedHistoryObserveSkipsUncached(t *testing.T) {
	inner := &stubHistory{}
	cached, err := NewCachedHistory(inner, 8, time.Minute)
	require.NoError(t, err)

	cached.Observe("acc-1", "squat", 150)
	require.Zero(t, cached.Len())

	_, found, err := cached.MaxEstimatedOneRepMax(context.Background(), "acc-1", "squat")
	require.NoError(t, err)
	require.False(t, found)

	cached.Observe("acc-1", "squat", 150)
	v, found, _ := cached.MaxEstimatedOneRepMax(context.Background(), "acc-1", "squat")
	require.True(t, found)
	require.Equal(t, 150.0, v)

	cached.InvalidateAccount("acc-1")
	require.Zero(t, cached.Len())
}

func TestNewCachedHistoryRejectsNonPositiveSize(t *testing.T) {
	_, err := NewCachedHistory(&stubHistory{}, 0, time.Minute)
	require.Error(t, err)
	_, err = NewCachedHistory(&stubHistory{}, 8, 0)
	require.Error(t, err)
}

func TestCachedHistoryDropsReadRacingACommit(t *testing.T) {
	inner := &stubHistory{max: map[string]float64{"acc-1/deadlift": 100}}
	cached, err := NewCachedHistory(inner, 8, time.Minute)
	require.NoError(t, err)
	ctx := context.Background()

	// The store answered with the old max, but a set committed meanwhile.
	inner.during = func() {
		inner.max["acc-1/deadlift"] = 150
		cached.Observe("acc-1", "deadlift", 150)
	}
	v, _, err := cached.MaxEstimatedOneRepMax(ctx, "acc-1", "deadlift")
	require.NoError(t, err)
	require.Equal(t, 100.0, v)
	require.Zero(t, cached.Len(), "the pre-commit read must not be cached")

	v, _, err = cached.MaxEstimatedOneRepMax(ctx, "acc-1", "deadlift")
	require.NoError(t, err)
	require.Equal(t, 150.0, v)
}

func TestCachedHistoryEntriesExpire(t *testing.T) {
	inner := &stubHistory{max: map[string]float64{"acc-1/row": 80}}
	cached, err := NewCachedHistory(inner, 8, 20*time.Millisecond)
	require.NoError(t, err)
	ctx := context.Background()

	_, _, err = cached.MaxEstimatedOneRepMax(ctx, "acc-1", "row")
	require.NoError(t, err)

	// Another process deleted the heavy set; the entry must age out.
	inner.max["acc-1/row"] = 60
	require.Eventually(t, func() bool {
		v, _, err := cached.MaxEstimatedOneRepMax(ctx, "acc-1", "row")
		return err == nil && v == 60
	}, time.Second, 10*time.Millisecond)
}
