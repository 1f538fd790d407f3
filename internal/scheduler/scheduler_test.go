package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsNonPositiveInterval(t *testing.T) {
	_, err := New(Options{}, zerolog.Nop())
	require.Error(t, err)
}

func TestNextTickAlignment(t *testing.T) {
	s, err := New(Options{Interval: 15 * time.Minute, AlignToBucket: true}, zerolog.Nop())
	require.NoError(t, err)

	now := time.Date(2024, 2, 10, 10, 7, 30, 0, time.UTC)
	require.Equal(t, time.Date(2024, 2, 10, 10, 15, 0, 0, time.UTC), s.nextTick(now))
	require.Equal(t, time.Date(2024, 2, 10, 10, 30, 0, 0, time.UTC), s.nextTick(time.Date(2024, 2, 10, 10, 15, 0, 0, time.UTC)), "恰在边界时应取下一个边界")
	require.Equal(t, time.Date(2024, 2, 10, 10, 0, 0, 0, time.UTC), s.bucketStart(now))

	s.opts.AlignToBucket = false
	require.Equal(t, now.Add(15*time.Minute), s.nextTick(now))
	require.Equal(t, now, s.bucketStart(now))
}

func TestRunTicksUntilCancelled(t *testing.T) {
	s, err := New(Options{Interval: 10 * time.Millisecond, RunImmediately: true}, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var ticks atomic.Int32
	err = s.Run(ctx, func(context.Context, time.Time) error {
		if ticks.Add(1) >= 3 {
			cancel()
		}
		return errors.New("tick errors do not stop the loop")
	})
	require.ErrorIs(t, err, context.Canceled)
	require.GreaterOrEqual(t, ticks.Load(), int32(3))
}

func TestRunHonoursStartupDelayCancellation(t *testing.T) {
	s, err := New(Options{Interval: time.Hour, StartupDelay: time.Hour}, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err = s.Run(ctx, func(context.Context, time.Time) error {
		t.Fatal("启动延迟期间不应执行")
		return nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
