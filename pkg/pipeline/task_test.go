package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTask_AwaitReturnsValue(t *testing.T) {
	tk := newTask(context.Background(), "base_filters", func(context.Context) (int, error) {
		return 42, nil
	})

	got, err := tk.Await(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.True(t, tk.Settled())
}

func TestTask_AwaitCachesResult(t *testing.T) {
	var runs atomic.Int32
	tk := newTask(context.Background(), "base_filters", func(context.Context) (string, error) {
		runs.Add(1)
		return "once", nil
	})

	first, err := tk.Await(context.Background())
	require.NoError(t, err)

	second, err := tk.Await(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), runs.Load())
}

func TestTask_AwaitDeliversError(t *testing.T) {
	wantErr := errors.New("extraction failed")
	tk := newTask(context.Background(), "post_constraints", func(context.Context) (int, error) {
		return 0, wantErr
	})

	_, err := tk.Await(context.Background())

	assert.ErrorIs(t, err, wantErr)
}

func TestTask_AwaitTimesOutThenSettlesLater(t *testing.T) {
	release := make(chan struct{})
	tk := newTask(context.Background(), "post_constraints", func(context.Context) (string, error) {
		<-release
		return "late", nil
	})

	waitCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := tk.Await(waitCtx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, tk.Settled())

	close(release)

	got, err := tk.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "late", got)
	assert.True(t, tk.Settled())
}

func TestTask_DrainSettlesAbandonedTask(t *testing.T) {
	tk := newTask(context.Background(), "base_filters", func(context.Context) (int, error) {
		return 7, nil
	})

	tk.drain("req-1")

	assert.True(t, tk.Settled())

	// A drained task still serves its cached result.
	got, err := tk.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, got)
}

func TestTask_DrainIsIdempotent(t *testing.T) {
	tk := newTask(context.Background(), "base_filters", func(context.Context) (int, error) {
		return 1, nil
	})

	_, err := tk.Await(context.Background())
	require.NoError(t, err)

	tk.drain("req-1")
	tk.drain("req-1")

	var nilTask *task[int]
	assert.NotPanics(t, func() { nilTask.drain("req-1") })
}
