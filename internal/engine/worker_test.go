package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool_BoundsConcurrency(t *testing.T) {
	pool := NewWorkerPool(2)
	defer pool.Shutdown()

	var active, peak int64
	var wg sync.WaitGroup
	wg.Add(5)

	for i := 0; i < 5; i++ {
		err := pool.Submit(context.Background(), func(ctx context.Context) error {
			defer wg.Done()
			n := atomic.AddInt64(&active, 1)
			for {
				p := atomic.LoadInt64(&peak)
				if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt64(&active, -1)
			return nil
		})
		require.NoError(t, err)
	}

	wg.Wait()
	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(2))
}

func TestWorkerPool_TrySubmitAtCapacity(t *testing.T) {
	pool := NewWorkerPool(1)
	defer pool.Shutdown()

	release := make(chan struct{})
	ok, err := pool.TrySubmit(context.Background(), func(ctx context.Context) error {
		<-release
		return nil
	})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = pool.TrySubmit(context.Background(), func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	assert.False(t, ok, "saturated pool must refuse without blocking")

	close(release)
	pool.Wait()

	ok, err = pool.TrySubmit(context.Background(), func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	assert.True(t, ok)
	pool.Wait()
}

func TestWorkerPool_FreeSlots(t *testing.T) {
	pool := NewWorkerPool(3)
	defer pool.Shutdown()

	assert.Equal(t, 3, pool.FreeSlots())

	release := make(chan struct{})
	require.NoError(t, pool.Submit(context.Background(), func(ctx context.Context) error {
		<-release
		return nil
	}))
	assert.Equal(t, 2, pool.FreeSlots())

	close(release)
	pool.Wait()
	assert.Equal(t, 3, pool.FreeSlots())
}

func TestWorkerPool_SubmitHonorsContext(t *testing.T) {
	pool := NewWorkerPool(1)
	defer pool.Shutdown()

	release := make(chan struct{})
	require.NoError(t, pool.Submit(context.Background(), func(ctx context.Context) error {
		<-release
		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := pool.Submit(ctx, func(ctx context.Context) error { return nil })
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	pool.Wait()
}

func TestWorkerPool_ShutdownRejectsNewWork(t *testing.T) {
	pool := NewWorkerPool(2)
	pool.Shutdown()

	err := pool.Submit(context.Background(), func(ctx context.Context) error { return nil })
	require.ErrorIs(t, err, ErrPoolShutdown)

	_, err = pool.TrySubmit(context.Background(), func(ctx context.Context) error { return nil })
	require.ErrorIs(t, err, ErrPoolShutdown)
}

func TestWorkerPool_ShutdownWaitsForActiveWork(t *testing.T) {
	pool := NewWorkerPool(1)

	var finished atomic.Bool
	require.NoError(t, pool.Submit(context.Background(), func(ctx context.Context) error {
		time.Sleep(20 * time.Millisecond)
		finished.Store(true)
		return nil
	}))

	pool.Shutdown()
	assert.True(t, finished.Load(), "shutdown must wait for in-flight work")
}

func TestWorkerPool_Metrics(t *testing.T) {
	pool := NewWorkerPool(2)
	defer pool.Shutdown()

	require.NoError(t, pool.Submit(context.Background(), func(ctx context.Context) error { return nil }))
	require.NoError(t, pool.Submit(context.Background(), func(ctx context.Context) error {
		return errors.New("job failed")
	}))
	require.NoError(t, pool.Submit(context.Background(), func(ctx context.Context) error {
		panic("job panicked")
	}))
	pool.Wait()

	m := pool.Metrics()
	assert.Equal(t, int64(0), m.Active)
	assert.Equal(t, int64(1), m.Completed)
	assert.Equal(t, int64(2), m.Failed) // the error and the panic
	assert.Equal(t, int64(1), m.Panics)
}
