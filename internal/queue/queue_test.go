package queue

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcurrencyCapIsRespected(t *testing.T) {
	q := New(2)

	var active, peak int32
	release := make(chan struct{})
	var handles []*Handle
	for i := 0; i < 6; i++ {
		handles = append(handles, q.Enqueue(func() error {
			n := atomic.AddInt32(&active, 1)
			for {
				old := atomic.LoadInt32(&peak)
				if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
					break
				}
			}
			<-release
			atomic.AddInt32(&active, -1)
			return nil
		}))
	}

	// Let the first two start, then release everything.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(2), atomic.LoadInt32(&active))
	close(release)

	for _, h := range handles {
		require.NoError(t, h.Wait())
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestSerialQueuePreservesFIFOOrder(t *testing.T) {
	q := New(1)

	var mu sync.Mutex
	var order []int
	var handles []*Handle
	for i := 0; i < 5; i++ {
		i := i
		handles = append(handles, q.Enqueue(func() error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		}))
	}
	for _, h := range handles {
		require.NoError(t, h.Wait())
	}

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestJobErrorDoesNotStopOtherJobs(t *testing.T) {
	q := New(1)

	boom := errors.New("boom")
	failed := q.Enqueue(func() error { return boom })
	var ran bool
	next := q.Enqueue(func() error { ran = true; return nil })

	assert.ErrorIs(t, failed.Wait(), boom)
	require.NoError(t, next.Wait())
	assert.True(t, ran)
}

func TestJobPanicIsRecovered(t *testing.T) {
	q := New(1)

	panicked := q.Enqueue(func() error { panic("kaboom") })
	next := q.Enqueue(func() error { return nil })

	err := panicked.Wait()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job panicked")
	require.NoError(t, next.Wait())
}

func TestRaisingConcurrencyAdmitsWaitingJobs(t *testing.T) {
	q := New(1)

	release := make(chan struct{})
	blocker := q.Enqueue(func() error { <-release; return nil })

	started := make(chan struct{})
	waiting := q.Enqueue(func() error { close(started); return nil })

	select {
	case <-started:
		t.Fatal("second job started past the cap")
	case <-time.After(50 * time.Millisecond):
	}

	q.SetConcurrency(2)
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("raising concurrency did not admit the waiting job")
	}

	close(release)
	require.NoError(t, blocker.Wait())
	require.NoError(t, waiting.Wait())
}

func TestStatsReportDepth(t *testing.T) {
	q := New(1)

	release := make(chan struct{})
	running := q.Enqueue(func() error { <-release; return nil })
	q.Enqueue(func() error { return nil })
	q.Enqueue(func() error { return nil })

	time.Sleep(20 * time.Millisecond)
	stats := q.Stats()
	assert.Equal(t, 1, stats.Active)
	assert.Equal(t, 2, stats.Pending)

	close(release)
	require.NoError(t, running.Wait())
}

func TestNewClampsNonPositiveCap(t *testing.T) {
	q := New(0)
	h := q.Enqueue(func() error { return nil })
	require.NoError(t, h.Wait())
}
