package admission

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSemaphoreAcquireRelease(t *testing.T) {
	s := NewSemaphore(3)
	require.NoError(t, s.Acquire(context.Background(), 2))
	assert.Equal(t, 2, s.InUse())
	s.Release(2)
	assert.Equal(t, 0, s.InUse())
}

func TestSemaphoreBlocksUntilReleased(t *testing.T) {
	s := NewSemaphore(1)
	require.NoError(t, s.Acquire(context.Background(), 1))

	done := make(chan struct{})
	go func() {
		require.NoError(t, s.Acquire(context.Background(), 1))
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("second acquire should not succeed before release")
	case <-time.After(50 * time.Millisecond):
	}

	s.Release(1)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second acquire should succeed after release")
	}
}

func TestSemaphoreAcquireCanceledByContext(t *testing.T) {
	s := NewSemaphore(1)
	require.NoError(t, s.Acquire(context.Background(), 1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := s.Acquire(ctx, 1)
	require.Error(t, err)
	assert.Equal(t, 0, s.InUse()-1)
}

func TestSemaphoreCapacityOne(t *testing.T) {
	s := NewSemaphore(1)
	assert.Equal(t, 1, s.Capacity())
}

// TestSemaphoreConcurrentMultiPermitAcquiresDoNotDeadlock reproduces the
// scenario where two callers each need 2 of a 3-permit pool: a one-at-a-time
// acquire loop could let each caller grab 1 permit and then block forever
// on the other's share. With atomic N-acquire, one caller proceeds and the
// other queues behind it instead of deadlocking.
func TestSemaphoreConcurrentMultiPermitAcquiresDoNotDeadlock(t *testing.T) {
	s := NewSemaphore(3)

	results := make(chan error, 2)
	start := make(chan struct{})
	for i := 0; i < 2; i++ {
		go func() {
			<-start
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			err := s.Acquire(ctx, 2)
			if err == nil {
				time.Sleep(20 * time.Millisecond)
				s.Release(2)
			}
			results <- err
		}()
	}
	close(start)

	for i := 0; i < 2; i++ {
		select {
		case err := <-results:
			assert.NoError(t, err)
		case <-time.After(3 * time.Second):
			t.Fatal("acquire deadlocked")
		}
	}
}

func TestSemaphoreConcurrentUsersNeverExceedCapacity(t *testing.T) {
	const capacity = 4
	s := NewSemaphore(capacity)

	var wg sync.WaitGroup
	var mu sync.Mutex
	maxObserved := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, s.Acquire(context.Background(), 1))
			mu.Lock()
			if s.InUse() > maxObserved {
				maxObserved = s.InUse()
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			s.Release(1)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, maxObserved, capacity)
}
