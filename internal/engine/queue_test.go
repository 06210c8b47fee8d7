package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/repairsync/internal/chain"
)

func logItem(block uint64) item {
	return item{log: chain.Log{Block: block}, origin: OriginLive}
}

func TestEventQueue_FIFO(t *testing.T) {
	q := newEventQueue()

	for b := uint64(1); b <= 3; b++ {
		require.True(t, q.Enqueue(logItem(b)))
	}

	for b := uint64(1); b <= 3; b++ {
		got, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, b, got.log.Block)
	}

	_, ok := q.TryDequeue()
	assert.False(t, ok, "dequeue from empty queue should return false")
}

func TestEventQueue_WaitSignals(t *testing.T) {
	q := newEventQueue()

	done := make(chan item)
	go func() {
		<-q.Wait()
		it, _ := q.TryDequeue()
		done <- it
	}()

	time.Sleep(10 * time.Millisecond)
	q.Enqueue(logItem(7))

	select {
	case it := <-done:
		assert.Equal(t, uint64(7), it.log.Block)
	case <-time.After(time.Second):
		t.Fatal("wait did not fire")
	}
}

func TestEventQueue_CloseReleasesBarriers(t *testing.T) {
	q := newEventQueue()
	barrier := make(chan struct{})
	q.Enqueue(logItem(1))
	q.Enqueue(item{barrier: barrier})

	q.Close()

	select {
	case <-barrier:
	default:
		t.Fatal("barrier still blocked after close")
	}
	_, ok := <-q.Wait()
	assert.False(t, ok, "wait channel closed")
	assert.Equal(t, 0, q.Len())
	assert.False(t, q.Enqueue(logItem(2)), "enqueue after close should return false")

	q.Close() // idempotent
}

func TestEventQueue_Len(t *testing.T) {
	q := newEventQueue()
	assert.Equal(t, 0, q.Len())

	q.Enqueue(logItem(1))
	q.Enqueue(logItem(2))
	assert.Equal(t, 2, q.Len())

	q.TryDequeue()
	assert.Equal(t, 1, q.Len())
}

func TestEventQueue_ThreadSafe(t *testing.T) {
	q := newEventQueue()

	const producers = 10
	const perProducer = 100

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Enqueue(logItem(uint64(p*perProducer + i)))
			}
		}(p)
	}
	wg.Wait()

	seen := make(map[uint64]bool)
	for {
		it, ok := q.TryDequeue()
		if !ok {
			break
		}
		seen[it.log.Block] = true
	}
	assert.Len(t, seen, producers*perProducer)
}
