package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLockFree(t *testing.T) {
	assert := assert.New(t)

	t.Run("Empty Queue", func(t *testing.T) {
		q := NewLockFree[[]byte]()

		assert.True(q.IsEmpty())
		assert.Equal(0, q.Len())
		item, ok := q.Dequeue()
		assert.False(ok)
		assert.Nil(item)
	})

	t.Run("FIFO order", func(t *testing.T) {
		q := NewLockFree[int]()
		for i := 1; i <= 3; i++ {
			q.Enqueue(i)
		}
		assert.Equal(3, q.Len())

		for i := 1; i <= 3; i++ {
			v, ok := q.Dequeue()
			assert.True(ok)
			assert.Equal(i, v)
		}
		assert.True(q.IsEmpty())
	})

	t.Run("Dequeued item not retained", func(t *testing.T) {
		q := NewLockFree[[]byte]()
		q.Enqueue(make([]byte, 16))

		v, ok := q.Dequeue()
		assert.True(ok)
		assert.Len(v, 16)
		assert.Nil(q.head.Load().value.Load(), "sentinel must not keep the dequeued item")
	})

	t.Run("Drain", func(t *testing.T) {
		q := NewLockFree[int]()
		q.Enqueue(1)
		q.Enqueue(2)

		assert.Equal(2, q.Drain())
		assert.True(q.IsEmpty())
	})

	t.Run("Concurrency", func(t *testing.T) {
		q := NewLockFree[int]()
		const producers, perProducer = 8, 500

		var wg sync.WaitGroup
		for p := 0; p < producers; p++ {
			wg.Add(1)
			go func(base int) {
				defer wg.Done()
				for i := 0; i < perProducer; i++ {
					q.Enqueue(base + i)
				}
			}(p * perProducer)
		}
		wg.Wait()
		assert.Equal(producers*perProducer, q.Len())

		seen := make([]bool, producers*perProducer)
		var mu sync.Mutex
		for c := 0; c < 4; c++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					v, ok := q.Dequeue()
					if !ok {
						return
					}
					mu.Lock()
					seen[v] = true
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		for i, s := range seen {
			assert.True(s, "item %d lost", i)
		}
		assert.True(q.IsEmpty())
	})
}
