package consistency

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPersonLocks_SerializeSamePerson(t *testing.T) {
	// GIVEN: Many goroutines locking the same person
	// WHEN: Each increments a shared counter inside the lock
	// THEN: At most one holds the lock at a time and the entry is dropped

	locks := newPersonLocks()
	var inside, maxInside int32
	var wg sync.WaitGroup

	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := locks.lock("p-1")
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			atomic.AddInt32(&inside, -1)
			release()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Empty(t, locks.locks)
}

func TestPersonLocks_DifferentPersonsDoNotBlock(t *testing.T) {
	locks := newPersonLocks()

	releaseA := locks.lock("p-1")
	releaseB := locks.lock("p-2")

	assert.Len(t, locks.locks, 2)
	releaseA()
	releaseB()
	assert.Empty(t, locks.locks)
}
