package services

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyedLockSerializesPerKey(t *testing.T) {
	locks := NewKeyedLock()

	const workers = 16
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("round:1")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	assert.Equal(t, workers, counter)
}

func TestKeyedLockIndependentKeys(t *testing.T) {
	locks := NewKeyedLock()

	unlockFirst := locks.Lock("round:1")
	defer unlockFirst()

	// Другой ключ не должен ждать первого.
	done := make(chan struct{})
	go func() {
		unlock := locks.Lock("round:2")
		unlock()
		close(done)
	}()
	<-done
}
