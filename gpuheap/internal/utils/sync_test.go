package utils

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOptionalMutex_Disabled(t *testing.T) {
	var mutex OptionalMutex

	// A disabled mutex never blocks, so nested locking is harmless
	mutex.Lock()
	mutex.Lock()
	mutex.Unlock()
	mutex.Unlock()
	require.True(t, mutex.Mutex.TryLock())
}

func TestOptionalMutex_Enabled(t *testing.T) {
	mutex := OptionalMutex{UseMutex: true}

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				mutex.Lock()
				counter++
				mutex.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 16000, counter)
}

func TestOptionalRWMutex(t *testing.T) {
	mutex := OptionalRWMutex{UseMutex: true}

	mutex.RLock()
	mutex.RLock()
	require.False(t, mutex.Mutex.TryLock())
	mutex.RUnlock()
	mutex.RUnlock()

	mutex.Lock()
	require.False(t, mutex.Mutex.TryRLock())
	mutex.Unlock()

	disabled := OptionalRWMutex{}
	disabled.Lock()
	disabled.RLock()
	disabled.RUnlock()
	disabled.Unlock()
	require.True(t, disabled.Mutex.TryLock())
}
