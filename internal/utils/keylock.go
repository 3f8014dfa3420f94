package utils

import (
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
)

// KeyedMutex hands out one mutex per key, typically a guild id.
type KeyedMutex struct {
	locks *xsync.MapOf[string, *sync.Mutex]
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: xsync.NewMapOf[string, *sync.Mutex]()}
}

func (k *KeyedMutex) Lock(key string) func() {
	mu, _ := k.locks.LoadOrCompute(key, func() *sync.Mutex { return &sync.Mutex{} })
	mu.Lock()
	return mu.Unlock
}
