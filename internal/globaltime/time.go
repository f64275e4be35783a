package globaltime

import (
	"sync"
	"time"
)

var (
	mu      sync.RWMutex
	nowFunc = time.Now
	offset  time.Duration
)

// Now returns the process clock. Tests pin it with SetMockTime.
func Now() time.Time {
	mu.RLock()
	defer mu.RUnlock()
	return nowFunc().Add(offset)
}

func UTC() time.Time {
	return Now().UTC()
}

func SetMockTime(t time.Time) {
	mu.Lock()
	defer mu.Unlock()
	nowFunc = func() time.Time { return t }
	offset = 0
}

// Advance moves a mocked clock forward by d.
func Advance(d time.Duration) {
	mu.Lock()
	defer mu.Unlock()
	offset += d
}

func ResetTime() {
	mu.Lock()
	defer mu.Unlock()
	nowFunc = time.Now
	offset = 0
}
