package storage

import (
	"context"
	"sync"
	"time"
)

// Claims grants a key to exactly one caller until the TTL runs out.
type Claims interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// MemoryClaims is a process-local Claims. Expired keys are dropped lazily.
type MemoryClaims struct {
	mu   sync.Mutex
	keys map[string]time.Time
	now  func() time.Time
}

func NewMemoryClaims() *MemoryClaims {
	return &MemoryClaims{
		keys: make(map[string]time.Time),
		now:  time.Now,
	}
}

func (m *MemoryClaims) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if exp, ok := m.keys[key]; ok && (exp.IsZero() || now.Before(exp)) {
		return false, nil
	}
	var exp time.Time
	if ttl > 0 {
		exp = now.Add(ttl)
	}
	m.keys[key] = exp

	if len(m.keys) > 4096 {
		for k, e := range m.keys {
			if !e.IsZero() && !now.Before(e) {
				delete(m.keys, k)
			}
		}
	}
	return true, nil
}
