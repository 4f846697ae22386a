package limiter

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	fails        int
	updatedAt    time.Time
	blockedUntil time.Time
}

// Memory is an in-process limiter with the same policy semantics as PG.
type Memory struct {
	Policy
	mu        sync.Mutex
	now       func() time.Time
	entries   map[string]*entry
	lastSweep time.Time
}

// NewMemory constructs an in-memory limiter.
func NewMemory(p Policy) *Memory {
	return &Memory{Policy: p, now: time.Now, entries: map[string]*entry{}}
}

func memKey(key string, ipHash []byte) string { return key + "\x00" + string(ipHash) }

// sweep drops entries whose window and block have both lapsed. It runs at most
// once per Window. Caller holds l.mu.
func (l *Memory) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.Window {
		return
	}
	l.lastSweep = now
	for k, e := range l.entries {
		if now.Sub(e.updatedAt) > l.Window && !e.blockedUntil.After(now) {
			delete(l.entries, k)
		}
	}
}

func (l *Memory) Allow(_ context.Context, key string, ipHash []byte) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.sweep(now)
	e, ok := l.entries[memKey(key, ipHash)]
	if !ok {
		return true, 0, nil
	}
	if e.blockedUntil.After(now) {
		return false, e.blockedUntil.Sub(now), nil
	}
	return true, 0, nil
}

func (l *Memory) Success(_ context.Context, key string, ipHash []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, memKey(key, ipHash))
	return nil
}

func (l *Memory) Failure(_ context.Context, key string, ipHash []byte) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.sweep(now)
	k := memKey(key, ipHash)
	e, ok := l.entries[k]
	if !ok || now.Sub(e.updatedAt) > l.Window {
		e = &entry{}
		l.entries[k] = e
	}
	e.fails++
	e.updatedAt = now
	if e.fails < l.MaxFails {
		return false, 0, nil
	}
	e.blockedUntil = now.Add(l.BlockFor)
	return true, l.BlockFor, nil
}
