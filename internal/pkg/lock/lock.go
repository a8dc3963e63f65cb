// Package lock serialises mutations per academy, in process or across
// instances through Redis.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrNotAcquired is returned when a lock could not be taken before the
// context ended.
var ErrNotAcquired = errors.New("lock not acquired")

// Locker hands out exclusive locks by key. The returned release func must
// be called exactly once.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// AcademyKey is the lock key guarding one academy's subscription.
func AcademyKey(academyID uint) string {
	return fmt.Sprintf("academy:%d", academyID)
}

// RosterKey serialises quota-checked player creation for one academy.
func RosterKey(academyID uint) string {
	return fmt.Sprintf("roster:%d", academyID)
}

// JobKey guards a background job so one instance runs it at a time.
func JobKey(name string) string {
	return "job:" + name
}

type entry struct {
	ch   chan struct{}
	refs int
}

// Local is an in-process keyed mutex. The zero value is not usable; call
// NewLocal.
type Local struct {
	mu      sync.Mutex
	entries map[string]*entry
}

func NewLocal() *Local {
	return &Local{entries: make(map[string]*entry)}
}

func (l *Local) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, e, false)
		return nil, fmt.Errorf("%w: %s: %v", ErrNotAcquired, key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(key, e, true) })
	}, nil
}

func (l *Local) release(key string, e *entry, held bool) {
	if held {
		<-e.ch
	}
	l.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
	l.mu.Unlock()
}
