// Package timer schedules callbacks for absolute instants.
//
// Timers live in memory only. Anything that must survive a restart is
// re-derived by the caller from persisted timestamps.
package timer

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Handle identifies a scheduled callback. The zero Handle is never issued.
type Handle string

type Clock interface {
	Now() time.Time
}

// Service schedules callbacks. Cancel reports whether the callback was
// still pending; a callback that already started keeps running.
type Service interface {
	Clock
	Schedule(at time.Time, fn func()) Handle
	Cancel(h Handle) bool
}

// Real is a Service backed by time.AfterFunc.
type Real struct {
	mu     sync.Mutex
	timers map[Handle]*time.Timer
}

func NewReal() *Real {
	return &Real{timers: make(map[Handle]*time.Timer)}
}

func (s *Real) Now() time.Time {
	return time.Now()
}

func (s *Real) Schedule(at time.Time, fn func()) Handle {
	h := Handle(uuid.NewString())

	s.mu.Lock()
	defer s.mu.Unlock()
	s.timers[h] = time.AfterFunc(time.Until(at), func() {
		s.mu.Lock()
		delete(s.timers, h)
		s.mu.Unlock()
		fn()
	})
	return h
}

func (s *Real) Cancel(h Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timers[h]
	if !ok {
		return false
	}
	delete(s.timers, h)
	return t.Stop()
}

// Pending returns the number of callbacks that have not fired yet.
func (s *Real) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
