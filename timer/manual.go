package timer

import (
	"sort"
	"strconv"
	"sync"
	"time"
)

// Manual is a Service whose clock only moves when Advance or Set is called.
// Due callbacks run synchronously on the goroutine that moved the clock,
// in order of their scheduled instant.
type Manual struct {
	mu      sync.Mutex
	now     time.Time
	seq     int
	pending map[Handle]*manualTimer
}

type manualTimer struct {
	at  time.Time
	seq int
	fn  func()
}

func NewManual(start time.Time) *Manual {
	return &Manual{now: start, pending: make(map[Handle]*manualTimer)}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) Schedule(at time.Time, fn func()) Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	h := Handle("manual-" + strconv.Itoa(m.seq))
	m.pending[h] = &manualTimer{at: at, seq: m.seq, fn: fn}
	return h
}

func (m *Manual) Cancel(h Handle) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pending[h]; !ok {
		return false
	}
	delete(m.pending, h)
	return true
}

// Advance moves the clock forward by d, firing every callback that comes
// due on the way, including ones scheduled by earlier callbacks.
func (m *Manual) Advance(d time.Duration) {
	m.Set(m.Now().Add(d))
}

func (m *Manual) Set(target time.Time) {
	for {
		m.mu.Lock()
		h, t := m.nextDue(target)
		if t == nil {
			if target.After(m.now) {
				m.now = target
			}
			m.mu.Unlock()
			return
		}
		delete(m.pending, h)
		if t.at.After(m.now) {
			m.now = t.at
		}
		m.mu.Unlock()
		t.fn()
	}
}

// Pending returns the scheduled instants that have not fired, earliest first.
func (m *Manual) Pending() []time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]time.Time, 0, len(m.pending))
	for _, t := range m.pending {
		out = append(out, t.at)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func (m *Manual) nextDue(target time.Time) (Handle, *manualTimer) {
	var (
		bestH Handle
		best  *manualTimer
	)
	for h, t := range m.pending {
		if t.at.After(target) {
			continue
		}
		if best == nil || t.at.Before(best.at) || (t.at.Equal(best.at) && t.seq < best.seq) {
			bestH, best = h, t
		}
	}
	return bestH, best
}
