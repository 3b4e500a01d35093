package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"carereminder/model"
	"carereminder/timer"

	"github.com/google/uuid"
)

// MemoryStore keeps reminders in process memory. It is used for local runs
// and tests.
type MemoryStore struct {
	clock timer.Clock

	mu          sync.RWMutex
	reminders   map[string]model.Reminder
	subscribers map[*subscriber]struct{}
}

type subscriber struct {
	userID     string
	authorView bool
	ch         chan []model.Reminder
}

// NewMemoryStore returns an empty store. clock stamps UpdatedAt; nil means
// the wall clock.
func NewMemoryStore(clock timer.Clock) *MemoryStore {
	return &MemoryStore{
		clock:       clock,
		reminders:   make(map[string]model.Reminder),
		subscribers: make(map[*subscriber]struct{}),
	}
}

func (s *MemoryStore) now() time.Time {
	if s.clock == nil {
		return time.Now()
	}
	return s.clock.Now()
}

func (s *MemoryStore) Get(_ context.Context, id string) (*model.Reminder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reminders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (s *MemoryStore) Create(_ context.Context, r *model.Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if _, exists := s.reminders[r.ID]; exists {
		return fmt.Errorf("reminder %s already exists", r.ID)
	}
	now := s.now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	s.reminders[r.ID] = *r
	s.publishLocked()
	return nil
}

func (s *MemoryStore) Update(_ context.Context, id string, revision int64, p Patch) (*model.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reminders[id]
	if !ok {
		return nil, ErrNotFound
	}
	if r.Revision != revision {
		return nil, ErrConflict
	}
	p.Apply(&r, s.now())
	s.reminders[id] = r
	s.publishLocked()
	return &r, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reminders[id]; !ok {
		return ErrNotFound
	}
	delete(s.reminders, id)
	s.publishLocked()
	return nil
}

func (s *MemoryStore) ListPending(_ context.Context) ([]model.Reminder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Reminder
	for _, r := range s.reminders {
		if r.Status == model.StatusPending {
			out = append(out, r)
		}
	}
	sortByDateTime(out)
	return out, nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, userID string, authorView bool) (<-chan []model.Reminder, error) {
	sub := &subscriber{userID: userID, authorView: authorView, ch: make(chan []model.Reminder, 1)}

	s.mu.Lock()
	s.subscribers[sub] = struct{}{}
	sub.ch <- s.visibleLocked(sub)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subscribers, sub)
		close(sub.ch)
		s.mu.Unlock()
	}()
	return sub.ch, nil
}

func (s *MemoryStore) visibleLocked(sub *subscriber) []model.Reminder {
	out := []model.Reminder{}
	for _, r := range s.reminders {
		if r.Visible(sub.userID, sub.authorView) {
			out = append(out, r)
		}
	}
	sortByDateTime(out)
	return out
}

// publishLocked hands every subscriber its latest list. A subscriber that
// has not read the previous list only gets the newest one.
func (s *MemoryStore) publishLocked() {
	for sub := range s.subscribers {
		list := s.visibleLocked(sub)
		select {
		case <-sub.ch:
		default:
		}
		sub.ch <- list
	}
}

func sortByDateTime(rs []model.Reminder) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].DateTime.Equal(rs[j].DateTime) {
			return rs[i].ID < rs[j].ID
		}
		return rs[i].DateTime.Before(rs[j].DateTime)
	})
}
