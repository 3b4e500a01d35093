// Package engine owns the escalation state machine of every reminder.
//
// Each occurrence rings at most twice. The ring stage is recomputed from the
// persisted counters at every decision point, so a restarted process resumes
// where the Store says it is. Timers are only a way to get called back; the
// Store is the source of truth.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"carereminder/dispatcher"
	"carereminder/model"
	"carereminder/store"
	"carereminder/timer"

	"golang.org/x/sync/errgroup"
)

const (
	handlerTimeout     = 30 * time.Second
	recoverConcurrency = 10
)

type Engine struct {
	store      store.Store
	dispatcher dispatcher.Dispatcher
	timers     timer.Service
	locks      *keyedMutex

	mu    sync.Mutex
	armed map[string]armedTimer
}

type timerKind int

const (
	triggerTimer timerKind = iota
	autoMissTimer
)

// armedTimer is the single live timer of a reminder.
type armedTimer struct {
	handle timer.Handle
	kind   timerKind
	at     time.Time
}

func New(st store.Store, d dispatcher.Dispatcher, timers timer.Service) *Engine {
	return &Engine{
		store:      st,
		dispatcher: d,
		timers:     timers,
		locks:      newKeyedMutex(),
		armed:      make(map[string]armedTimer),
	}
}

// NewReminder is what an author submits.
type NewReminder struct {
	CreatedBy       string
	ForUser         string
	DateTime        time.Time
	Repeat          model.Repeat
	FollowUpMinutes int
	Label           model.Label
	Description     string
}

func (in *NewReminder) normalize(now time.Time) error {
	in.CreatedBy = strings.TrimSpace(in.CreatedBy)
	in.ForUser = strings.TrimSpace(in.ForUser)
	if in.CreatedBy == "" {
		return fmt.Errorf("%w: createdBy is required", ErrInvalidReminder)
	}
	if in.ForUser == "" {
		return fmt.Errorf("%w: forUser is required", ErrInvalidReminder)
	}
	if in.DateTime.IsZero() {
		return fmt.Errorf("%w: dateTime is required", ErrInvalidReminder)
	}
	in.DateTime = model.Instant(in.DateTime)
	if now.Sub(in.DateTime) > model.ActionableWindow {
		return fmt.Errorf("%w: dateTime %s is in the past", ErrInvalidReminder, in.DateTime.Format(time.RFC3339))
	}
	if in.Repeat == "" {
		in.Repeat = model.RepeatNone
	}
	if !in.Repeat.Valid() {
		return fmt.Errorf("%w: unknown repeat %q", ErrInvalidReminder, in.Repeat)
	}
	if in.Label == "" {
		in.Label = model.LabelOther
	}
	if !in.Label.Valid() {
		return fmt.Errorf("%w: unknown label %q", ErrInvalidReminder, in.Label)
	}
	if in.FollowUpMinutes == 0 {
		in.FollowUpMinutes = model.DefaultFollowUpMinutes
	}
	if err := validFollowUp(in.FollowUpMinutes); err != nil {
		return err
	}
	return nil
}

func validFollowUp(m int) error {
	if m < 1 || m > model.MaxFollowUpMinutes {
		return fmt.Errorf("%w: followUpMinutes must be between 1 and %d", ErrInvalidReminder, model.MaxFollowUpMinutes)
	}
	return nil
}

// Create stores a new pending occurrence and arms its trigger.
func (e *Engine) Create(ctx context.Context, in NewReminder) (*model.Reminder, error) {
	if err := in.normalize(e.timers.Now()); err != nil {
		return nil, err
	}
	r := &model.Reminder{
		CreatedBy:       in.CreatedBy,
		ForUser:         in.ForUser,
		DateTime:        in.DateTime,
		ScheduledFor:    in.DateTime,
		Repeat:          in.Repeat,
		FollowUpMinutes: in.FollowUpMinutes,
		Label:           in.Label,
		Description:     in.Description,
		Status:          model.StatusPending,
	}
	if err := e.store.Create(ctx, r); err != nil {
		return nil, err
	}
	e.armTrigger(r)
	log.Printf("[engine] created reminder %s for %s at %s", r.ID, r.ForUser, r.DateTime.Format(time.RFC3339))
	return r, nil
}

func (e *Engine) Get(ctx context.Context, id string) (*model.Reminder, error) {
	return e.store.Get(ctx, id)
}

func (e *Engine) Subscribe(ctx context.Context, userID string, authorView bool) (<-chan []model.Reminder, error) {
	return e.store.Subscribe(ctx, userID, authorView)
}

// List returns the current reminders visible to userID.
func (e *Engine) List(ctx context.Context, userID string, authorView bool) ([]model.Reminder, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	ch, err := e.store.Subscribe(ctx, userID, authorView)
	if err != nil {
		return nil, err
	}
	select {
	case list, ok := <-ch:
		if !ok {
			return nil, ctx.Err()
		}
		return list, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Details are the fields that may change after creation. Nil fields are
// left untouched.
type Details struct {
	Label           *model.Label
	Description     *string
	FollowUpMinutes *int
}

func (e *Engine) UpdateDetails(ctx context.Context, id string, d Details) (*model.Reminder, error) {
	patch := store.Patch{
		Label:           d.Label,
		Description:     d.Description,
		FollowUpMinutes: d.FollowUpMinutes,
	}
	if patch.Empty() {
		return nil, fmt.Errorf("%w: nothing to update", ErrInvalidReminder)
	}
	if d.Label != nil && !d.Label.Valid() {
		return nil, fmt.Errorf("%w: unknown label %q", ErrInvalidReminder, *d.Label)
	}
	if d.FollowUpMinutes != nil {
		if err := validFollowUp(*d.FollowUpMinutes); err != nil {
			return nil, err
		}
	}

	unlock := e.locks.Lock(id)
	defer unlock()
	return e.apply(ctx, id, "update", func(*model.Reminder, time.Time) (*plan, error) {
		return &plan{patch: patch}, nil
	})
}

// Delete cancels the reminder's timer and live notification, then removes it.
func (e *Engine) Delete(ctx context.Context, id string) error {
	unlock := e.locks.Lock(id)
	defer unlock()

	r, err := e.store.Get(ctx, id)
	if err != nil {
		return err
	}
	e.disarm(id, "")
	e.cancelNotification(ctx, r)
	if err := e.store.Delete(ctx, id); err != nil {
		return err
	}
	log.Printf("[engine] deleted reminder %s", id)
	return nil
}

// Recover re-derives every outstanding timer after a start.
func (e *Engine) Recover(ctx context.Context) error {
	n, err := e.reconcile(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover reminders: %w", err)
	}
	log.Printf("[engine] ✅ recovered %d pending reminder(s)", n)
	return nil
}

// Reconcile does the same as Recover on a running engine. It picks up
// writes from other processes and transitions dropped after a conflict.
func (e *Engine) Reconcile(ctx context.Context) error {
	_, err := e.reconcile(ctx)
	return err
}

func (e *Engine) reconcile(ctx context.Context) (int, error) {
	pending, err := e.store.ListPending(ctx)
	if err != nil {
		return 0, err
	}

	seen := make(map[string]struct{}, len(pending))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(recoverConcurrency)
	for _, r := range pending {
		seen[r.ID] = struct{}{}
		id := r.ID
		g.Go(func() error {
			e.resume(gctx, id)
			return nil
		})
	}
	for _, id := range e.armedIDs() {
		if _, ok := seen[id]; ok {
			continue
		}
		g.Go(func() error {
			e.resume(gctx, id)
			return nil
		})
	}
	return len(pending), g.Wait()
}

// resume makes sure exactly the timer the persisted state calls for is
// armed, resolving rings and triggers that came due while nobody watched.
func (e *Engine) resume(ctx context.Context, id string) {
	unlock := e.locks.Lock(id)
	defer unlock()

	r, err := e.store.Get(ctx, id)
	if err != nil || r.Status != model.StatusPending {
		e.disarm(id, "")
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			log.Printf("[engine] failed to resume %s: %v", id, err)
		}
		return
	}

	now := e.timers.Now()
	if r.Ringing() {
		triggeredAt := *r.AlarmTriggeredAt
		missAt := r.AutoMissAt()
		if !now.Before(missAt) {
			e.applyLogged(ctx, id, "auto-miss", autoMissDecision(triggeredAt))
			return
		}
		if !e.isArmed(id, autoMissTimer, missAt) {
			e.arm(id, autoMissTimer, missAt, func() { e.onAutoMiss(id, triggeredAt) })
		}
		return
	}

	if r.Stale(now) {
		e.applyLogged(ctx, id, "stale trigger", triggerDecision(r.DateTime))
		return
	}
	if !e.isArmed(id, triggerTimer, r.DateTime) {
		e.armTrigger(r)
	}
}

// Stop cancels every armed timer.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, t := range e.armed {
		e.timers.Cancel(t.handle)
		delete(e.armed, id)
	}
}

// plan is the outcome of deciding one event against a reminder.
type plan struct {
	patch store.Patch
	// ring sends the alarm and arms the auto-miss timer ahead of the write.
	ring bool
	// rearm arms the trigger for the DateTime written by patch.
	rearm bool
	// final means the occurrence is terminal once written.
	final              bool
	cancelNotification bool
	escalate           model.EscalationKind
	retryIn            time.Duration
	expand             bool
}

// decideFunc returns nil when the event no longer applies to r.
type decideFunc func(r *model.Reminder, now time.Time) (*plan, error)

func (e *Engine) onTrigger(id string, at time.Time) {
	e.handle(id, "trigger", triggerDecision(at))
}

func (e *Engine) onAutoMiss(id string, triggeredAt time.Time) {
	e.handle(id, "auto-miss", autoMissDecision(triggeredAt))
}

func (e *Engine) handle(id, event string, decide decideFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()
	unlock := e.locks.Lock(id)
	defer unlock()
	e.applyLogged(ctx, id, event, decide)
}

func (e *Engine) applyLogged(ctx context.Context, id, event string, decide decideFunc) {
	if _, err := e.apply(ctx, id, event, decide); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Printf("[engine] %s for %s: reminder is gone, nothing to do", event, id)
			return
		}
		log.Printf("[engine] ❌ %s for %s dropped: %v", event, id, err)
	}
}

// apply runs read, decide, write for id. The caller holds the id lock. A
// lost write race is re-read and re-decided once.
func (e *Engine) apply(ctx context.Context, id, event string, decide decideFunc) (*model.Reminder, error) {
	for attempt := 1; ; attempt++ {
		r, err := e.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		now := model.Instant(e.timers.Now())
		p, err := decide(r, now)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return r, nil
		}

		undo := e.prepare(ctx, r, p, now)
		updated, err := e.store.Update(ctx, id, r.Revision, p.patch)
		if err != nil {
			undo()
			if errors.Is(err, store.ErrConflict) && attempt < 2 {
				log.Printf("[engine] %s for %s lost a write race, re-reading", event, id)
				continue
			}
			return nil, err
		}
		e.commit(ctx, r, updated, p)
		return updated, nil
	}
}

// prepare performs the side effects that must be recorded by the write and
// returns a func that reverts them if the write fails.
func (e *Engine) prepare(ctx context.Context, r *model.Reminder, p *plan, now time.Time) func() {
	if !p.ring {
		return func() {}
	}
	id, triggeredAt := r.ID, now
	h := e.arm(id, autoMissTimer, now.Add(model.AutoMissWindow), func() { e.onAutoMiss(id, triggeredAt) })
	p.patch.AlarmTriggeredAt = &triggeredAt
	p.patch.AutoMissHandle = store.Ptr(string(h))

	e.cancelNotification(ctx, r)
	nh, err := e.dispatcher.Send(ctx, alarmMessage(r, now))
	if err != nil {
		log.Printf("[engine] ⚠️ alarm for %s not dispatched: %v", id, err)
	}
	p.patch.NotificationHandle = store.Ptr(string(nh))

	return func() {
		e.disarm(id, h)
		if nh != "" {
			if err := e.dispatcher.Cancel(ctx, nh); err != nil {
				log.Printf("[engine] failed to cancel alarm %s for %s: %v", nh, id, err)
			}
		}
	}
}

func (e *Engine) commit(ctx context.Context, before, after *model.Reminder, p *plan) {
	if p.cancelNotification {
		e.cancelNotification(ctx, before)
	}
	switch {
	case p.rearm:
		e.armTrigger(after)
	case p.final:
		e.disarm(after.ID, "")
	}
	if p.escalate != "" {
		if _, err := e.dispatcher.Send(ctx, escalationMessage(after, p.escalate, p.retryIn)); err != nil {
			log.Printf("[engine] ⚠️ %s escalation for %s not dispatched: %v", p.escalate, after.ID, err)
		}
	}
	log.Printf("[engine] reminder %s is %s (snooze=%d miss=%d)", after.ID, after.State(), after.SnoozeCount, after.MissCount)
	if p.expand {
		e.expand(ctx, after)
	}
}

func (e *Engine) cancelNotification(ctx context.Context, r *model.Reminder) {
	if r.NotificationHandle == "" {
		return
	}
	if err := e.dispatcher.Cancel(ctx, dispatcher.Handle(r.NotificationHandle)); err != nil {
		log.Printf("[engine] failed to cancel notification %s for %s: %v", r.NotificationHandle, r.ID, err)
	}
}

func triggerDecision(at time.Time) decideFunc {
	return func(r *model.Reminder, now time.Time) (*plan, error) {
		if r.Status != model.StatusPending || r.AlarmTriggeredAt != nil || !model.SameInstant(r.DateTime, at) {
			return nil, nil
		}
		if now.Before(r.DateTime) {
			return nil, nil
		}
		if r.Stale(now) {
			return missPlan(r, now), nil
		}
		return &plan{ring: true}, nil
	}
}

func autoMissDecision(triggeredAt time.Time) decideFunc {
	return func(r *model.Reminder, now time.Time) (*plan, error) {
		if !r.Ringing() || !model.SameInstant(*r.AlarmTriggeredAt, triggeredAt) {
			return nil, nil
		}
		return missPlan(r, now), nil
	}
}

// missPlan resolves the current ring, or a trigger that came due too long
// ago to ring, as missed.
func missPlan(r *model.Reminder, now time.Time) *plan {
	p := &plan{
		patch: store.Patch{
			MissCount:          store.Ptr(r.MissCount + 1),
			ClearAlarm:         true,
			NotificationHandle: store.Ptr(""),
		},
		cancelNotification: true,
	}
	if r.Stage() == 0 {
		wait := r.FollowUp()
		p.patch.DateTime = store.Ptr(now.Add(wait))
		p.rearm = true
		p.escalate, p.retryIn = model.EscalationMissed, wait
		return p
	}
	p.patch.Status = store.Ptr(model.StatusMissed)
	p.final = true
	p.escalate = model.EscalationCheckOn
	return p
}

func (e *Engine) armTrigger(r *model.Reminder) {
	id, at := r.ID, r.DateTime
	e.arm(id, triggerTimer, at, func() { e.onTrigger(id, at) })
}

// arm replaces the live timer of id.
func (e *Engine) arm(id string, kind timerKind, at time.Time, fn func()) timer.Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	if prev, ok := e.armed[id]; ok {
		e.timers.Cancel(prev.handle)
	}
	var h timer.Handle
	h = e.timers.Schedule(at, func() {
		e.mu.Lock()
		if cur, ok := e.armed[id]; ok && cur.handle == h {
			delete(e.armed, id)
		}
		e.mu.Unlock()
		fn()
	})
	e.armed[id] = armedTimer{handle: h, kind: kind, at: at}
	return h
}

// disarm cancels the live timer of id. A non-empty h only cancels that
// particular timer.
func (e *Engine) disarm(id string, h timer.Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cur, ok := e.armed[id]
	if !ok || (h != "" && cur.handle != h) {
		return
	}
	e.timers.Cancel(cur.handle)
	delete(e.armed, id)
}

func (e *Engine) isArmed(id string, kind timerKind, at time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	cur, ok := e.armed[id]
	return ok && cur.kind == kind && model.SameInstant(cur.at, at)
}

func (e *Engine) armedIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.armed))
	for id := range e.armed {
		out = append(out, id)
	}
	return out
}
