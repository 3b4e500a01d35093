package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"carereminder/dispatcher"
	"carereminder/model"
	"carereminder/store"
	"carereminder/timer"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// T is when the reminders under test come due.
var T = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type recorder struct {
	mu        sync.Mutex
	seq       int
	sent      []dispatcher.Message
	handles   []dispatcher.Handle
	cancelled []dispatcher.Handle
}

func (r *recorder) Send(_ context.Context, msg dispatcher.Message) (dispatcher.Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	h := dispatcher.Handle(fmt.Sprintf("n%d", r.seq))
	r.sent = append(r.sent, msg)
	r.handles = append(r.handles, h)
	return h, nil
}

func (r *recorder) Cancel(_ context.Context, h dispatcher.Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled = append(r.cancelled, h)
	return nil
}

func (r *recorder) byType(typ string) []dispatcher.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []dispatcher.Message
	for _, m := range r.sent {
		if m.Data["type"] == typ {
			out = append(out, m)
		}
	}
	return out
}

func (r *recorder) alarms() []dispatcher.Message {
	return r.byType("alarm")
}

func (r *recorder) escalations() []model.EscalationKind {
	var out []model.EscalationKind
	for _, m := range r.byType("escalation") {
		out = append(out, model.EscalationKind(m.Data["kind"]))
	}
	return out
}

func (r *recorder) lastAlarmHandle() dispatcher.Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.sent) - 1; i >= 0; i-- {
		if r.sent[i].Data["type"] == "alarm" {
			return r.handles[i]
		}
	}
	return ""
}

func (r *recorder) wasCancelled(h dispatcher.Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.cancelled {
		if c == h {
			return true
		}
	}
	return false
}

type harness struct {
	t     *testing.T
	ctx   context.Context
	clock *timer.Manual
	store *store.MemoryStore
	disp  *recorder
	eng   *Engine
}

func newHarness(t *testing.T) *harness {
	clock := timer.NewManual(T.Add(-time.Hour))
	st := store.NewMemoryStore(clock)
	disp := &recorder{}
	return &harness{
		t:     t,
		ctx:   context.Background(),
		clock: clock,
		store: st,
		disp:  disp,
		eng:   New(st, disp, clock),
	}
}

func defaultReminder() NewReminder {
	return NewReminder{
		CreatedBy:   "alice",
		ForUser:     "grandma",
		DateTime:    T,
		Label:       model.LabelMedication,
		Description: "Blood pressure pill",
	}
}

func (h *harness) create(in NewReminder) *model.Reminder {
	h.t.Helper()
	r, err := h.eng.Create(h.ctx, in)
	require.NoError(h.t, err)
	return r
}

func (h *harness) get(id string) *model.Reminder {
	h.t.Helper()
	r, err := h.store.Get(h.ctx, id)
	require.NoError(h.t, err)
	return r
}

func (h *harness) decide(id string, kind model.DecisionKind, minutes int) *model.Reminder {
	h.t.Helper()
	r, err := h.eng.ReportDecision(h.ctx, id, model.Decision{Kind: kind, Minutes: minutes})
	require.NoError(h.t, err)
	return r
}

func TestCreateArmsTrigger(t *testing.T) {
	h := newHarness(t)
	r := h.create(defaultReminder())

	assert.NotEmpty(t, r.ID)
	assert.Equal(t, model.StatusPending, r.Status)
	assert.Equal(t, T, r.ScheduledFor)
	assert.Equal(t, model.DefaultFollowUpMinutes, r.FollowUpMinutes)
	assert.Equal(t, model.RepeatNone, r.Repeat)
	assert.Equal(t, model.StateScheduled, r.State())
	assert.Equal(t, []time.Time{T}, h.clock.Pending())
}

func TestCreateValidation(t *testing.T) {
	cases := map[string]func(*NewReminder){
		"no recipient":   func(in *NewReminder) { in.ForUser = " " },
		"no author":      func(in *NewReminder) { in.CreatedBy = "" },
		"no time":        func(in *NewReminder) { in.DateTime = time.Time{} },
		"in the past":    func(in *NewReminder) { in.DateTime = T.Add(-2 * time.Hour) },
		"bad repeat":     func(in *NewReminder) { in.Repeat = "monthly" },
		"bad label":      func(in *NewReminder) { in.Label = "party" },
		"follow-up <0":   func(in *NewReminder) { in.FollowUpMinutes = -1 },
		"follow-up huge": func(in *NewReminder) { in.FollowUpMinutes = model.MaxFollowUpMinutes + 1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			in := defaultReminder()
			mutate(&in)
			_, err := h.eng.Create(h.ctx, in)
			assert.ErrorIs(t, err, ErrInvalidReminder)
			assert.Empty(t, h.clock.Pending())
		})
	}
}

func TestScenarioSnoozeThenMissOnLastRing(t *testing.T) {
	h := newHarness(t)
	in := defaultReminder()
	in.FollowUpMinutes = 10
	r := h.create(in)

	h.clock.Set(T)
	r = h.get(r.ID)
	assert.Equal(t, model.StateRinging1, r.State())
	require.NotNil(t, r.AlarmTriggeredAt)
	assert.Equal(t, T, *r.AlarmTriggeredAt)
	assert.NotEmpty(t, r.AutoMissHandle)
	require.Len(t, h.disp.alarms(), 1)
	assert.Equal(t, "grandma", h.disp.alarms()[0].Recipient)
	assert.Equal(t, []time.Time{T.Add(time.Minute)}, h.clock.Pending())
	firstAlarm := h.disp.lastAlarmHandle()

	r = h.decide(r.ID, model.DecisionSnooze, 0)
	assert.Equal(t, T.Add(10*time.Minute), r.DateTime)
	assert.Equal(t, 1, r.SnoozeCount)
	assert.Equal(t, model.StatusPending, r.Status)
	assert.Nil(t, r.AlarmTriggeredAt)
	assert.Equal(t, []model.EscalationKind{model.EscalationSnoozed}, h.disp.escalations())
	assert.True(t, h.disp.wasCancelled(firstAlarm))
	assert.Equal(t, []time.Time{T.Add(10 * time.Minute)}, h.clock.Pending())

	h.clock.Set(T.Add(10 * time.Minute))
	r = h.get(r.ID)
	assert.Equal(t, model.StateRinging2, r.State())
	require.Len(t, h.disp.alarms(), 2)

	h.clock.Advance(time.Minute)
	r = h.get(r.ID)
	assert.Equal(t, model.StatusMissed, r.Status)
	assert.Equal(t, 1, r.MissCount)
	assert.Equal(t, 1, r.SnoozeCount)
	assert.Nil(t, r.AlarmTriggeredAt)
	assert.Equal(t, []model.EscalationKind{model.EscalationSnoozed, model.EscalationCheckOn}, h.disp.escalations())
	assert.Empty(t, h.clock.Pending())

	escalation := h.disp.byType("escalation")[1]
	assert.Equal(t, "alice", escalation.Recipient)
	assert.Equal(t, r.ID, escalation.Data["reminderId"])
}

func TestScenarioDoneOnFirstRing(t *testing.T) {
	h := newHarness(t)
	r := h.create(defaultReminder())

	h.clock.Set(T)
	alarm := h.disp.lastAlarmHandle()
	r = h.decide(r.ID, model.DecisionDone, 0)

	assert.Equal(t, model.StatusDone, r.Status)
	assert.Equal(t, model.StateDone, r.State())
	assert.Empty(t, h.clock.Pending(), "auto-miss timer must be cancelled")
	assert.True(t, h.disp.wasCancelled(alarm))
	assert.Empty(t, h.disp.escalations())

	h.clock.Advance(time.Hour)
	assert.Equal(t, model.StatusDone, h.get(r.ID).Status)
}

func TestScenarioDeleteWhileRinging(t *testing.T) {
	h := newHarness(t)
	r := h.create(defaultReminder())
	h.clock.Set(T)
	alarm := h.disp.lastAlarmHandle()

	require.NoError(t, h.eng.Delete(h.ctx, r.ID))
	assert.Empty(t, h.clock.Pending())
	assert.True(t, h.disp.wasCancelled(alarm))

	_, err := h.eng.Get(h.ctx, r.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// A callback that was already running when Delete happened.
	h.eng.onAutoMiss(r.ID, T)
	h.eng.onTrigger(r.ID, T)
	assert.Empty(t, h.disp.escalations())
	assert.Len(t, h.disp.alarms(), 1)

	assert.ErrorIs(t, h.eng.Delete(h.ctx, r.ID), ErrNotFound)
}

func TestScenarioDailyDone(t *testing.T) {
	h := newHarness(t)
	in := defaultReminder()
	in.Repeat = model.RepeatDaily
	first := h.create(in)

	h.clock.Set(T)
	h.decide(first.ID, model.DecisionDone, 0)

	pending, err := h.store.ListPending(h.ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	next := pending[0]
	assert.NotEqual(t, first.ID, next.ID)
	assert.Equal(t, T.Add(24*time.Hour), next.DateTime)
	assert.Equal(t, T.Add(24*time.Hour), next.ScheduledFor)
	assert.Equal(t, 0, next.SnoozeCount)
	assert.Equal(t, 0, next.MissCount)
	assert.Equal(t, first.ID, next.PreviousID)
	assert.Equal(t, first.CreatedBy, next.CreatedBy)
	assert.Equal(t, first.ForUser, next.ForUser)
	assert.Equal(t, first.Label, next.Label)
	assert.Equal(t, first.FollowUpMinutes, next.FollowUpMinutes)
	assert.Equal(t, model.RepeatDaily, next.Repeat)
	assert.Equal(t, []time.Time{T.Add(24 * time.Hour)}, h.clock.Pending())

	h.clock.Set(T.Add(24 * time.Hour))
	assert.Equal(t, model.StateRinging1, h.get(next.ID).State())
}

func TestMissedDailyOccurrenceEndsSeries(t *testing.T) {
	h := newHarness(t)
	in := defaultReminder()
	in.Repeat = model.RepeatDaily
	r := h.create(in)

	h.clock.Set(T)
	h.clock.Advance(model.AutoMissWindow)
	h.clock.Advance(time.Duration(model.DefaultFollowUpMinutes) * time.Minute)
	h.clock.Advance(model.AutoMissWindow)
	assert.Equal(t, model.StateMissedFinal, h.get(r.ID).State())

	pending, err := h.store.ListPending(h.ctx)
	require.NoError(t, err)
	assert.Empty(t, pending, "only done rolls a repeating reminder forward")
	assert.Empty(t, h.clock.Pending())
}

func TestRecurrenceUsesOriginalTimeAfterSnooze(t *testing.T) {
	h := newHarness(t)
	in := defaultReminder()
	in.Repeat = model.RepeatWeekly
	r := h.create(in)

	h.clock.Set(T)
	h.decide(r.ID, model.DecisionSnooze, 30)
	h.clock.Set(T.Add(30 * time.Minute))
	h.decide(r.ID, model.DecisionDone, 0)

	pending, err := h.store.ListPending(h.ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, T.AddDate(0, 0, 7), pending[0].DateTime)
}

func TestTwoRingCeiling(t *testing.T) {
	h := newHarness(t)
	r := h.create(defaultReminder())

	h.clock.Set(T)
	h.clock.Advance(time.Minute)
	r = h.get(r.ID)
	assert.Equal(t, model.StatusPending, r.Status)
	assert.Equal(t, 1, r.SnoozeCount+r.MissCount)
	assert.Equal(t, T.Add(11*time.Minute), r.DateTime)
	assert.Equal(t, []model.EscalationKind{model.EscalationMissed}, h.disp.escalations())

	h.clock.Set(T.Add(11 * time.Minute))
	assert.Equal(t, model.StateRinging2, h.get(r.ID).State())
	h.clock.Advance(time.Minute)

	r = h.get(r.ID)
	assert.Equal(t, model.StatusMissed, r.Status)
	assert.Equal(t, model.StateMissedFinal, r.State())

	h.clock.Advance(48 * time.Hour)
	assert.Len(t, h.disp.alarms(), 2, "no third ring")
	assert.Equal(t, []model.EscalationKind{model.EscalationMissed, model.EscalationCheckOn}, h.disp.escalations())
	assert.Empty(t, h.clock.Pending())
}

func TestDuplicateCallbacksApplyOnce(t *testing.T) {
	h := newHarness(t)
	r := h.create(defaultReminder())
	h.clock.Set(T)

	h.eng.onTrigger(r.ID, T)
	assert.Len(t, h.disp.alarms(), 1, "duplicate trigger must not ring again")

	h.clock.Advance(30 * time.Second)
	h.eng.onAutoMiss(r.ID, T)
	h.eng.onAutoMiss(r.ID, T)

	r = h.get(r.ID)
	assert.Equal(t, 1, r.MissCount)
	assert.Equal(t, []model.EscalationKind{model.EscalationMissed}, h.disp.escalations())
	assert.Equal(t, []time.Time{T.Add(30*time.Second + 10*time.Minute)}, h.clock.Pending())

	// The auto-miss timer armed by the ring was replaced, so moving past
	// its instant changes nothing.
	h.clock.Set(T.Add(2 * time.Minute))
	assert.Equal(t, 1, h.get(r.ID).MissCount)
}

func TestSnoozeRoundTrip(t *testing.T) {
	h := newHarness(t)
	r := h.create(defaultReminder())
	h.clock.Set(T)

	before := h.get(r.ID).DateTime
	r = h.decide(r.ID, model.DecisionSnooze, 10)
	assert.Equal(t, 10*time.Minute, r.DateTime.Sub(before))
	assert.Equal(t, model.StatusPending, r.Status)
	assert.Equal(t, model.StateScheduled, r.State())
}

func TestInProgressCountsAsSnooze(t *testing.T) {
	h := newHarness(t)
	r := h.create(defaultReminder())

	h.clock.Set(T)
	r = h.decide(r.ID, model.DecisionInProgress, 5)
	assert.Equal(t, 1, r.SnoozeCount)
	assert.Equal(t, T.Add(5*time.Minute), r.DateTime)

	h.clock.Set(T.Add(5 * time.Minute))
	r = h.decide(r.ID, model.DecisionInProgress, 5)
	assert.Equal(t, model.StatusSnoozed, r.Status)
	assert.Equal(t, model.StateSnoozedFinal, r.State())
	assert.Equal(t, 2, r.SnoozeCount)
	assert.Equal(t, T.Add(5*time.Minute), r.DateTime, "no reschedule on the last ring")
	assert.Equal(t, []model.EscalationKind{model.EscalationSnoozed, model.EscalationCheckOn}, h.disp.escalations())
	assert.Empty(t, h.clock.Pending())
}

func TestDismissOnlyOnLastRing(t *testing.T) {
	h := newHarness(t)
	r := h.create(defaultReminder())
	h.clock.Set(T)

	_, err := h.eng.ReportDecision(h.ctx, r.ID, model.Decision{Kind: model.DecisionDismiss})
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, model.StateRinging1, h.get(r.ID).State())

	h.clock.Advance(time.Minute)
	h.clock.Set(T.Add(11 * time.Minute))
	r = h.decide(r.ID, model.DecisionDismiss, 0)
	assert.Equal(t, model.StatusMissed, r.Status)
	assert.Equal(t, 1, r.MissCount, "dismiss does not count as another miss")
	assert.Equal(t, []model.EscalationKind{model.EscalationMissed, model.EscalationCheckOn}, h.disp.escalations())
	assert.Empty(t, h.clock.Pending())
}

func TestDecisionRejected(t *testing.T) {
	h := newHarness(t)
	r := h.create(defaultReminder())

	_, err := h.eng.ReportDecision(h.ctx, r.ID, model.Decision{Kind: model.DecisionDone})
	assert.ErrorIs(t, err, ErrInvalidTransition, "not ringing yet")

	_, err = h.eng.ReportDecision(h.ctx, r.ID, model.Decision{Kind: "later"})
	assert.ErrorIs(t, err, ErrInvalidDecision)

	_, err = h.eng.ReportDecision(h.ctx, r.ID, model.Decision{Kind: model.DecisionSnooze, Minutes: -3})
	assert.ErrorIs(t, err, ErrInvalidDecision)

	_, err = h.eng.ReportDecision(h.ctx, "missing", model.Decision{Kind: model.DecisionDone})
	assert.ErrorIs(t, err, ErrNotFound)

	h.clock.Set(T)
	h.decide(r.ID, model.DecisionDone, 0)
	_, err = h.eng.ReportDecision(h.ctx, r.ID, model.Decision{Kind: model.DecisionSnooze})
	assert.ErrorIs(t, err, ErrInvalidTransition, "already done")
	assert.Equal(t, 0, h.get(r.ID).SnoozeCount)
}

func TestRingingWindowBoundary(t *testing.T) {
	h := newHarness(t)
	// Written by another process; this engine never armed it.
	r := &model.Reminder{
		CreatedBy: "alice", ForUser: "grandma", DateTime: T, ScheduledFor: T,
		Label: model.LabelMeal, Status: model.StatusPending, FollowUpMinutes: 10,
	}
	require.NoError(t, h.store.Create(h.ctx, r))

	h.clock.Set(T.Add(-time.Second))
	_, ok, err := h.eng.GetRingingReminder(h.ctx, r.ID)
	require.NoError(t, err)
	assert.False(t, ok, "not due yet")

	h.clock.Set(T.Add(119 * time.Second))
	got, ok, err := h.eng.GetRingingReminder(h.ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, r.ID, got.ID)

	h.clock.Set(T.Add(121 * time.Second))
	_, ok, err = h.eng.GetRingingReminder(h.ctx, r.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = h.eng.GetRingingReminder(h.ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDecisionOnDiscoveredReminder(t *testing.T) {
	h := newHarness(t)
	r := &model.Reminder{
		CreatedBy: "alice", ForUser: "grandma", DateTime: T, ScheduledFor: T,
		Label: model.LabelMeal, Status: model.StatusPending, FollowUpMinutes: 10,
	}
	require.NoError(t, h.store.Create(h.ctx, r))

	h.clock.Set(T.Add(90 * time.Second))
	updated := h.decide(r.ID, model.DecisionDone, 0)
	assert.Equal(t, model.StatusDone, updated.Status)
}

func TestDecisionRacesAutoMiss(t *testing.T) {
	for i := 0; i < 20; i++ {
		h := newHarness(t)
		r := h.create(defaultReminder())
		h.clock.Set(T)

		unlock := h.eng.locks.Lock(r.ID)
		var (
			wg     sync.WaitGroup
			decErr error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, decErr = h.eng.ReportDecision(h.ctx, r.ID, model.Decision{Kind: model.DecisionDone})
		}()
		go func() {
			defer wg.Done()
			h.clock.Advance(time.Minute)
		}()
		time.Sleep(time.Millisecond)
		unlock()
		wg.Wait()

		got := h.get(r.ID)
		if decErr == nil {
			assert.Equal(t, model.StatusDone, got.Status)
			assert.Equal(t, 0, got.MissCount)
			assert.Empty(t, h.disp.escalations())
		} else {
			assert.ErrorIs(t, decErr, ErrInvalidTransition)
			assert.Equal(t, model.StatusPending, got.Status)
			assert.Equal(t, 1, got.MissCount)
			assert.Equal(t, []model.EscalationKind{model.EscalationMissed}, h.disp.escalations())
		}
	}
}

// conflictStore makes the next Update calls lose a write race.
type conflictStore struct {
	store.Store
	mu        sync.Mutex
	conflicts int
	updates   int
}

func (c *conflictStore) Update(ctx context.Context, id string, revision int64, p store.Patch) (*model.Reminder, error) {
	c.mu.Lock()
	c.updates++
	lose := c.conflicts > 0
	if lose {
		c.conflicts--
	}
	c.mu.Unlock()
	if lose {
		if _, err := c.Store.Update(ctx, id, revision, store.Patch{}); err != nil {
			return nil, err
		}
		return nil, store.ErrConflict
	}
	return c.Store.Update(ctx, id, revision, p)
}

func (c *conflictStore) setConflicts(n int) {
	c.mu.Lock()
	c.conflicts = n
	c.mu.Unlock()
}

func newConflictHarness(t *testing.T) (*harness, *conflictStore) {
	h := newHarness(t)
	cs := &conflictStore{Store: h.store}
	h.eng = New(cs, h.disp, h.clock)
	return h, cs
}

func TestConflictRetriedOnce(t *testing.T) {
	h, cs := newConflictHarness(t)
	r := h.create(defaultReminder())
	h.clock.Set(T)

	cs.setConflicts(1)
	r = h.decide(r.ID, model.DecisionSnooze, 10)
	assert.Equal(t, 1, r.SnoozeCount)
	assert.Equal(t, T.Add(10*time.Minute), r.DateTime)
	assert.Equal(t, []model.EscalationKind{model.EscalationSnoozed}, h.disp.escalations())
}

func TestSecondConflictIsDropped(t *testing.T) {
	h, cs := newConflictHarness(t)
	r := h.create(defaultReminder())
	h.clock.Set(T)

	cs.setConflicts(2)
	_, err := h.eng.ReportDecision(h.ctx, r.ID, model.Decision{Kind: model.DecisionSnooze})
	assert.ErrorIs(t, err, store.ErrConflict)
	got := h.get(r.ID)
	assert.Equal(t, 0, got.SnoozeCount)
	assert.Equal(t, model.StateRinging1, got.State())
	assert.Empty(t, h.disp.escalations())
}

func TestDroppedRingIsPickedUpByReconcile(t *testing.T) {
	h, cs := newConflictHarness(t)
	r := h.create(defaultReminder())

	cs.setConflicts(2)
	h.clock.Set(T)
	got := h.get(r.ID)
	assert.Nil(t, got.AlarmTriggeredAt)
	assert.Empty(t, h.clock.Pending(), "auto-miss armed for the lost write must be undone")
	require.Len(t, h.disp.alarms(), 2)
	h.disp.mu.Lock()
	cancelled := len(h.disp.cancelled)
	h.disp.mu.Unlock()
	assert.Equal(t, 2, cancelled, "alarms sent for lost writes must be cancelled")

	h.clock.Advance(10 * time.Second)
	require.NoError(t, h.eng.Reconcile(h.ctx))
	h.clock.Advance(0)
	got = h.get(r.ID)
	assert.Equal(t, model.StateRinging1, got.State())
	require.NotNil(t, got.AlarmTriggeredAt)
	assert.Equal(t, T.Add(10*time.Second), *got.AlarmTriggeredAt)
}

func TestRecoverResumesRingInFlight(t *testing.T) {
	h := newHarness(t)
	r := h.create(defaultReminder())
	h.clock.Set(T)
	h.eng.Stop()
	assert.Empty(t, h.clock.Pending())

	h.clock.Set(T.Add(30 * time.Second))
	restarted := New(h.store, h.disp, h.clock)
	require.NoError(t, restarted.Recover(h.ctx))
	assert.Equal(t, []time.Time{T.Add(time.Minute)}, h.clock.Pending())
	assert.Len(t, h.disp.alarms(), 1, "no duplicate ring after restart")

	h.clock.Advance(30 * time.Second)
	got := h.get(r.ID)
	assert.Equal(t, 1, got.MissCount)
	assert.Equal(t, T.Add(11*time.Minute), got.DateTime)
}

func TestRecoverResolvesElapsedAutoMiss(t *testing.T) {
	h := newHarness(t)
	r := h.create(defaultReminder())
	h.clock.Set(T)
	h.eng.Stop()

	h.clock.Set(T.Add(5 * time.Minute))
	restarted := New(h.store, h.disp, h.clock)
	require.NoError(t, restarted.Recover(h.ctx))

	got := h.get(r.ID)
	assert.Equal(t, 1, got.MissCount)
	assert.Nil(t, got.AlarmTriggeredAt)
	assert.Equal(t, T.Add(15*time.Minute), got.DateTime)
	assert.Equal(t, []model.EscalationKind{model.EscalationMissed}, h.disp.escalations())
	assert.Equal(t, []time.Time{T.Add(15 * time.Minute)}, h.clock.Pending())

	require.NoError(t, restarted.Recover(h.ctx))
	assert.Equal(t, []model.EscalationKind{model.EscalationMissed}, h.disp.escalations(), "recovering twice changes nothing")
	assert.Len(t, h.clock.Pending(), 1)
}

func TestRecoverStaleReminders(t *testing.T) {
	h := newHarness(t)
	first := &model.Reminder{
		CreatedBy: "alice", ForUser: "grandma", DateTime: T, ScheduledFor: T,
		Label: model.LabelMeal, Status: model.StatusPending, FollowUpMinutes: 10,
	}
	last := &model.Reminder{
		CreatedBy: "alice", ForUser: "grandma", DateTime: T, ScheduledFor: T,
		Label: model.LabelMeal, Status: model.StatusPending, FollowUpMinutes: 10, SnoozeCount: 1,
	}
	require.NoError(t, h.store.Create(h.ctx, first))
	require.NoError(t, h.store.Create(h.ctx, last))

	h.clock.Set(T.Add(10 * time.Minute))
	require.NoError(t, h.eng.Recover(h.ctx))

	assert.Empty(t, h.disp.alarms(), "stale reminders never ring")

	got := h.get(first.ID)
	assert.Equal(t, model.StatusPending, got.Status)
	assert.Equal(t, 1, got.MissCount)
	assert.Equal(t, T.Add(20*time.Minute), got.DateTime)

	got = h.get(last.ID)
	assert.Equal(t, model.StatusMissed, got.Status)
	assert.ElementsMatch(t, []model.EscalationKind{model.EscalationMissed, model.EscalationCheckOn}, h.disp.escalations())
	assert.Equal(t, []time.Time{T.Add(20 * time.Minute)}, h.clock.Pending())
}

func TestRecoverRingsLateWithinWindow(t *testing.T) {
	h := newHarness(t)
	r := &model.Reminder{
		CreatedBy: "alice", ForUser: "grandma", DateTime: T, ScheduledFor: T,
		Label: model.LabelMeal, Status: model.StatusPending, FollowUpMinutes: 10,
	}
	require.NoError(t, h.store.Create(h.ctx, r))

	h.clock.Set(T.Add(30 * time.Second))
	require.NoError(t, h.eng.Recover(h.ctx))
	h.clock.Advance(0)

	got := h.get(r.ID)
	assert.Equal(t, model.StateRinging1, got.State())
	assert.Equal(t, T.Add(30*time.Second), *got.AlarmTriggeredAt)
	assert.Len(t, h.disp.alarms(), 1)
}

func TestReconcileDropsTimersOfRemovedReminders(t *testing.T) {
	h := newHarness(t)
	r := h.create(defaultReminder())
	kept := h.create(defaultReminder())
	require.Len(t, h.clock.Pending(), 2)

	require.NoError(t, h.store.Delete(h.ctx, r.ID))
	require.NoError(t, h.eng.Reconcile(h.ctx))
	assert.Equal(t, []time.Time{T}, h.clock.Pending())

	require.NoError(t, h.eng.Reconcile(h.ctx))
	assert.Len(t, h.clock.Pending(), 1, "reconcile keeps a timer that is already right")
	assert.True(t, h.eng.isArmed(kept.ID, triggerTimer, T))
}

func TestUpdateDetails(t *testing.T) {
	h := newHarness(t)
	r := h.create(defaultReminder())

	label := model.LabelHydration
	minutes := 25
	updated, err := h.eng.UpdateDetails(h.ctx, r.ID, Details{Label: &label, FollowUpMinutes: &minutes})
	require.NoError(t, err)
	assert.Equal(t, model.LabelHydration, updated.Label)
	assert.Equal(t, 25, updated.FollowUpMinutes)
	assert.Equal(t, "Blood pressure pill", updated.Description)

	h.clock.Set(T)
	h.clock.Advance(time.Minute)
	assert.Equal(t, T.Add(26*time.Minute), h.get(r.ID).DateTime)

	_, err = h.eng.UpdateDetails(h.ctx, r.ID, Details{})
	assert.ErrorIs(t, err, ErrInvalidReminder)

	bad := 0
	_, err = h.eng.UpdateDetails(h.ctx, r.ID, Details{FollowUpMinutes: &bad})
	assert.ErrorIs(t, err, ErrInvalidReminder)

	_, err = h.eng.UpdateDetails(h.ctx, "missing", Details{Label: &label})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListAndSubscribe(t *testing.T) {
	h := newHarness(t)
	r := h.create(defaultReminder())

	list, err := h.eng.List(h.ctx, "grandma", false)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, r.ID, list[0].ID)

	list, err = h.eng.List(h.ctx, "grandma", true)
	require.NoError(t, err)
	assert.Empty(t, list)

	ctx, cancel := context.WithCancel(h.ctx)
	defer cancel()
	ch, err := h.eng.Subscribe(ctx, "alice", true)
	require.NoError(t, err)
	require.Len(t, <-ch, 1)

	h.clock.Set(T)
	select {
	case list := <-ch:
		require.Len(t, list, 1)
		assert.Equal(t, model.StateRinging1, list[0].State())
	case <-time.After(time.Second):
		t.Fatal("no update after ring")
	}
}

func TestLocksAreReleased(t *testing.T) {
	h := newHarness(t)
	r := h.create(defaultReminder())
	h.clock.Set(T)
	h.decide(r.ID, model.DecisionDone, 0)
	assert.Equal(t, 0, h.eng.locks.size())
}

func TestNextOccurrence(t *testing.T) {
	next, ok := nextOccurrence(T, model.RepeatDaily, T)
	require.True(t, ok)
	assert.Equal(t, T.Add(24*time.Hour), next)

	next, ok = nextOccurrence(T, model.RepeatWeekly, T.Add(time.Hour))
	require.True(t, ok)
	assert.Equal(t, T.AddDate(0, 0, 7), next)

	next, ok = nextOccurrence(T, model.RepeatDaily, T.Add(72*time.Hour+time.Minute))
	require.True(t, ok)
	assert.Equal(t, T.AddDate(0, 0, 4), next, "missed days are skipped")

	_, ok = nextOccurrence(T, model.RepeatNone, T)
	assert.False(t, ok)
}

func TestExpandIsIdempotent(t *testing.T) {
	h := newHarness(t)
	in := defaultReminder()
	in.Repeat = model.RepeatDaily
	r := h.create(in)
	h.clock.Set(T)
	done := h.decide(r.ID, model.DecisionDone, 0)

	h.eng.expand(h.ctx, done)
	pending, err := h.store.ListPending(h.ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
	assert.Equal(t, occurrenceID(r.ID), pending[0].ID)
}

func TestMessages(t *testing.T) {
	r := &model.Reminder{ID: "r1", CreatedBy: "alice", ForUser: "grandma", Label: model.LabelMedication}

	alarm := alarmMessage(r, T)
	assert.Equal(t, "grandma", alarm.Recipient)
	assert.Equal(t, "Time for your medication", alarm.Title)
	assert.Equal(t, "medication", alarm.Body)
	assert.Equal(t, T, alarm.At)

	r.SnoozeCount = 1
	assert.Contains(t, alarmMessage(r, T).Body, "last reminder")

	msg := escalationMessage(r, model.EscalationMissed, 10*time.Minute)
	assert.Equal(t, "alice", msg.Recipient)
	assert.Contains(t, msg.Body, "retrying in 10 minutes")
	assert.Equal(t, "missed", msg.Data["kind"])

	assert.Contains(t, escalationMessage(r, model.EscalationCheckOn, 0).Title, "check on")
}

func TestDispatchFailureStillCommits(t *testing.T) {
	h := newHarness(t)
	h.eng = New(h.store, failingDispatcher{}, h.clock)
	r := h.create(defaultReminder())

	h.clock.Set(T)
	got := h.get(r.ID)
	assert.Equal(t, model.StateRinging1, got.State())
	assert.Empty(t, got.NotificationHandle)

	h.clock.Advance(time.Minute)
	assert.Equal(t, 1, h.get(r.ID).MissCount)
}

type failingDispatcher struct{}

func (failingDispatcher) Send(context.Context, dispatcher.Message) (dispatcher.Handle, error) {
	return "", errors.New("push service unavailable")
}

func (failingDispatcher) Cancel(context.Context, dispatcher.Handle) error {
	return nil
}
