package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"carereminder/model"
	"carereminder/store"
)

// ReportDecision applies what the recipient chose on the ring screen.
// A decision that no longer matches the reminder's state returns
// ErrInvalidTransition and changes nothing.
func (e *Engine) ReportDecision(ctx context.Context, id string, d model.Decision) (*model.Reminder, error) {
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDecision, err)
	}

	unlock := e.locks.Lock(id)
	defer unlock()
	updated, err := e.apply(ctx, id, "decision "+string(d.Kind), decisionPlan(d))
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			log.Printf("[engine] ignored %s for %s: %v", d.Kind, id, err)
		}
		return nil, err
	}
	return updated, nil
}

func decisionPlan(d model.Decision) decideFunc {
	return func(r *model.Reminder, now time.Time) (*plan, error) {
		if r.Status != model.StatusPending {
			return nil, fmt.Errorf("%w: reminder is already %s", ErrInvalidTransition, r.Status)
		}
		if r.AlarmTriggeredAt == nil && !r.Actionable(now) {
			return nil, fmt.Errorf("%w: reminder is not ringing", ErrInvalidTransition)
		}

		p := &plan{
			patch: store.Patch{
				ClearAlarm:         true,
				NotificationHandle: store.Ptr(""),
			},
			cancelNotification: true,
		}
		switch {
		case d.Kind == model.DecisionDone:
			p.patch.Status = store.Ptr(model.StatusDone)
			p.final = true
			p.expand = r.Repeat == model.RepeatDaily || r.Repeat == model.RepeatWeekly

		case d.Postpones():
			p.patch.SnoozeCount = store.Ptr(r.SnoozeCount + 1)
			if r.Stage() > 0 {
				p.patch.Status = store.Ptr(model.StatusSnoozed)
				p.final = true
				p.escalate = model.EscalationCheckOn
				break
			}
			wait := r.FollowUp()
			if d.Minutes > 0 {
				wait = time.Duration(d.Minutes) * time.Minute
			}
			p.patch.DateTime = store.Ptr(now.Add(wait))
			p.rearm = true
			p.escalate, p.retryIn = model.EscalationSnoozed, wait

		case d.Kind == model.DecisionDismiss:
			if r.Stage() == 0 {
				return nil, fmt.Errorf("%w: dismiss is only offered on the last ring", ErrInvalidTransition)
			}
			p.patch.Status = store.Ptr(model.StatusMissed)
			p.final = true
			p.escalate = model.EscalationCheckOn
		}
		return p, nil
	}
}
