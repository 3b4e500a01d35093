package engine

import (
	"context"
	"log"
	"time"

	"carereminder/model"

	"github.com/google/uuid"
)

// nextOccurrence adds whole periods to the original scheduled instant until
// the result is after now.
func nextOccurrence(scheduledFor time.Time, repeat model.Repeat, now time.Time) (time.Time, bool) {
	var days int
	switch repeat {
	case model.RepeatDaily:
		days = 1
	case model.RepeatWeekly:
		days = 7
	default:
		return time.Time{}, false
	}
	next := scheduledFor.AddDate(0, 0, days)
	for !next.After(now) {
		next = next.AddDate(0, 0, days)
	}
	return next, true
}

// occurrenceID is derived from the previous occurrence so that expanding
// the same Done twice cannot create two successors.
func occurrenceID(previousID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("reminder:"+previousID+"/next")).String()
}

// expand creates and arms the occurrence that follows done.
func (e *Engine) expand(ctx context.Context, done *model.Reminder) {
	from := done.ScheduledFor
	if from.IsZero() {
		from = done.DateTime
	}
	next, ok := nextOccurrence(from, done.Repeat, e.timers.Now())
	if !ok {
		return
	}

	r := &model.Reminder{
		ID:              occurrenceID(done.ID),
		CreatedBy:       done.CreatedBy,
		ForUser:         done.ForUser,
		DateTime:        next,
		ScheduledFor:    next,
		Repeat:          done.Repeat,
		FollowUpMinutes: done.FollowUpMinutes,
		Label:           done.Label,
		Description:     done.Description,
		Status:          model.StatusPending,
		PreviousID:      done.ID,
	}
	if err := e.store.Create(ctx, r); err != nil {
		log.Printf("[engine] ❌ failed to create next occurrence of %s: %v", done.ID, err)
		return
	}
	e.armTrigger(r)
	log.Printf("[engine] %s repeats %s, next occurrence %s at %s", done.ID, done.Repeat, r.ID, next.Format(time.RFC3339))
}
