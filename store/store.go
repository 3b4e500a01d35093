// Package store holds reminder documents. It is the single source of truth
// for the escalation engine; every write is a compare-and-set on Revision.
package store

import (
	"context"
	"errors"
	"time"

	"carereminder/model"
)

var (
	ErrNotFound = errors.New("reminder not found")
	// ErrConflict means the document changed since the revision the caller read.
	ErrConflict = errors.New("reminder was modified concurrently")
)

type Store interface {
	Get(ctx context.Context, id string) (*model.Reminder, error)
	// Create stores r, assigning an ID when r.ID is empty.
	Create(ctx context.Context, r *model.Reminder) error
	// Update applies p atomically if the stored Revision still equals
	// revision, and returns the updated document.
	Update(ctx context.Context, id string, revision int64, p Patch) (*model.Reminder, error)
	Delete(ctx context.Context, id string) error
	// ListPending returns every reminder whose status is pending.
	ListPending(ctx context.Context) ([]model.Reminder, error)
	// Subscribe emits the full list of reminders visible to userID each
	// time it changes, starting with the current list. The channel is
	// closed when ctx is done.
	Subscribe(ctx context.Context, userID string, authorView bool) (<-chan []model.Reminder, error)
}

// Patch is a partial update. Nil fields are left untouched.
type Patch struct {
	Status           *model.Status
	DateTime         *time.Time
	SnoozeCount      *int
	MissCount        *int
	AlarmTriggeredAt *time.Time
	// ClearAlarm removes AlarmTriggeredAt and AutoMissHandle. It wins over
	// AlarmTriggeredAt when both are set.
	ClearAlarm         bool
	AutoMissHandle     *string
	NotificationHandle *string
	FollowUpMinutes    *int
	Label              *model.Label
	Description        *string
}

func (p Patch) Empty() bool {
	return p == Patch{}
}

// Apply writes p into r and bumps its revision.
func (p Patch) Apply(r *model.Reminder, now time.Time) {
	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.DateTime != nil {
		r.DateTime = *p.DateTime
	}
	if p.SnoozeCount != nil {
		r.SnoozeCount = *p.SnoozeCount
	}
	if p.MissCount != nil {
		r.MissCount = *p.MissCount
	}
	if p.AlarmTriggeredAt != nil {
		at := *p.AlarmTriggeredAt
		r.AlarmTriggeredAt = &at
	}
	if p.AutoMissHandle != nil {
		r.AutoMissHandle = *p.AutoMissHandle
	}
	if p.ClearAlarm {
		r.AlarmTriggeredAt = nil
		r.AutoMissHandle = ""
	}
	if p.NotificationHandle != nil {
		r.NotificationHandle = *p.NotificationHandle
	}
	if p.FollowUpMinutes != nil {
		r.FollowUpMinutes = *p.FollowUpMinutes
	}
	if p.Label != nil {
		r.Label = *p.Label
	}
	if p.Description != nil {
		r.Description = *p.Description
	}
	r.Revision++
	r.UpdatedAt = now
}

// Fields returns the patch as column/field name to value, keyed by the
// firestore tag names of model.Reminder. Cleared values map to nil.
func (p Patch) Fields() map[string]interface{} {
	out := make(map[string]interface{})
	if p.Status != nil {
		out["status"] = string(*p.Status)
	}
	if p.DateTime != nil {
		out["dateTime"] = *p.DateTime
	}
	if p.SnoozeCount != nil {
		out["snoozeCount"] = *p.SnoozeCount
	}
	if p.MissCount != nil {
		out["missCount"] = *p.MissCount
	}
	if p.AlarmTriggeredAt != nil {
		out["alarmTriggeredAt"] = *p.AlarmTriggeredAt
	}
	if p.AutoMissHandle != nil {
		out["autoMissHandle"] = *p.AutoMissHandle
	}
	if p.ClearAlarm {
		out["alarmTriggeredAt"] = nil
		out["autoMissHandle"] = ""
	}
	if p.NotificationHandle != nil {
		out["notificationHandle"] = *p.NotificationHandle
	}
	if p.FollowUpMinutes != nil {
		out["followUpMinutes"] = *p.FollowUpMinutes
	}
	if p.Label != nil {
		out["label"] = string(*p.Label)
	}
	if p.Description != nil {
		out["description"] = *p.Description
	}
	return out
}

func Ptr[T any](v T) *T {
	return &v
}
