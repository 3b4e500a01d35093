package model

import (
	"time"
)

const (
	// AutoMissWindow is how long a ring waits for the recipient before it
	// resolves as a miss, measured from AlarmTriggeredAt.
	AutoMissWindow = time.Minute

	// ActionableWindow bounds how late a ring screen may still be shown,
	// measured from DateTime.
	ActionableWindow = 2 * time.Minute

	DefaultFollowUpMinutes = 10
	MaxFollowUpMinutes     = 24 * 60

	// Precision is the coarsest timestamp resolution of any store. MySQL
	// datetime(3) keeps milliseconds, Firestore microseconds.
	Precision = time.Millisecond
)

// Instant drops the part of t that a store would not keep.
func Instant(t time.Time) time.Time {
	return t.Truncate(Precision)
}

// SameInstant compares a and b at store precision.
func SameInstant(a, b time.Time) bool {
	return Instant(a).Equal(Instant(b))
}

type Status string

const (
	StatusPending Status = "pending"
	StatusDone    Status = "done"
	StatusSnoozed Status = "snoozed"
	StatusMissed  Status = "missed"
)

type Repeat string

const (
	RepeatNone   Repeat = "none"
	RepeatDaily  Repeat = "daily"
	RepeatWeekly Repeat = "weekly"
)

// Valid reports whether r is a supported recurrence. The empty value is
// treated as RepeatNone.
func (r Repeat) Valid() bool {
	switch r {
	case "", RepeatNone, RepeatDaily, RepeatWeekly:
		return true
	}
	return false
}

type Label string

const (
	LabelMedication  Label = "medication"
	LabelMeal        Label = "meal"
	LabelAppointment Label = "appointment"
	LabelExercise    Label = "exercise"
	LabelHydration   Label = "hydration"
	LabelOther       Label = "other"
)

func (l Label) Valid() bool {
	switch l {
	case LabelMedication, LabelMeal, LabelAppointment, LabelExercise, LabelHydration, LabelOther:
		return true
	}
	return false
}

// State is the escalation state of the current occurrence. It is derived
// from the persisted fields and never stored.
type State string

const (
	StateScheduled    State = "scheduled"
	StateRinging1     State = "ringing_1"
	StateRinging2     State = "ringing_2"
	StateDone         State = "done"
	StateMissedFinal  State = "missed_final"
	StateSnoozedFinal State = "snoozed_final"
)

// Reminder is one occurrence of a (possibly repeating) reminder.
type Reminder struct {
	ID        string `firestore:"-" gorm:"column:id;primaryKey;type:varchar(64)" json:"id"`
	CreatedBy string `firestore:"createdBy" gorm:"column:created_by;type:varchar(128);not null;index" json:"createdBy"`
	ForUser   string `firestore:"forUser" gorm:"column:for_user;type:varchar(128);not null;index" json:"forUser"`

	DateTime        time.Time `firestore:"dateTime" gorm:"column:date_time;not null" json:"dateTime"`
	ScheduledFor    time.Time `firestore:"scheduledFor" gorm:"column:scheduled_for;not null" json:"scheduledFor"`
	Repeat          Repeat    `firestore:"repeat" gorm:"column:repeat;type:enum('none','daily','weekly');default:'none'" json:"repeat"`
	FollowUpMinutes int       `firestore:"followUpMinutes" gorm:"column:follow_up_minutes;default:10" json:"followUpMinutes"`

	Label       Label  `firestore:"label" gorm:"column:label;type:varchar(32)" json:"label"`
	Description string `firestore:"description" gorm:"column:description;type:text" json:"description,omitempty"`

	SnoozeCount int    `firestore:"snoozeCount" gorm:"column:snooze_count;default:0" json:"snoozeCount"`
	MissCount   int    `firestore:"missCount" gorm:"column:miss_count;default:0" json:"missCount"`
	Status      Status `firestore:"status" gorm:"column:status;type:enum('pending','done','snoozed','missed');default:'pending';index" json:"status"`

	AlarmTriggeredAt   *time.Time `firestore:"alarmTriggeredAt" gorm:"column:alarm_triggered_at" json:"alarmTriggeredAt,omitempty"`
	AutoMissHandle     string     `firestore:"autoMissHandle" gorm:"column:auto_miss_handle;type:varchar(64)" json:"-"`
	NotificationHandle string     `firestore:"notificationHandle" gorm:"column:notification_handle;type:varchar(64)" json:"-"`

	PreviousID string `firestore:"previousId" gorm:"column:previous_id;type:varchar(64)" json:"previousId,omitempty"`
	Revision   int64  `firestore:"revision" gorm:"column:revision;not null;default:0" json:"revision"`

	CreatedAt time.Time `firestore:"createdAt" gorm:"column:created_at" json:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt" gorm:"column:updated_at" json:"updatedAt"`
}

func (Reminder) TableName() string {
	return "reminders"
}

// Stage is 0 on the first ring of an occurrence and 1 on the last one.
// It is recomputed from the counters at every decision point.
func (r *Reminder) Stage() int {
	if r.SnoozeCount+r.MissCount >= 1 {
		return 1
	}
	return 0
}

func (r *Reminder) Ringing() bool {
	return r.Status == StatusPending && r.AlarmTriggeredAt != nil
}

// AutoMissAt is when the ring in flight resolves as missed. The zero time
// is returned when nothing is ringing.
func (r *Reminder) AutoMissAt() time.Time {
	if r.AlarmTriggeredAt == nil {
		return time.Time{}
	}
	return r.AlarmTriggeredAt.Add(AutoMissWindow)
}

// Actionable reports whether a ring screen may be shown for r at now.
func (r *Reminder) Actionable(now time.Time) bool {
	if r.Status != StatusPending || now.Before(r.DateTime) {
		return false
	}
	return now.Sub(r.DateTime) <= ActionableWindow
}

// Stale reports whether r came due so long ago that no ring may be shown
// for it any more and no ring is in flight.
func (r *Reminder) Stale(now time.Time) bool {
	return r.Status == StatusPending && r.AlarmTriggeredAt == nil &&
		now.Sub(r.DateTime) > ActionableWindow
}

func (r *Reminder) State() State {
	switch r.Status {
	case StatusDone:
		return StateDone
	case StatusSnoozed:
		return StateSnoozedFinal
	case StatusMissed:
		return StateMissedFinal
	}
	if !r.Ringing() {
		return StateScheduled
	}
	if r.Stage() == 0 {
		return StateRinging1
	}
	return StateRinging2
}

func (r *Reminder) FollowUp() time.Duration {
	m := r.FollowUpMinutes
	if m <= 0 {
		m = DefaultFollowUpMinutes
	}
	return time.Duration(m) * time.Minute
}

// Visible reports whether userID sees r in the given view.
func (r *Reminder) Visible(userID string, authorView bool) bool {
	if authorView {
		return r.CreatedBy == userID
	}
	return r.ForUser == userID
}
