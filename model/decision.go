package model

import "fmt"

type DecisionKind string

const (
	DecisionDone       DecisionKind = "done"
	DecisionSnooze     DecisionKind = "snooze"
	DecisionInProgress DecisionKind = "in_progress"
	DecisionDismiss    DecisionKind = "dismiss"
)

// Decision is what the recipient chose on a ring screen. Minutes only
// applies to snooze and in_progress; zero means the reminder's follow-up.
type Decision struct {
	Kind    DecisionKind `json:"decision"`
	Minutes int          `json:"minutes,omitempty"`
}

func (d Decision) Validate() error {
	switch d.Kind {
	case DecisionDone, DecisionDismiss:
		return nil
	case DecisionSnooze, DecisionInProgress:
		if d.Minutes < 0 || d.Minutes > MaxFollowUpMinutes {
			return fmt.Errorf("minutes must be between 0 and %d", MaxFollowUpMinutes)
		}
		return nil
	}
	return fmt.Errorf("unknown decision %q", d.Kind)
}

// Postpones reports whether the decision pushes the reminder to another ring.
func (d Decision) Postpones() bool {
	return d.Kind == DecisionSnooze || d.Kind == DecisionInProgress
}
