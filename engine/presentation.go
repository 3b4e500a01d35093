package engine

import (
	"context"

	"carereminder/model"
)

// GetRingingReminder returns the reminder when a ring screen may be shown
// for it now. The bool is false once the actionable window has passed, in
// which case the UI should just navigate away.
func (e *Engine) GetRingingReminder(ctx context.Context, id string) (*model.Reminder, bool, error) {
	r, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if !r.Actionable(e.timers.Now()) {
		return nil, false, nil
	}
	return r, true, nil
}
