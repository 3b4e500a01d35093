package engine

import (
	"errors"

	"carereminder/store"
)

var (
	// ErrNotFound is store.ErrNotFound; an unknown reminder counts as
	// already resolved.
	ErrNotFound = store.ErrNotFound
	// ErrInvalidTransition means the event does not apply to the reminder's
	// current status or ring stage. The reminder is left as it is.
	ErrInvalidTransition = errors.New("invalid transition for reminder state")
	ErrInvalidReminder   = errors.New("invalid reminder")
	ErrInvalidDecision   = errors.New("invalid decision")
)
