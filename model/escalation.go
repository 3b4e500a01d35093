package model

// EscalationKind identifies the message sent to the caregiver after a ring
// resolves without a Done.
type EscalationKind string

const (
	// EscalationSnoozed: first ring snoozed or marked in progress, retry in N minutes.
	EscalationSnoozed EscalationKind = "snoozed"
	// EscalationMissed: first ring timed out, retry in N minutes.
	EscalationMissed EscalationKind = "missed"
	// EscalationCheckOn: the final ring ended without Done.
	EscalationCheckOn EscalationKind = "check_on"
)
