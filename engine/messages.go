package engine

import (
	"fmt"
	"strings"
	"time"

	"carereminder/dispatcher"
	"carereminder/model"
)

var labelTitles = map[model.Label]string{
	model.LabelMedication:  "Time for your medication",
	model.LabelMeal:        "Time to eat",
	model.LabelAppointment: "Upcoming appointment",
	model.LabelExercise:    "Time to exercise",
	model.LabelHydration:   "Time to drink some water",
	model.LabelOther:       "Reminder",
}

func subject(r *model.Reminder) string {
	if d := strings.TrimSpace(r.Description); d != "" {
		return d
	}
	return string(r.Label)
}

func alarmMessage(r *model.Reminder, at time.Time) dispatcher.Message {
	title, ok := labelTitles[r.Label]
	if !ok {
		title = labelTitles[model.LabelOther]
	}
	body := subject(r)
	if r.Stage() > 0 {
		body += " (last reminder)"
	}
	return dispatcher.Message{
		Recipient: r.ForUser,
		Title:     title,
		Body:      body,
		Data: map[string]string{
			"type":       "alarm",
			"reminderId": r.ID,
			"stage":      fmt.Sprint(r.Stage()),
		},
		At: at,
	}
}

func escalationMessage(r *model.Reminder, kind model.EscalationKind, retryIn time.Duration) dispatcher.Message {
	var title, body string
	switch kind {
	case model.EscalationSnoozed:
		title = "Reminder snoozed"
		body = fmt.Sprintf("%s snoozed %q, retrying in %d minutes", r.ForUser, subject(r), int(retryIn.Minutes()))
	case model.EscalationMissed:
		title = "Reminder missed"
		body = fmt.Sprintf("%s missed %q, retrying in %d minutes", r.ForUser, subject(r), int(retryIn.Minutes()))
	default:
		title = "Please check on them"
		body = fmt.Sprintf("%s did not complete %q", r.ForUser, subject(r))
	}
	return dispatcher.Message{
		Recipient: r.CreatedBy,
		Title:     title,
		Body:      body,
		Data: map[string]string{
			"type":       "escalation",
			"kind":       string(kind),
			"reminderId": r.ID,
			"forUser":    r.ForUser,
		},
	}
}
