package dto

import (
	"time"

	"carereminder/model"
)

type CreateReminderRequest struct {
	ForUser         string    `json:"forUser" binding:"required"`
	DateTime        time.Time `json:"dateTime"`
	Repeat          string    `json:"repeat"`
	FollowUpMinutes int       `json:"followUpMinutes"`
	Label           string    `json:"label"`
	Description     string    `json:"description"`
}

type UpdateReminderRequest struct {
	Label           *string `json:"label"`
	Description     *string `json:"description"`
	FollowUpMinutes *int    `json:"followUpMinutes"`
}

type DecisionRequest struct {
	Decision string `json:"decision" binding:"required"`
	Minutes  int    `json:"minutes"`
}

type ReminderResponse struct {
	model.Reminder
	State model.State `json:"state"`
	Stage int         `json:"stage"`
}

type AlarmResponse struct {
	ReminderResponse
	AutoMissAt *time.Time `json:"autoMissAt,omitempty"`
	// LastChance is true on the final ring, where dismiss is offered.
	LastChance bool `json:"lastChance"`
}

func NewReminderResponse(r *model.Reminder) ReminderResponse {
	return ReminderResponse{Reminder: *r, State: r.State(), Stage: r.Stage()}
}

func NewReminderListResponse(list []model.Reminder) []ReminderResponse {
	out := make([]ReminderResponse, 0, len(list))
	for i := range list {
		out = append(out, NewReminderResponse(&list[i]))
	}
	return out
}

func NewAlarmResponse(r *model.Reminder) AlarmResponse {
	resp := AlarmResponse{ReminderResponse: NewReminderResponse(r), LastChance: r.Stage() > 0}
	if at := r.AutoMissAt(); !at.IsZero() {
		resp.AutoMissAt = &at
	}
	return resp
}
