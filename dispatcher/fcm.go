package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log"

	"firebase.google.com/go/v4/messaging"
)

var ErrNoToken = errors.New("no device token registered")

// TokenSource resolves a user to the FCM registration token of their device.
type TokenSource interface {
	Token(ctx context.Context, userID string) (string, error)
}

// Sender is the part of *messaging.Client the transport uses.
type Sender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// FCMTransport pushes messages through Firebase Cloud Messaging.
type FCMTransport struct {
	client Sender
	tokens TokenSource
}

func NewFCMTransport(client Sender, tokens TokenSource) *FCMTransport {
	return &FCMTransport{client: client, tokens: tokens}
}

func (t *FCMTransport) Deliver(ctx context.Context, msg Message) error {
	token, err := t.tokens.Token(ctx, msg.Recipient)
	if err != nil {
		if errors.Is(err, ErrNoToken) {
			return Permanent(err)
		}
		return fmt.Errorf("failed to look up token for %s: %w", msg.Recipient, err)
	}

	id, err := t.client.Send(ctx, buildMessage(token, msg))
	if err != nil {
		if messaging.IsUnregistered(err) || messaging.IsInvalidArgument(err) {
			return Permanent(fmt.Errorf("error sending message: %w", err))
		}
		return fmt.Errorf("error sending message: %w", err)
	}
	log.Printf("[dispatcher] ✅ sent message %s to %s", id, msg.Recipient)
	return nil
}

func buildMessage(token string, msg Message) *messaging.Message {
	data := make(map[string]string, len(msg.Data)+1)
	for k, v := range msg.Data {
		data[k] = v
	}
	data["payload"] = "notification"

	out := &messaging.Message{
		Data: data,
		Notification: &messaging.Notification{
			Title: msg.Title,
			Body:  msg.Body,
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{"apns-priority": "10"},
		},
		Token: token,
	}
	if tag := msg.Data["reminderId"]; tag != "" {
		out.Android.Notification = &messaging.AndroidNotification{Tag: tag}
		out.APNS.Headers["apns-collapse-id"] = tag
	}
	return out
}

// LogTransport writes messages to the process log instead of sending them.
type LogTransport struct{}

func (LogTransport) Deliver(_ context.Context, msg Message) error {
	log.Printf("[dispatcher] 📨 to=%s title=%q body=%q data=%v", msg.Recipient, msg.Title, msg.Body, msg.Data)
	return nil
}
