// Package dispatcher delivers alerts to users at a given instant and hands
// back a handle that cancels them while they are still pending.
//
// Delivery is at least once. Callers must tolerate duplicates.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"carereminder/timer"

	"github.com/google/uuid"
)

var ErrNoRecipient = errors.New("message has no recipient")

// Handle identifies one sent message. The zero Handle is never issued.
type Handle string

type Message struct {
	Recipient string
	Title     string
	Body      string
	Data      map[string]string
	// At is when the message should reach the recipient. The zero time and
	// instants in the past mean now.
	At time.Time
}

type Dispatcher interface {
	Send(ctx context.Context, msg Message) (Handle, error)
	// Cancel stops a message that has not been delivered yet. Cancelling a
	// delivered or unknown handle is not an error.
	Cancel(ctx context.Context, h Handle) error
}

// Transport pushes one message to its recipient right away.
type Transport interface {
	Deliver(ctx context.Context, msg Message) error
}

// permanentError marks a delivery failure that retrying cannot fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

const DefaultMaxAttempts = 3

const deliverTimeout = 15 * time.Second

// Scheduled is a Dispatcher that holds messages until their instant,
// delivers them through a Transport and retries failed deliveries with
// backoff.
type Scheduled struct {
	transport   Transport
	timers      timer.Service
	maxAttempts int

	mu      sync.Mutex
	pending map[Handle]*delivery
}

type delivery struct {
	msg     Message
	attempt int
	timer   timer.Handle
}

func NewScheduled(transport Transport, timers timer.Service, maxAttempts int) *Scheduled {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Scheduled{
		transport:   transport,
		timers:      timers,
		maxAttempts: maxAttempts,
		pending:     make(map[Handle]*delivery),
	}
}

// Send delivers msg inline when it is already due. A failed inline attempt
// that will be retried does not return an error.
func (d *Scheduled) Send(ctx context.Context, msg Message) (Handle, error) {
	if msg.Recipient == "" {
		return "", ErrNoRecipient
	}
	h := Handle(uuid.NewString())

	d.mu.Lock()
	del := &delivery{msg: msg}
	d.pending[h] = del
	if msg.At.After(d.timers.Now()) {
		del.timer = d.timers.Schedule(msg.At, func() { d.attemptAsync(h) })
		d.mu.Unlock()
		return h, nil
	}
	d.mu.Unlock()

	if err := d.attempt(ctx, h); err != nil {
		return "", err
	}
	return h, nil
}

func (d *Scheduled) Cancel(_ context.Context, h Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	del, ok := d.pending[h]
	if !ok {
		return nil
	}
	if del.timer != "" {
		d.timers.Cancel(del.timer)
	}
	delete(d.pending, h)
	return nil
}

// Pending returns the number of messages not yet delivered or given up on.
func (d *Scheduled) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

func (d *Scheduled) attemptAsync(h Handle) {
	ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
	defer cancel()
	if err := d.attempt(ctx, h); err != nil {
		log.Printf("[dispatcher] ❌ giving up on %s: %v", h, err)
	}
}

// attempt makes one delivery try for h. It returns an error only when the
// message is dropped for good.
func (d *Scheduled) attempt(ctx context.Context, h Handle) error {
	d.mu.Lock()
	del, ok := d.pending[h]
	if !ok {
		d.mu.Unlock()
		return nil
	}
	del.attempt++
	del.timer = ""
	msg, attempt := del.msg, del.attempt
	d.mu.Unlock()

	err := d.transport.Deliver(ctx, msg)
	if err == nil {
		d.mu.Lock()
		delete(d.pending, h)
		d.mu.Unlock()
		return nil
	}

	if IsPermanent(err) || attempt >= d.maxAttempts {
		d.mu.Lock()
		delete(d.pending, h)
		d.mu.Unlock()
		return fmt.Errorf("deliver to %s after %d attempt(s): %w", msg.Recipient, attempt, err)
	}

	retryAt := d.timers.Now().Add(backoff(attempt))
	log.Printf("[dispatcher] ⚠️ delivery to %s failed (attempt %d/%d), retrying at %s: %v",
		msg.Recipient, attempt, d.maxAttempts, retryAt.Format(time.RFC3339), err)

	d.mu.Lock()
	defer d.mu.Unlock()
	if del, ok := d.pending[h]; ok {
		del.timer = d.timers.Schedule(retryAt, func() { d.attemptAsync(h) })
	}
	return nil
}

// backoff is the wait before the attempt that follows a failed one.
func backoff(attempt int) time.Duration {
	switch attempt {
	case 1:
		return 2 * time.Second
	case 2:
		return 5 * time.Second
	default:
		return 10 * time.Second
	}
}
