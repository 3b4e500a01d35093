package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"carereminder/model"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const DefaultCollection = "Reminders"

// FirestoreStore keeps one document per reminder in a single collection.
// Updates run inside a transaction that checks the stored revision.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

func NewFirestoreStore(client *firestore.Client, collection string) *FirestoreStore {
	if collection == "" {
		collection = DefaultCollection
	}
	return &FirestoreStore{client: client, collection: collection}
}

func (s *FirestoreStore) doc(id string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(id)
}

func (s *FirestoreStore) Get(ctx context.Context, id string) (*model.Reminder, error) {
	snap, err := s.doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get reminder %s: %w", id, err)
	}
	return decode(snap)
}

func (s *FirestoreStore) Create(ctx context.Context, r *model.Reminder) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := model.Instant(time.Now().UTC())
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	if _, err := s.doc(r.ID).Create(ctx, r); err != nil {
		return fmt.Errorf("failed to create reminder %s: %w", r.ID, err)
	}
	return nil
}

func (s *FirestoreStore) Update(ctx context.Context, id string, revision int64, p Patch) (*model.Reminder, error) {
	ref := s.doc(id)
	var updated *model.Reminder

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return ErrNotFound
			}
			return err
		}
		current, err := decode(snap)
		if err != nil {
			return err
		}
		if current.Revision != revision {
			return ErrConflict
		}

		now := model.Instant(time.Now().UTC())
		p.Apply(current, now)
		updated = current
		return tx.Update(ref, firestoreUpdates(p, current.Revision, now))
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to update reminder %s: %w", id, err)
	}
	return updated, nil
}

func (s *FirestoreStore) Delete(ctx context.Context, id string) error {
	if _, err := s.doc(id).Delete(ctx, firestore.Exists); err != nil {
		if status.Code(err) == codes.NotFound {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete reminder %s: %w", id, err)
	}
	return nil
}

func (s *FirestoreStore) ListPending(ctx context.Context) ([]model.Reminder, error) {
	docs, err := s.client.Collection(s.collection).
		Where("status", "==", string(model.StatusPending)).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to list pending reminders: %w", err)
	}
	return decodeAll(docs)
}

func (s *FirestoreStore) Subscribe(ctx context.Context, userID string, authorView bool) (<-chan []model.Reminder, error) {
	field := "forUser"
	if authorView {
		field = "createdBy"
	}
	it := s.client.Collection(s.collection).Where(field, "==", userID).Snapshots(ctx)

	out := make(chan []model.Reminder, 1)
	go func() {
		defer close(out)
		defer it.Stop()
		for {
			qs, err := it.Next()
			if err != nil {
				if err != iterator.Done && status.Code(err) != codes.Canceled && ctx.Err() == nil {
					log.Printf("[store] snapshot listener for %s stopped: %v", userID, err)
				}
				return
			}
			docs, err := qs.Documents.GetAll()
			if err != nil {
				log.Printf("[store] failed to read snapshot for %s: %v", userID, err)
				continue
			}
			list, err := decodeAll(docs)
			if err != nil {
				log.Printf("[store] failed to decode snapshot for %s: %v", userID, err)
				continue
			}
			sortByDateTime(list)
			select {
			case out <- list:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func firestoreUpdates(p Patch, revision int64, now time.Time) []firestore.Update {
	fields := p.Fields()
	updates := make([]firestore.Update, 0, len(fields)+2)
	for path, value := range fields {
		updates = append(updates, firestore.Update{Path: path, Value: value})
	}
	updates = append(updates,
		firestore.Update{Path: "revision", Value: revision},
		firestore.Update{Path: "updatedAt", Value: now},
	)
	return updates
}

func decode(snap *firestore.DocumentSnapshot) (*model.Reminder, error) {
	var r model.Reminder
	if err := snap.DataTo(&r); err != nil {
		return nil, fmt.Errorf("failed to decode reminder %s: %w", snap.Ref.ID, err)
	}
	r.ID = snap.Ref.ID
	return &r, nil
}

func decodeAll(docs []*firestore.DocumentSnapshot) ([]model.Reminder, error) {
	out := make([]model.Reminder, 0, len(docs))
	for _, d := range docs {
		r, err := decode(d)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, nil
}
