package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"carereminder/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// columns maps Patch field names to reminders table columns.
var columns = map[string]string{
	"status":             "status",
	"dateTime":           "date_time",
	"snoozeCount":        "snooze_count",
	"missCount":          "miss_count",
	"alarmTriggeredAt":   "alarm_triggered_at",
	"autoMissHandle":     "auto_miss_handle",
	"notificationHandle": "notification_handle",
	"followUpMinutes":    "follow_up_minutes",
	"label":              "label",
	"description":        "description",
}

// SQLStore keeps reminders in the reminders table through gorm. Subscribe
// is served by polling.
type SQLStore struct {
	db           *gorm.DB
	pollInterval time.Duration
}

func NewSQLStore(db *gorm.DB, pollInterval time.Duration) (*SQLStore, error) {
	if err := db.AutoMigrate(&model.Reminder{}); err != nil {
		return nil, fmt.Errorf("failed to migrate reminders table: %w", err)
	}
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &SQLStore{db: db, pollInterval: pollInterval}, nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (*model.Reminder, error) {
	var r model.Reminder
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&r).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get reminder %s: %w", id, err)
	}
	return &r, nil
}

func (s *SQLStore) Create(ctx context.Context, r *model.Reminder) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := model.Instant(time.Now().UTC())
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	if err := s.db.WithContext(ctx).Create(r).Error; err != nil {
		return fmt.Errorf("failed to create reminder %s: %w", r.ID, err)
	}
	return nil
}

func (s *SQLStore) Update(ctx context.Context, id string, revision int64, p Patch) (*model.Reminder, error) {
	res := s.db.WithContext(ctx).Model(&model.Reminder{}).
		Where("id = ? AND revision = ?", id, revision).
		Updates(sqlColumns(p, revision+1, model.Instant(time.Now().UTC())))
	if res.Error != nil {
		return nil, fmt.Errorf("failed to update reminder %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrConflict
	}
	return s.Get(ctx, id)
}

func (s *SQLStore) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Reminder{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete reminder %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) ListPending(ctx context.Context) ([]model.Reminder, error) {
	var out []model.Reminder
	err := s.db.WithContext(ctx).
		Where("status = ?", model.StatusPending).
		Order("date_time ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list pending reminders: %w", err)
	}
	return out, nil
}

func (s *SQLStore) Subscribe(ctx context.Context, userID string, authorView bool) (<-chan []model.Reminder, error) {
	column := "for_user"
	if authorView {
		column = "created_by"
	}
	load := func() ([]model.Reminder, error) {
		var list []model.Reminder
		err := s.db.WithContext(ctx).
			Where(column+" = ?", userID).
			Order("date_time ASC").
			Find(&list).Error
		return list, err
	}

	first, err := load()
	if err != nil {
		return nil, fmt.Errorf("failed to load reminders for %s: %w", userID, err)
	}

	out := make(chan []model.Reminder, 1)
	out <- first
	go func() {
		defer close(out)
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()

		last := fingerprint(first)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			list, err := load()
			if err != nil {
				if ctx.Err() == nil {
					log.Printf("[store] poll for %s failed: %v", userID, err)
				}
				continue
			}
			fp := fingerprint(list)
			if fp == last {
				continue
			}
			last = fp
			select {
			case out <- list:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func sqlColumns(p Patch, revision int64, now time.Time) map[string]interface{} {
	out := make(map[string]interface{})
	for field, value := range p.Fields() {
		out[columns[field]] = value
	}
	out["revision"] = revision
	out["updated_at"] = now
	return out
}

// fingerprint changes whenever a reminder is added, removed or updated.
func fingerprint(list []model.Reminder) string {
	var b strings.Builder
	for _, r := range list {
		b.WriteString(r.ID)
		b.WriteByte(':')
		b.WriteString(strconv.FormatInt(r.Revision, 10))
		b.WriteByte(';')
	}
	return b.String()
}
