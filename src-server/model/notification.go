package model

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type NotificationKind string

const (
	NotificationKindRegistration NotificationKind = "registration"
	NotificationKindEventUpdated NotificationKind = "event_updated"
	NotificationKindEventCancel  NotificationKind = "event_cancelled"
	NotificationKindReminder     NotificationKind = "reminder"
	NotificationKindSurvey       NotificationKind = "survey"
	NotificationKindCertificate  NotificationKind = "certificate"
	NotificationKindSupport      NotificationKind = "support"
	NotificationKindAccount      NotificationKind = "account"
)

type Notification struct {
	bun.BaseModel `bun:"table:notifications,alias:notification"`

	ID        string           `bun:"id,pk"                      json:"id"`
	UserID    string           `bun:"user_id,notnull"            json:"user_id"`
	Kind      NotificationKind `bun:"kind,notnull,type:varchar"  json:"kind"`
	Title     string           `bun:"title,notnull"              json:"title"`
	Message   string           `bun:"message"                    json:"message"`
	Link      string           `bun:"link"                       json:"link,omitempty"`
	Read      bool             `bun:"is_read"                    json:"read"`
	CreatedAt int64            `bun:"created_at,notnull"         json:"created_at"`
}

// Inserts one notification per user, all sharing the same content.
func CreateNotifications(ctx context.Context, db bun.IDB, userIDs []string, kind NotificationKind, title, message, link string) ([]Notification, error) {
	if len(userIDs) == 0 {
		return []Notification{}, nil
	}
	now := time.Now().UTC().Unix()
	notifications := make([]Notification, len(userIDs))
	for i, userID := range userIDs {
		notifications[i] = Notification{
			ID:        uuid.NewString(),
			UserID:    userID,
			Kind:      kind,
			Title:     title,
			Message:   message,
			Link:      link,
			CreatedAt: now,
		}
	}
	if _, err := db.NewInsert().Model(&notifications).Exec(ctx); err != nil {
		return nil, fmt.Errorf("CreateNotifications: %w", err)
	}
	return notifications, nil
}

// Newest first. Returns the page and the total count.
func ListNotifications(ctx context.Context, db bun.IDB, userID string, unreadOnly bool, limit, offset int) ([]Notification, int, error) {
	notifications := make([]Notification, 0)
	q := db.NewSelect().
		Model(&notifications).
		Where("user_id = ?", userID).
		Order("created_at DESC", "id ASC")
	if unreadOnly {
		q = q.Where("is_read = ?", false)
	}
	if limit > 0 {
		q = q.Limit(limit).Offset(offset)
	}
	total, err := q.ScanAndCount(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("ListNotifications: %w", err)
	}
	return notifications, total, nil
}

func CountUnreadNotifications(ctx context.Context, db bun.IDB, userID string) (int, error) {
	count, err := db.NewSelect().
		Model((*Notification)(nil)).
		Where("user_id = ?", userID).
		Where("is_read = ?", false).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("CountUnreadNotifications: %w", err)
	}
	return count, nil
}

// Marks one notification read. Only the owner may do so.
func MarkNotificationRead(ctx context.Context, db bun.IDB, userID, id string) error {
	res, err := db.NewUpdate().
		Model((*Notification)(nil)).
		Set("is_read = ?", true).
		Where("id = ?", id).
		Where("user_id = ?", userID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("MarkNotificationRead: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("notification %w", ErrNotFound)
	}
	return nil
}

// Returns how many notifications changed.
func MarkAllNotificationsRead(ctx context.Context, db bun.IDB, userID string) (int64, error) {
	res, err := db.NewUpdate().
		Model((*Notification)(nil)).
		Set("is_read = ?", true).
		Where("user_id = ?", userID).
		Where("is_read = ?", false).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("MarkAllNotificationsRead: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func DeleteNotification(ctx context.Context, db bun.IDB, userID, id string) error {
	res, err := db.NewDelete().
		Model((*Notification)(nil)).
		Where("id = ?", id).
		Where("user_id = ?", userID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("DeleteNotification: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("notification %w", ErrNotFound)
	}
	return nil
}
