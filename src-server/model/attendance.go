package model

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Check-in is accepted from this long before the event starts until it ends.
const CheckInOpensBefore = 2 * time.Hour

type Attendance struct {
	bun.BaseModel `bun:"table:attendances,alias:attendance"`

	ID          string `bun:"id,pk"                                        json:"id"`
	EventID     string `bun:"event_id,notnull,unique:attendance_event_user" json:"event_id"` // required
	UserID      string `bun:"user_id,notnull,unique:attendance_event_user"  json:"user_id"`  // required
	CheckedInAt int64  `bun:"checked_in_at,notnull"                        json:"checked_in_at"`
	CheckedInBy string `bun:"checked_in_by"                                json:"checked_in_by"`

	User *User `bun:"rel:belongs-to,join:user_id=id" json:"user,omitempty"`
}

func (e *Event) IsCheckInOpen(now time.Time) bool {
	if e.Status != EventStatusPublished || e.IsArchived() {
		return false
	}
	opensAt := time.Unix(e.StartDateUnixUTC, 0).Add(-CheckInOpensBefore)
	return !now.Before(opensAt) && !e.HasEnded(now)
}

func HasAttended(ctx context.Context, db bun.IDB, eventID, userID string) (bool, error) {
	exists, err := db.NewSelect().
		Model((*Attendance)(nil)).
		Where("event_id = ?", eventID).
		Where("user_id = ?", userID).
		Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("HasAttended: %w", err)
	}
	return exists, nil
}

// user id -> check-in time for one event
func CheckInTimes(ctx context.Context, db bun.IDB, eventID string) (map[string]int64, error) {
	attendances := make([]Attendance, 0)
	if err := db.NewSelect().
		Model(&attendances).
		Column("user_id", "checked_in_at").
		Where("event_id = ?", eventID).
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("CheckInTimes: %w", err)
	}
	times := make(map[string]int64, len(attendances))
	for _, attendance := range attendances {
		times[attendance.UserID] = attendance.CheckedInAt
	}
	return times, nil
}

// Records the user's attendance once. The second call returns the existing
// row and alreadyCheckedIn = true.
func RecordAttendance(ctx context.Context, tx bun.IDB, event *Event, userID, checkedInBy string) (*Attendance, bool, error) {
	registration, err := GetRegistration(ctx, tx, event.ID, userID)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil, false, ErrNotRegistered
	case err != nil:
		return nil, false, err
	case !registration.IsActive():
		return nil, false, ErrNotRegistered
	}

	existing := new(Attendance)
	err = tx.NewSelect().
		Model(existing).
		Where("event_id = ?", event.ID).
		Where("user_id = ?", userID).
		Scan(ctx)
	switch {
	case err == nil:
		return existing, true, nil
	case !errors.Is(err, sql.ErrNoRows):
		return nil, false, fmt.Errorf("RecordAttendance: %w", err)
	}

	if !event.IsCheckInOpen(time.Now().UTC()) {
		return nil, false, ErrCheckInClosed
	}

	attendance := &Attendance{
		ID:          uuid.NewString(),
		EventID:     event.ID,
		UserID:      userID,
		CheckedInAt: time.Now().UTC().Unix(),
		CheckedInBy: checkedInBy,
	}
	if _, err := tx.NewInsert().Model(attendance).Exec(ctx); err != nil {
		return nil, false, fmt.Errorf("RecordAttendance: %w", err)
	}
	return attendance, false, nil
}

func ListAttendance(ctx context.Context, db bun.IDB, eventID string) ([]Attendance, error) {
	attendances := make([]Attendance, 0)
	if err := db.NewSelect().
		Model(&attendances).
		Relation("User").
		Where("attendance.event_id = ?", eventID).
		OrderExpr("attendance.checked_in_at ASC").
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("ListAttendance: %w", err)
	}
	return attendances, nil
}

// User ids of everyone who checked in to the event.
func AttendeeUserIDs(ctx context.Context, db bun.IDB, eventID string) ([]string, error) {
	ids := make([]string, 0)
	if err := db.NewSelect().
		Model((*Attendance)(nil)).
		Column("user_id").
		Where("event_id = ?", eventID).
		Scan(ctx, &ids); err != nil {
		return nil, fmt.Errorf("AttendeeUserIDs: %w", err)
	}
	return ids, nil
}
