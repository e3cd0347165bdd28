package model

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

type RegistrationStatus string

const (
	RegistrationStatusRegistered RegistrationStatus = "registered"
	RegistrationStatusCancelled  RegistrationStatus = "cancelled"
)

type Registration struct {
	bun.BaseModel `bun:"table:registrations,alias:registration"`

	ID           string             `bun:"id,pk"                                  json:"id"`
	EventID      string             `bun:"event_id,notnull,unique:registration_event_user" json:"event_id"`
	UserID       string             `bun:"user_id,notnull,unique:registration_event_user"  json:"user_id"`
	Status       RegistrationStatus `bun:"status,notnull,type:varchar"            json:"status"`
	RegisteredAt int64              `bun:"registered_at,notnull"                  json:"registered_at"`
	CancelledAt  int64              `bun:"cancelled_at"                           json:"cancelled_at,omitempty"`

	Event *Event `bun:"rel:belongs-to,join:event_id=id" json:"event,omitempty"`
	User  *User  `bun:"rel:belongs-to,join:user_id=id"  json:"user,omitempty"`
}

func (r *Registration) IsActive() bool {
	return r.Status == RegistrationStatusRegistered
}

// Number of active registrations of an event.
func CountParticipants(ctx context.Context, db bun.IDB, eventID string) (int, error) {
	count, err := db.NewSelect().
		Model((*Registration)(nil)).
		Where("event_id = ?", eventID).
		Where("status = ?", RegistrationStatusRegistered).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("CountParticipants: %w", err)
	}
	return count, nil
}

func GetRegistration(ctx context.Context, db bun.IDB, eventID, userID string) (*Registration, error) {
	registration := new(Registration)
	if err := db.NewSelect().
		Model(registration).
		Where("event_id = ?", eventID).
		Where("user_id = ?", userID).
		Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("registration %w", ErrNotFound)
		}
		return nil, fmt.Errorf("GetRegistration: %w", err)
	}
	return registration, nil
}

// Row-locks the event until the transaction ends so concurrent registrations
// for it run one after another. sqlite allows a single writer, so only
// Postgres needs the lock.
func lockEvent(ctx context.Context, tx bun.IDB, eventID string) error {
	if tx.Dialect().Name() != dialect.PG {
		return nil
	}
	var id string
	if err := tx.NewSelect().
		Model((*Event)(nil)).
		Column("id").
		Where("id = ?", eventID).
		For("UPDATE").
		Scan(ctx, &id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("event %w", ErrNotFound)
		}
		return fmt.Errorf("lockEvent: %w", err)
	}
	return nil
}

// Registers the user for the event. A cancelled registration is reactivated
// instead of inserting a second row. Must run inside a transaction: the event
// row stays locked from the capacity check until commit.
func Register(ctx context.Context, tx bun.IDB, event *Event, user *User) (*Registration, error) {
	now := time.Now().UTC()
	switch {
	case !event.IsOpenForRegistration(now):
		return nil, ErrEventNotOpen
	case user.IsBanned(now) || user.IsArchived():
		return nil, fmt.Errorf("%w: account can't register", ErrForbidden)
	}
	if err := lockEvent(ctx, tx, event.ID); err != nil {
		return nil, err
	}

	existing, err := GetRegistration(ctx, tx, event.ID, user.ID)
	switch {
	case err == nil && existing.IsActive():
		return nil, ErrAlreadyRegistered
	case err != nil && !errors.Is(err, ErrNotFound):
		return nil, err
	}

	if event.Capacity > 0 {
		participants, err := CountParticipants(ctx, tx, event.ID)
		if err != nil {
			return nil, err
		}
		if participants >= event.Capacity {
			return nil, ErrEventFull
		}
	}

	if existing != nil {
		existing.Status = RegistrationStatusRegistered
		existing.RegisteredAt = now.Unix()
		existing.CancelledAt = 0
		if _, err := tx.NewUpdate().
			Model(existing).
			Column("status", "registered_at", "cancelled_at").
			WherePK().
			Exec(ctx); err != nil {
			return nil, fmt.Errorf("Register: %w", err)
		}
		return existing, nil
	}

	registration := &Registration{
		ID:           uuid.NewString(),
		EventID:      event.ID,
		UserID:       user.ID,
		Status:       RegistrationStatusRegistered,
		RegisteredAt: now.Unix(),
	}
	if _, err := tx.NewInsert().Model(registration).Exec(ctx); err != nil {
		return nil, fmt.Errorf("Register: %w", err)
	}
	return registration, nil
}

// Cancels an active registration. Not allowed once the user checked in.
func CancelRegistration(ctx context.Context, tx bun.IDB, eventID, userID string) (*Registration, error) {
	registration, err := GetRegistration(ctx, tx, eventID, userID)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil, ErrNotRegistered
	case err != nil:
		return nil, err
	case !registration.IsActive():
		return nil, ErrNotRegistered
	}

	attended, err := HasAttended(ctx, tx, eventID, userID)
	if err != nil {
		return nil, err
	}
	if attended {
		return nil, fmt.Errorf("%w: already checked in", ErrConflict)
	}

	registration.Status = RegistrationStatusCancelled
	registration.CancelledAt = time.Now().UTC().Unix()
	if _, err := tx.NewUpdate().
		Model(registration).
		Column("status", "cancelled_at").
		WherePK().
		Exec(ctx); err != nil {
		return nil, fmt.Errorf("CancelRegistration: %w", err)
	}
	return registration, nil
}

// User ids of everyone actively registered for the event.
func RegisteredUserIDs(ctx context.Context, db bun.IDB, eventID string) ([]string, error) {
	ids := make([]string, 0)
	if err := db.NewSelect().
		Model((*Registration)(nil)).
		Column("user_id").
		Where("event_id = ?", eventID).
		Where("status = ?", RegistrationStatusRegistered).
		Scan(ctx, &ids); err != nil {
		return nil, fmt.Errorf("RegisteredUserIDs: %w", err)
	}
	return ids, nil
}

type Participant struct {
	Registration
	CheckedInAt int64 `json:"checked_in_at,omitempty"`
}

type ParticipantFilter struct {
	Query string
	// "name" or "registered_at"
	Sort string
	Desc bool
}

// Active registrations of an event joined with the user and check-in time.
func ListParticipants(ctx context.Context, db bun.IDB, eventID string, filter ParticipantFilter) ([]Participant, error) {
	registrations := make([]Registration, 0)
	q := db.NewSelect().
		Model(&registrations).
		Relation("User").
		Where("registration.event_id = ?", eventID).
		Where("registration.status = ?", RegistrationStatusRegistered)

	if filter.Query != "" {
		like := "%" + strings.ToLower(strings.TrimSpace(filter.Query)) + "%"
		q = q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				Where(`LOWER("user"."first_name") LIKE ?`, like).
				WhereOr(`LOWER("user"."last_name") LIKE ?`, like).
				WhereOr(`LOWER("user"."email") LIKE ?`, like)
		})
	}

	direction := "ASC"
	if filter.Desc {
		direction = "DESC"
	}
	switch filter.Sort {
	case "name":
		q = q.OrderExpr(`LOWER("user"."last_name") ` + direction).
			OrderExpr(`LOWER("user"."first_name") ` + direction)
	default:
		q = q.OrderExpr("registration.registered_at " + direction)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("ListParticipants: %w", err)
	}

	checkIns, err := CheckInTimes(ctx, db, eventID)
	if err != nil {
		return nil, err
	}
	participants := make([]Participant, len(registrations))
	for i, registration := range registrations {
		participants[i] = Participant{
			Registration: registration,
			CheckedInAt:  checkIns[registration.UserID],
		}
	}
	return participants, nil
}

// Registrations of a user, newest event first, with the event attached.
func ListUserRegistrations(ctx context.Context, db bun.IDB, userID string, includeCancelled bool) ([]Registration, error) {
	registrations := make([]Registration, 0)
	q := db.NewSelect().
		Model(&registrations).
		Relation("Event").
		Where("registration.user_id = ?", userID).
		OrderExpr("event.start_date DESC")
	if !includeCancelled {
		q = q.Where("registration.status = ?", RegistrationStatusRegistered)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("ListUserRegistrations: %w", err)
	}
	return registrations, nil
}
