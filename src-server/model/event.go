package model

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/xyedo/rrule"
)

type EventStatus string

const (
	EventStatusDraft     EventStatus = "draft"
	EventStatusPublished EventStatus = "published"
	EventStatusCancelled EventStatus = "cancelled"
	EventStatusCompleted EventStatus = "completed"
)

func (s EventStatus) Valid() bool {
	switch s {
	case EventStatusDraft, EventStatusPublished, EventStatusCancelled, EventStatusCompleted:
		return true
	}
	return false
}

type Event struct {
	bun.BaseModel `bun:"table:events,alias:event"`

	ID          string `bun:"id,pk"           json:"id"`    // required
	Title       string `bun:"title,notnull"   json:"title"` // required
	Description string `bun:"description"     json:"description"`
	Venue       string `bun:"venue"           json:"venue"`
	BannerURL   string `bun:"banner_url"      json:"banner_url"`

	StartDateUnixUTC int64 `bun:"start_date,notnull" json:"start_date"` // required
	EndDateUnixUTC   int64 `bun:"end_date,notnull"   json:"end_date"`   // required
	IsWholeDay       bool  `bun:"is_whole_day"       json:"is_whole_day"`

	// 0 means unlimited
	Capacity int         `bun:"capacity,notnull"           json:"capacity"`
	Status   EventStatus `bun:"status,notnull,type:varchar" json:"status"`
	RRule    string      `bun:"rrule"                      json:"rrule,omitempty"`

	OrganizerID  string `bun:"organizer_id,notnull" json:"organizer_id"` // required
	ArchivedAt   int64  `bun:"archived_at"          json:"archived_at,omitempty"`
	ReminderSent bool   `bun:"reminder_sent"        json:"-"`

	// filled by ListEvents only
	ParticipantCount int `bun:"participant_count,scanonly" json:"-"`

	CreatedAt int64 `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt int64 `bun:"updated_at"         json:"updated_at"`
	Sequence  int   `bun:"sequence"           json:"sequence"`

	Organizer *User `bun:"rel:belongs-to,join:organizer_id=id" json:"organizer,omitempty"`
}

func (e *Event) IsArchived() bool {
	return e.ArchivedAt != 0
}

func (e *Event) HasEnded(now time.Time) bool {
	return e.EndDateUnixUTC <= now.Unix()
}

func (e *Event) HasStarted(now time.Time) bool {
	return e.StartDateUnixUTC <= now.Unix()
}

// Only the organizer who owns the event and admins may manage it.
func (e *Event) CanManage(user *User) bool {
	if user == nil {
		return false
	}
	return user.Role == RoleAdmin || (user.Role.CanOrganize() && user.ID == e.OrganizerID)
}

// Published, not archived, and not over yet.
func (e *Event) IsOpenForRegistration(now time.Time) bool {
	return e.Status == EventStatusPublished && !e.IsArchived() && !e.HasEnded(now)
}

func (e *Event) validate() error {
	var flds []FieldError
	if strings.TrimSpace(e.Title) == "" {
		flds = append(flds, FieldError{"title", "this field is required"})
	}
	if e.StartDateUnixUTC == 0 {
		flds = append(flds, FieldError{"start", "this field is required"})
	}
	if e.EndDateUnixUTC == 0 {
		flds = append(flds, FieldError{"end", "this field is required"})
	}
	if e.StartDateUnixUTC != 0 && e.EndDateUnixUTC != 0 && e.StartDateUnixUTC >= e.EndDateUnixUTC {
		flds = append(flds, FieldError{"end", "must be after the start date"})
	}
	if e.Capacity < 0 {
		flds = append(flds, FieldError{"capacity", "must not be negative"})
	}
	if !e.Status.Valid() {
		flds = append(flds, FieldError{"status", "unknown status"})
	}
	if e.OrganizerID == "" {
		flds = append(flds, FieldError{"organizer_id", "this field is required"})
	}
	if e.BannerURL != "" {
		if _, err := url.ParseRequestURI(e.BannerURL); err != nil {
			flds = append(flds, FieldError{"banner_url", "must be a valid url"})
		}
	}
	if e.RRule != "" {
		if _, err := e.GetRRule(); err != nil {
			flds = append(flds, FieldError{"rrule", err.Error()})
		}
	}
	if len(flds) > 0 {
		return NewValidationError(flds...)
	}
	return nil
}

// Parses the recurrence rule anchored at the event start. Nil when the event
// doesn't repeat.
func (e *Event) GetRRule() (*rrule.RRule, error) {
	if e.RRule == "" {
		return nil, nil
	}
	ruleStr := strings.TrimPrefix(strings.TrimSpace(e.RRule), "RRULE:")
	dtstart := time.Unix(e.StartDateUnixUTC, 0).UTC().Format("20060102T150405Z")
	rule, err := rrule.StrToRRule(fmt.Sprintf("DTSTART:%s\nRRULE:%s", dtstart, ruleStr))
	if err != nil {
		return nil, fmt.Errorf("invalid recurrence rule: %w", err)
	}
	return rule, nil
}

type Occurrence struct {
	StartDateUnixUTC int64 `json:"start_date"`
	EndDateUnixUTC   int64 `json:"end_date"`
}

// Expands the recurrence between from and to (inclusive). A non-recurring
// event yields itself when it overlaps the window.
func (e *Event) Occurrences(from, to time.Time) ([]Occurrence, error) {
	duration := e.EndDateUnixUTC - e.StartDateUnixUTC
	rule, err := e.GetRRule()
	if err != nil {
		return nil, err
	}
	if rule == nil {
		if e.StartDateUnixUTC <= to.Unix() && e.EndDateUnixUTC >= from.Unix() {
			return []Occurrence{{e.StartDateUnixUTC, e.EndDateUnixUTC}}, nil
		}
		return []Occurrence{}, nil
	}
	occurrences := make([]Occurrence, 0)
	for _, date := range rule.Between(from, to, true) {
		start := date.UTC().Unix()
		occurrences = append(occurrences, Occurrence{start, start + duration})
	}
	return occurrences, nil
}

// Inserts or updates the event. Updating bumps Sequence, same as iCalendar's
// SEQUENCE so exported calendars pick the change up.
func (e *Event) Upsert(ctx context.Context, db bun.IDB) error {
	e.Title = strings.TrimSpace(e.Title)
	if e.Status == "" {
		e.Status = EventStatusDraft
	}
	if err := e.validate(); err != nil {
		return err
	}
	now := time.Now().UTC().Unix()
	startDate := time.Unix(e.StartDateUnixUTC, 0).UTC()
	e.IsWholeDay = startDate.Hour() == 0 && startDate.Minute() == 0 && startDate.Second() == 0 &&
		(e.EndDateUnixUTC-e.StartDateUnixUTC)%int64(24*time.Hour/time.Second) == 0

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	exists, err := db.NewSelect().
		Model((*Event)(nil)).
		Where("id = ?", e.ID).
		Exists(ctx)
	if err != nil {
		return fmt.Errorf("(*Event).Upsert: %w", err)
	}

	switch exists {
	case true:
		e.UpdatedAt = now
		e.Sequence++
		if _, err := db.NewUpdate().
			Model(e).
			ExcludeColumn("created_at", "organizer_id").
			WherePK().
			Exec(ctx); err != nil {
			return fmt.Errorf("(*Event).Upsert: %w", err)
		}
	case false:
		e.CreatedAt = now
		e.UpdatedAt = now
		if _, err := db.NewInsert().
			Model(e).
			Exec(ctx); err != nil {
			return fmt.Errorf("(*Event).Upsert: %w", err)
		}
	}
	return nil
}

// Moves the event to a new status, enforcing the allowed transitions:
// draft -> published, draft|published -> cancelled, published -> completed.
func (e *Event) Transition(ctx context.Context, db bun.IDB, to EventStatus) error {
	allowed := false
	switch to {
	case EventStatusPublished:
		allowed = e.Status == EventStatusDraft
	case EventStatusCancelled:
		allowed = e.Status == EventStatusDraft || e.Status == EventStatusPublished
	case EventStatusCompleted:
		allowed = e.Status == EventStatusPublished
	}
	if !allowed {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.Status, to)
	}
	e.Status = to
	e.UpdatedAt = time.Now().UTC().Unix()
	e.Sequence++
	if _, err := db.NewUpdate().
		Model(e).
		Column("status", "updated_at", "sequence").
		WherePK().
		Exec(ctx); err != nil {
		return fmt.Errorf("(*Event).Transition: %w", err)
	}
	return nil
}

// Soft delete: archived events disappear from browsing but keep their rows.
func (e *Event) SetArchived(ctx context.Context, db bun.IDB, archived bool) error {
	e.ArchivedAt = 0
	if archived {
		e.ArchivedAt = time.Now().UTC().Unix()
	}
	e.UpdatedAt = time.Now().UTC().Unix()
	if _, err := db.NewUpdate().
		Model(e).
		Column("archived_at", "updated_at").
		WherePK().
		Exec(ctx); err != nil {
		return fmt.Errorf("(*Event).SetArchived: %w", err)
	}
	return nil
}

func GetEvent(ctx context.Context, db bun.IDB, id string) (*Event, error) {
	event := new(Event)
	if err := db.NewSelect().
		Model(event).
		Relation("Organizer").
		Where("event.id = ?", id).
		Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("event %w", ErrNotFound)
		}
		return nil, fmt.Errorf("GetEvent: %w", err)
	}
	return event, nil
}

// Event plus the numbers the event pages show next to it.
type EventSummary struct {
	*Event
	ParticipantCount int `json:"participant_count"`
	// -1 when the event has no capacity limit
	RemainingSeats int `json:"remaining_seats"`
}

func NewEventSummary(event *Event, participants int) EventSummary {
	remaining := -1
	if event.Capacity > 0 {
		remaining = event.Capacity - participants
		if remaining < 0 {
			remaining = 0
		}
	}
	return EventSummary{Event: event, ParticipantCount: participants, RemainingSeats: remaining}
}

type EventFilter struct {
	Query       string
	Status      EventStatus
	OrganizerID string
	From        int64
	To          int64

	Archived        *bool // nil: only non-archived, false/true: exact
	IncludeArchived bool  // with Archived nil, list archived and live events together

	Sort   string
	Desc   bool
	Limit  int
	Offset int
}

var eventSortColumns = map[string]string{
	"start_date":   "event.start_date",
	"title":        "LOWER(event.title)",
	"created_at":   "event.created_at",
	"status":       "event.status",
	"participants": "participant_count",
}

// Searches, filters, sorts and pages events. Returns the page and the total
// number of matches.
func ListEvents(ctx context.Context, db bun.IDB, filter EventFilter) ([]EventSummary, int, error) {
	events := make([]Event, 0)
	q := db.NewSelect().
		Model(&events).
		Relation("Organizer").
		ColumnExpr("event.*").
		ColumnExpr("(SELECT COUNT(*) FROM registrations AS r WHERE r.event_id = event.id AND r.status = ?) AS participant_count",
			RegistrationStatusRegistered)

	if filter.Query != "" {
		like := "%" + strings.ToLower(strings.TrimSpace(filter.Query)) + "%"
		q = q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				Where("LOWER(event.title) LIKE ?", like).
				WhereOr("LOWER(event.description) LIKE ?", like).
				WhereOr("LOWER(event.venue) LIKE ?", like)
		})
	}
	if filter.Status != "" {
		q = q.Where("event.status = ?", filter.Status)
	}
	if filter.OrganizerID != "" {
		q = q.Where("event.organizer_id = ?", filter.OrganizerID)
	}
	if filter.From != 0 {
		q = q.Where("event.end_date >= ?", filter.From)
	}
	if filter.To != 0 {
		q = q.Where("event.start_date <= ?", filter.To)
	}
	switch {
	case filter.Archived == nil && filter.IncludeArchived:
	case filter.Archived != nil && *filter.Archived:
		q = q.Where("event.archived_at != 0")
	default:
		q = q.Where("event.archived_at = 0")
	}

	column, ok := eventSortColumns[filter.Sort]
	if !ok {
		column = eventSortColumns["start_date"]
	}
	direction := "ASC"
	if filter.Desc {
		direction = "DESC"
	}
	q = q.OrderExpr(column + " " + direction).OrderExpr("event.id ASC")
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit).Offset(filter.Offset)
	}

	total, err := q.ScanAndCount(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("ListEvents: %w", err)
	}

	summaries := make([]EventSummary, len(events))
	for i := range events {
		summaries[i] = NewEventSummary(&events[i], events[i].ParticipantCount)
	}
	return summaries, total, nil
}
