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
)

type TicketStatus string

const (
	TicketStatusOpen       TicketStatus = "open"
	TicketStatusInProgress TicketStatus = "in_progress"
	TicketStatusResolved   TicketStatus = "resolved"
	TicketStatusClosed     TicketStatus = "closed"
)

type TicketPriority string

const (
	TicketPriorityLow    TicketPriority = "low"
	TicketPriorityNormal TicketPriority = "normal"
	TicketPriorityHigh   TicketPriority = "high"
)

func (p TicketPriority) Valid() bool {
	switch p {
	case TicketPriorityLow, TicketPriorityNormal, TicketPriorityHigh:
		return true
	}
	return false
}

// Allowed status moves. Anything can be closed; resolved can be reopened.
var ticketTransitions = map[TicketStatus][]TicketStatus{
	TicketStatusOpen:       {TicketStatusInProgress, TicketStatusClosed},
	TicketStatusInProgress: {TicketStatusResolved, TicketStatusClosed},
	TicketStatusResolved:   {TicketStatusClosed, TicketStatusOpen},
	TicketStatusClosed:     {},
}

func (s TicketStatus) CanMoveTo(to TicketStatus) bool {
	for _, allowed := range ticketTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

type SupportTicket struct {
	bun.BaseModel `bun:"table:support_tickets,alias:ticket"`

	ID         string         `bun:"id,pk"                        json:"id"`
	UserID     string         `bun:"user_id,notnull"              json:"user_id"`
	Subject    string         `bun:"subject,notnull"              json:"subject"`
	Message    string         `bun:"message,notnull"              json:"message"`
	Category   string         `bun:"category"                     json:"category"`
	Priority   TicketPriority `bun:"priority,notnull,type:varchar" json:"priority"`
	Status     TicketStatus   `bun:"status,notnull,type:varchar"   json:"status"`
	AssigneeID string         `bun:"assignee_id"                  json:"assignee_id,omitempty"`
	CreatedAt  int64          `bun:"created_at,notnull"           json:"created_at"`
	UpdatedAt  int64          `bun:"updated_at"                   json:"updated_at"`

	User    *User         `bun:"rel:belongs-to,join:user_id=id"    json:"user,omitempty"`
	Replies []TicketReply `bun:"rel:has-many,join:id=ticket_id"    json:"replies,omitempty"`
}

type TicketReply struct {
	bun.BaseModel `bun:"table:ticket_replies,alias:reply"`

	ID        string `bun:"id,pk"              json:"id"`
	TicketID  string `bun:"ticket_id,notnull"  json:"ticket_id"`
	AuthorID  string `bun:"author_id,notnull"  json:"author_id"`
	Message   string `bun:"message,notnull"    json:"message"`
	CreatedAt int64  `bun:"created_at,notnull" json:"created_at"`
}

func (t *SupportTicket) CanView(user *User) bool {
	return user != nil && (user.Role == RoleAdmin || user.ID == t.UserID)
}

func (t *SupportTicket) Create(ctx context.Context, db bun.IDB) error {
	t.Subject = strings.TrimSpace(t.Subject)
	t.Message = strings.TrimSpace(t.Message)
	t.Category = strings.TrimSpace(t.Category)
	if t.Priority == "" {
		t.Priority = TicketPriorityNormal
	}

	var flds []FieldError
	if t.Subject == "" {
		flds = append(flds, FieldError{"subject", "this field is required"})
	}
	if t.Message == "" {
		flds = append(flds, FieldError{"message", "this field is required"})
	}
	if !t.Priority.Valid() {
		flds = append(flds, FieldError{"priority", "must be low, normal or high"})
	}
	if len(flds) > 0 {
		return NewValidationError(flds...)
	}

	t.ID = uuid.NewString()
	t.Status = TicketStatusOpen
	t.CreatedAt = time.Now().UTC().Unix()
	t.UpdatedAt = t.CreatedAt
	if _, err := db.NewInsert().Model(t).Exec(ctx); err != nil {
		return fmt.Errorf("(*SupportTicket).Create: %w", err)
	}
	return nil
}

// Moves the ticket to `to`. The admin who takes it in progress becomes the
// assignee; reopening releases it.
func (t *SupportTicket) SetStatus(ctx context.Context, db bun.IDB, to TicketStatus, actorID string) error {
	if !t.Status.CanMoveTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, to)
	}
	switch to {
	case TicketStatusInProgress:
		t.AssigneeID = actorID
	case TicketStatusOpen:
		t.AssigneeID = ""
	}
	t.Status = to
	t.UpdatedAt = time.Now().UTC().Unix()
	if _, err := db.NewUpdate().
		Model(t).
		Column("status", "assignee_id", "updated_at").
		WherePK().
		Exec(ctx); err != nil {
		return fmt.Errorf("(*SupportTicket).SetStatus: %w", err)
	}
	return nil
}

// Adds a reply. Closed tickets take no more replies.
func (t *SupportTicket) Reply(ctx context.Context, db bun.IDB, authorID, message string) (*TicketReply, error) {
	if t.Status == TicketStatusClosed {
		return nil, ErrTicketClosed
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, NewValidationError(FieldError{"message", "this field is required"})
	}
	reply := &TicketReply{
		ID:        uuid.NewString(),
		TicketID:  t.ID,
		AuthorID:  authorID,
		Message:   message,
		CreatedAt: time.Now().UTC().Unix(),
	}
	if _, err := db.NewInsert().Model(reply).Exec(ctx); err != nil {
		return nil, fmt.Errorf("(*SupportTicket).Reply: %w", err)
	}
	t.UpdatedAt = reply.CreatedAt
	if _, err := db.NewUpdate().
		Model(t).
		Column("updated_at").
		WherePK().
		Exec(ctx); err != nil {
		return nil, fmt.Errorf("(*SupportTicket).Reply: %w", err)
	}
	t.Replies = append(t.Replies, *reply)
	return reply, nil
}

func GetTicket(ctx context.Context, db bun.IDB, id string) (*SupportTicket, error) {
	ticket := new(SupportTicket)
	if err := db.NewSelect().
		Model(ticket).
		Relation("User").
		Relation("Replies", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("reply.created_at ASC")
		}).
		Where("ticket.id = ?", id).
		Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("ticket %w", ErrNotFound)
		}
		return nil, fmt.Errorf("GetTicket: %w", err)
	}
	return ticket, nil
}

type TicketFilter struct {
	// empty means every user's tickets
	UserID   string
	Status   TicketStatus
	Priority TicketPriority
	Query    string
	Limit    int
	Offset   int
}

// Newest activity first.
func ListTickets(ctx context.Context, db bun.IDB, filter TicketFilter) ([]SupportTicket, int, error) {
	tickets := make([]SupportTicket, 0)
	q := db.NewSelect().
		Model(&tickets).
		Relation("User")
	if filter.UserID != "" {
		q = q.Where("ticket.user_id = ?", filter.UserID)
	}
	if filter.Status != "" {
		q = q.Where("ticket.status = ?", filter.Status)
	}
	if filter.Priority != "" {
		q = q.Where("ticket.priority = ?", filter.Priority)
	}
	if filter.Query != "" {
		like := "%" + strings.ToLower(strings.TrimSpace(filter.Query)) + "%"
		q = q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				Where("LOWER(ticket.subject) LIKE ?", like).
				WhereOr("LOWER(ticket.message) LIKE ?", like)
		})
	}
	q = q.Order("ticket.updated_at DESC", "ticket.id ASC")
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit).Offset(filter.Offset)
	}
	total, err := q.ScanAndCount(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("ListTickets: %w", err)
	}
	return tickets, total, nil
}
