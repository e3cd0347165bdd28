package model

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// Admins moderate other accounts only.
func CheckSelfModeration(actor, target *User) error {
	if actor.ID == target.ID {
		return ErrSelfModeration
	}
	return nil
}

func (u *User) Ban(ctx context.Context, db bun.IDB, until time.Time, reason string) error {
	if !until.After(time.Now()) {
		return NewValidationError(FieldError{"duration", "must be in the future"})
	}
	u.BannedUntil = until.UTC().Unix()
	u.BanReason = strings.TrimSpace(reason)
	return u.saveModeration(ctx, db, "banned_until", "ban_reason")
}

func (u *User) Unban(ctx context.Context, db bun.IDB) error {
	u.BannedUntil = 0
	u.BanReason = ""
	return u.saveModeration(ctx, db, "banned_until", "ban_reason")
}

func (u *User) SetRole(ctx context.Context, db bun.IDB, role Role) error {
	if !role.Valid() {
		return NewValidationError(FieldError{"role", "must be participant, organizer or admin"})
	}
	u.Role = role
	return u.saveModeration(ctx, db, "role")
}

func (u *User) SetArchived(ctx context.Context, db bun.IDB, archived bool) error {
	u.ArchivedAt = 0
	if archived {
		u.ArchivedAt = time.Now().UTC().Unix()
	}
	return u.saveModeration(ctx, db, "archived_at")
}

func (u *User) saveModeration(ctx context.Context, db bun.IDB, columns ...string) error {
	u.UpdatedAt = time.Now().UTC().Unix()
	res, err := db.NewUpdate().
		Model(u).
		Column(append(columns, "updated_at")...).
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("(*User).saveModeration: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user %w", ErrNotFound)
	}
	return nil
}

type UserFilter struct {
	Query string
	Role  Role
	// "active", "banned" or "archived"
	Status string
	Sort   string
	Desc   bool
	Limit  int
	Offset int
}

var userSortColumns = map[string]string{
	"name":       `LOWER("user"."last_name")`,
	"email":      `"user"."email"`,
	"created_at": `"user"."created_at"`,
	"role":       `"user"."role"`,
}

// UserRow is a user as listed in the admin table.
type UserRow struct {
	User
	Status string `json:"status"`
}

func ListUsers(ctx context.Context, db bun.IDB, filter UserFilter, now time.Time) ([]UserRow, int, error) {
	users := make([]User, 0)
	q := db.NewSelect().Model(&users)

	if filter.Query != "" {
		like := "%" + strings.ToLower(strings.TrimSpace(filter.Query)) + "%"
		q = q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				Where(`LOWER("user"."first_name") LIKE ?`, like).
				WhereOr(`LOWER("user"."last_name") LIKE ?`, like).
				WhereOr(`LOWER("user"."email") LIKE ?`, like)
		})
	}
	if filter.Role != "" {
		q = q.Where(`"user"."role" = ?`, filter.Role)
	}
	switch filter.Status {
	case "":
	case "active":
		q = q.Where(`"user"."archived_at" = 0`).Where(`"user"."banned_until" <= ?`, now.Unix())
	case "banned":
		q = q.Where(`"user"."archived_at" = 0`).Where(`"user"."banned_until" > ?`, now.Unix())
	case "archived":
		q = q.Where(`"user"."archived_at" != 0`)
	default:
		return nil, 0, NewValidationError(FieldError{"status", "must be active, banned or archived"})
	}

	column, ok := userSortColumns[filter.Sort]
	if !ok {
		column = userSortColumns["created_at"]
	}
	direction := "ASC"
	if filter.Desc {
		direction = "DESC"
	}
	q = q.OrderExpr(column + " " + direction).OrderExpr(`"user"."id" ASC`)
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit).Offset(filter.Offset)
	}

	total, err := q.ScanAndCount(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("ListUsers: %w", err)
	}
	rows := make([]UserRow, len(users))
	for i, user := range users {
		rows[i] = UserRow{User: user, Status: user.Status(now)}
	}
	return rows, total, nil
}

type Stats struct {
	Users          map[Role]int        `json:"users"`
	TotalUsers     int                 `json:"total_users"`
	BannedUsers    int                 `json:"banned_users"`
	ArchivedUsers  int                 `json:"archived_users"`
	Events         map[EventStatus]int `json:"events"`
	TotalEvents    int                 `json:"total_events"`
	ArchivedEvents int                 `json:"archived_events"`
	Registrations  int                 `json:"registrations"`
	Attendance     int                 `json:"attendance"`
	Certificates   int                 `json:"certificates"`
	OpenTickets    int                 `json:"open_tickets"`
}

func GetStats(ctx context.Context, db bun.IDB, now time.Time) (*Stats, error) {
	stats := &Stats{
		Users:  map[Role]int{RoleParticipant: 0, RoleOrganizer: 0, RoleAdmin: 0},
		Events: map[EventStatus]int{EventStatusDraft: 0, EventStatusPublished: 0, EventStatusCancelled: 0, EventStatusCompleted: 0},
	}

	var roleRows []struct {
		Role  Role `bun:"role"`
		Count int  `bun:"count"`
	}
	if err := db.NewSelect().
		Model((*User)(nil)).
		Column("role").
		ColumnExpr("COUNT(*) AS count").
		Group("role").
		Scan(ctx, &roleRows); err != nil {
		return nil, fmt.Errorf("GetStats: %w", err)
	}
	for _, row := range roleRows {
		stats.Users[row.Role] = row.Count
		stats.TotalUsers += row.Count
	}

	var statusRows []struct {
		Status EventStatus `bun:"status"`
		Count  int         `bun:"count"`
	}
	if err := db.NewSelect().
		Model((*Event)(nil)).
		Column("status").
		ColumnExpr("COUNT(*) AS count").
		Group("status").
		Scan(ctx, &statusRows); err != nil {
		return nil, fmt.Errorf("GetStats: %w", err)
	}
	for _, row := range statusRows {
		stats.Events[row.Status] = row.Count
		stats.TotalEvents += row.Count
	}

	counts := []struct {
		dst   *int
		query *bun.SelectQuery
	}{
		{&stats.BannedUsers, db.NewSelect().Model((*User)(nil)).Where("banned_until > ?", now.Unix())},
		{&stats.ArchivedUsers, db.NewSelect().Model((*User)(nil)).Where("archived_at != 0")},
		{&stats.ArchivedEvents, db.NewSelect().Model((*Event)(nil)).Where("archived_at != 0")},
		{&stats.Registrations, db.NewSelect().Model((*Registration)(nil)).Where("status = ?", RegistrationStatusRegistered)},
		{&stats.Attendance, db.NewSelect().Model((*Attendance)(nil))},
		{&stats.Certificates, db.NewSelect().Model((*Certificate)(nil))},
		{&stats.OpenTickets, db.NewSelect().Model((*SupportTicket)(nil)).Where("status IN (?)", bun.In([]TicketStatus{TicketStatusOpen, TicketStatusInProgress}))},
	}
	for _, c := range counts {
		n, err := c.query.Count(ctx)
		if err != nil {
			return nil, fmt.Errorf("GetStats: %w", err)
		}
		*c.dst = n
	}
	return stats, nil
}

// Rows pointing at an event or user that no longer exists.
type Orphans struct {
	Registrations   []string `json:"registrations"`
	Attendance      []string `json:"attendance"`
	Certificates    []string `json:"certificates"`
	QRCodes         []string `json:"qr_codes"`
	SurveyResponses []string `json:"survey_responses"`
}

func (o *Orphans) Total() int {
	return len(o.Registrations) + len(o.Attendance) + len(o.Certificates) + len(o.QRCodes) + len(o.SurveyResponses)
}

type orphanQuery struct {
	model interface{}
	where string
	args  []interface{}
	dst   *[]string
}

func (o *Orphans) queries() []orphanQuery {
	const (
		noEvent = "NOT EXISTS (SELECT 1 FROM events AS e WHERE e.id = %s.event_id)"
		noUser  = "NOT EXISTS (SELECT 1 FROM users AS u WHERE u.id = %s.%s)"
	)
	both := func(alias string) string {
		return "(" + fmt.Sprintf(noEvent, alias) + " OR " + fmt.Sprintf(noUser, alias, "user_id") + ")"
	}
	return []orphanQuery{
		{(*Registration)(nil), both("registration"), nil, &o.Registrations},
		{(*Attendance)(nil), both("attendance"), nil, &o.Attendance},
		{(*Certificate)(nil), both("certificate"), nil, &o.Certificates},
		{
			(*QRCode)(nil),
			"(" + fmt.Sprintf(noUser, "qr_code", "owner_id") + " OR (qr_code.kind = ? AND " + fmt.Sprintf(noEvent, "qr_code") + "))",
			[]interface{}{QRCodeKindEventCheckIn},
			&o.QRCodes,
		},
		{
			(*SurveyResponse)(nil),
			"(NOT EXISTS (SELECT 1 FROM surveys AS s WHERE s.id = survey_response.survey_id) OR " + fmt.Sprintf(noUser, "survey_response", "user_id") + ")",
			nil,
			&o.SurveyResponses,
		},
	}
}

func FindOrphans(ctx context.Context, db bun.IDB) (*Orphans, error) {
	orphans := new(Orphans)
	for _, oq := range orphans.queries() {
		ids := make([]string, 0)
		if err := db.NewSelect().
			Model(oq.model).
			Column("id").
			Where(oq.where, oq.args...).
			Scan(ctx, &ids); err != nil {
			return nil, fmt.Errorf("FindOrphans: %w", err)
		}
		*oq.dst = ids
	}
	return orphans, nil
}

// Deletes every orphan found by FindOrphans inside one transaction.
func PurgeOrphans(ctx context.Context, db bun.IDB) (*Orphans, error) {
	var orphans *Orphans
	if err := db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		var err error
		if orphans, err = FindOrphans(ctx, tx); err != nil {
			return err
		}
		for _, oq := range orphans.queries() {
			if len(*oq.dst) == 0 {
				continue
			}
			if _, err := tx.NewDelete().
				Model(oq.model).
				Where("id IN (?)", bun.In(*oq.dst)).
				Exec(ctx); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("PurgeOrphans: %w", err)
	}
	return orphans, nil
}
