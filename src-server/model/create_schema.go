package model

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/uptrace/bun"
)

// Every table of the app, in creation order.
var Tables = []interface{}{
	(*User)(nil),
	(*Event)(nil),
	(*Registration)(nil),
	(*Attendance)(nil),
	(*QRCode)(nil),
	(*Survey)(nil),
	(*SurveyResponse)(nil),
	(*Certificate)(nil),
	(*Notification)(nil),
	(*SupportTicket)(nil),
	(*TicketReply)(nil),
	(*AuditLog)(nil),
}

func CreateSchema(db *bun.DB) error {
	if err := db.RunInTx(context.Background(), &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		for _, model := range Tables {
			if _, err := tx.
				NewCreateTable().
				Model(model).
				IfNotExists().
				Exec(ctx); err != nil {
				return err
			}
		}
		for _, index := range []struct {
			model   interface{}
			name    string
			columns []string
		}{
			{(*Event)(nil), "events_start_date_idx", []string{"start_date"}},
			{(*Registration)(nil), "registrations_user_id_idx", []string{"user_id"}},
			{(*Notification)(nil), "notifications_user_id_idx", []string{"user_id", "created_at"}},
			{(*TicketReply)(nil), "ticket_replies_ticket_id_idx", []string{"ticket_id"}},
		} {
			if _, err := tx.
				NewCreateIndex().
				Model(index.model).
				Index(index.name).
				Column(index.columns...).
				IfNotExists().
				Exec(ctx); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return fmt.Errorf("CreateSchema: %w", err)
	}

	return nil
}
