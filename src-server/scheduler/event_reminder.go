package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ganapp/src-server/model"
	"ganapp/src-server/notify"
	"ganapp/src-server/utils"

	"github.com/uptrace/bun"
)

// SendReminders notifies the registrants of every published event starting
// within the lead time, once per event. Returns how many events were reminded.
func SendReminders(ctx context.Context, as *utils.AppState, d *notify.Dispatcher, now time.Time) (int, error) {
	loc := as.Config.GetLocation()

	eventModels := make([]model.Event, 0)
	if err := as.BunDB.
		NewSelect().
		Model(&eventModels).
		Where("status = ?", model.EventStatusPublished).
		Where("archived_at = 0").
		Where("reminder_sent = ?", false).
		Where("start_date > ?", now.UTC().Unix()).
		Where("start_date <= ?", now.UTC().Add(as.Config.GetReminderLeadTime()).Unix()).
		Scan(ctx); err != nil {
		return 0, fmt.Errorf("SendReminders: %w", err)
	}
	if len(eventModels) == 0 {
		return 0, nil
	}

	ids := make([]string, len(eventModels))
	for i, event := range eventModels {
		ids[i] = event.ID
	}
	if _, err := as.BunDB.NewUpdate().
		Model((*model.Event)(nil)).
		Set("reminder_sent = ?", true).
		Where("id IN (?)", bun.In(ids)).
		Exec(ctx); err != nil {
		return 0, fmt.Errorf("SendReminders: %w", err)
	}

	for _, event := range eventModels {
		userIDs, err := model.RegisteredUserIDs(ctx, as.BunDB, event.ID)
		if err != nil {
			slog.Error("SendReminders: can't get registrants", "event", event.ID, "error", err)
			continue
		}
		start := time.Unix(event.StartDateUnixUTC, 0).In(loc)
		d.Notify(ctx, userIDs, notify.Message{
			Kind:  model.NotificationKindReminder,
			Title: "Starting soon: " + event.Title,
			Body:  fmt.Sprintf("%s starts at %s at %s.", event.Title, start.Format("Jan 2, 3:04 PM"), event.Venue),
			Link:  "/events/" + event.ID,
			Email: true,
		})
	}
	return len(eventModels), nil
}

func EventReminder(as *utils.AppState, d *notify.Dispatcher) {
	gracefulShutdownCh := as.CreateGracefulShutdownChan()
	ticker := time.NewTicker(as.Config.GetSchedulerInterval())
	defer ticker.Stop()
	for {
		select {
		case <-gracefulShutdownCh:
			slog.Debug("EventReminder stopped")
			return
		case now := <-ticker.C:
			n, err := SendReminders(context.Background(), as, d, now)
			if err != nil {
				slog.Error("can't send reminders", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("reminders sent", "events", n)
			}
		}
	}
}
