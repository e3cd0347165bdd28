package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"ganapp/src-server/model"
	"ganapp/src-server/notify"
	"ganapp/src-server/utils"

	"github.com/uptrace/bun"
)

const (
	WORKER_COUNT = 4
)

// Marks the event completed and opens its survey, if any. Reports whether a
// survey was opened.
func completeEvent(ctx context.Context, as *utils.AppState, event *model.Event) (bool, error) {
	surveyOpened := false
	err := as.BunDB.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if err := event.Transition(ctx, tx, model.EventStatusCompleted); err != nil {
			return err
		}
		survey, err := model.GetSurvey(ctx, tx, event.ID)
		switch {
		case errors.Is(err, model.ErrNotFound):
			return nil
		case err != nil:
			return err
		case survey.IsOpen:
			return nil
		}
		if err := survey.SetOpen(ctx, tx, true); err != nil {
			return err
		}
		surveyOpened = true
		return nil
	})
	return surveyOpened, err
}

// CompleteEndedEvents moves every published event whose end has passed to
// completed, spreading the work over WORKER_COUNT workers. Returns how many
// events were completed.
func CompleteEndedEvents(ctx context.Context, as *utils.AppState, d *notify.Dispatcher, now time.Time) (int, error) {
	eventModels := make([]model.Event, 0)
	if err := as.BunDB.
		NewSelect().
		Model(&eventModels).
		Where("status = ?", model.EventStatusPublished).
		Where("end_date <= ?", now.UTC().Unix()).
		Scan(ctx); err != nil {
		return 0, fmt.Errorf("CompleteEndedEvents: %w", err)
	}
	if len(eventModels) == 0 {
		return 0, nil
	}

	jobs := make(chan *model.Event, len(eventModels))
	for i := range eventModels {
		jobs <- &eventModels[i]
	}
	close(jobs)

	var (
		wg        sync.WaitGroup
		completed atomic.Int64
	)
	for range WORKER_COUNT {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for event := range jobs {
				surveyOpened, err := completeEvent(ctx, as, event)
				if err != nil {
					slog.Warn("CompleteEndedEvents: can't complete event", "event", event.ID, "error", err)
					continue
				}
				completed.Add(1)
				if !surveyOpened {
					continue
				}
				attendees, err := model.AttendeeUserIDs(ctx, as.BunDB, event.ID)
				if err != nil {
					slog.Warn("CompleteEndedEvents: can't get attendees", "event", event.ID, "error", err)
					continue
				}
				d.Notify(ctx, attendees, notify.Message{
					Kind:  model.NotificationKindSurvey,
					Title: "Evaluation is open",
					Body:  fmt.Sprintf("Tell us how %q went. Answer the evaluation to get your certificate.", event.Title),
					Link:  "/events/" + event.ID + "/survey",
					Email: true,
				})
			}
		}()
	}
	wg.Wait()

	return int(completed.Load()), nil
}

func EventLifecycle(as *utils.AppState, d *notify.Dispatcher) {
	gracefulShutdownCh := as.CreateGracefulShutdownChan()
	ticker := time.NewTicker(as.Config.GetSchedulerInterval())
	defer ticker.Stop()
	for {
		select {
		case <-gracefulShutdownCh:
			slog.Debug("EventLifecycle stopped")
			return
		case now := <-ticker.C:
			n, err := CompleteEndedEvents(context.Background(), as, d, now)
			if err != nil {
				slog.Error("can't complete ended events", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("events completed", "count", n)
			}
		}
	}
}
