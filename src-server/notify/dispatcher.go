package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ganapp/src-server/model"
	"ganapp/src-server/utils"

	"github.com/uptrace/bun"
)

const emailTimeout = 10 * time.Second

type Message struct {
	Kind  model.NotificationKind
	Title string
	Body  string
	Link  string
	// also email the users when a mailer is configured
	Email bool
}

// Dispatcher stores notifications and pushes them out on every channel.
type Dispatcher struct {
	db        bun.IDB
	hub       *Hub
	mailer    Mailer
	announcer Announcer
	metric    *utils.Metric
	hostname  string

	wg sync.WaitGroup
}

// mailer and announcer may be nil.
func NewDispatcher(db bun.IDB, hub *Hub, mailer Mailer, announcer Announcer, metric *utils.Metric, hostname string) *Dispatcher {
	d := &Dispatcher{db: db, hub: hub, metric: metric, hostname: hostname}
	// keep typed nils out of the interfaces
	if m, ok := mailer.(*MailersendMailer); !ok || m != nil {
		d.mailer = mailer
	}
	if a, ok := announcer.(*DiscordAnnouncer); !ok || a != nil {
		d.announcer = announcer
	}
	return d
}

func (d *Dispatcher) Hub() *Hub {
	return d.hub
}

// Inserts one notification per user, pushes each to the user's open
// connections, and queues the emails.
func (d *Dispatcher) Send(ctx context.Context, userIDs []string, msg Message) ([]model.Notification, error) {
	userIDs = unique(userIDs)
	if len(userIDs) == 0 {
		return []model.Notification{}, nil
	}
	link := msg.Link
	start := time.Now()
	notifications, err := model.CreateNotifications(ctx, d.db, userIDs, msg.Kind, msg.Title, msg.Body, link)
	if err != nil {
		return nil, fmt.Errorf("(*Dispatcher).Send: %w", err)
	}
	d.metric.ObserveDatabaseWrite(start)

	for i := range notifications {
		d.metric.ObserveNotification("inapp")
		if d.hub.Publish(notifications[i].UserID, Frame{Type: "notification", Data: notifications[i]}) > 0 {
			d.metric.ObserveNotification("websocket")
		}
	}

	if msg.Email && d.mailer != nil {
		if err := d.queueEmails(ctx, userIDs, msg); err != nil {
			slog.Warn("can't queue notification emails", "error", err)
		}
	}
	return notifications, nil
}

// Send that logs instead of failing; notifications never fail the action
// that triggered them.
func (d *Dispatcher) Notify(ctx context.Context, userIDs []string, msg Message) {
	if _, err := d.Send(ctx, userIDs, msg); err != nil {
		slog.Error("can't send notification", "kind", msg.Kind, "error", err)
	}
}

func (d *Dispatcher) queueEmails(ctx context.Context, userIDs []string, msg Message) error {
	users := make([]model.User, 0, len(userIDs))
	if err := d.db.NewSelect().
		Model(&users).
		Column("id", "email", "first_name", "last_name").
		Where("id IN (?)", bun.In(userIDs)).
		Scan(ctx); err != nil {
		return err
	}

	text := msg.Body
	if msg.Link != "" {
		text += "\n\n" + d.hostname + msg.Link
	}
	// outlive the request that triggered the notification
	bg := context.WithoutCancel(ctx)
	for _, user := range users {
		d.wg.Add(1)
		go func(user model.User) {
			defer d.wg.Done()
			ctx, cancel := context.WithTimeout(bg, emailTimeout)
			defer cancel()
			to := Recipient{Name: user.FullName(), Email: user.Email}
			if err := d.mailer.Send(ctx, to, msg.Title, text, ""); err != nil {
				slog.Warn("can't send notification email", "to", user.Email, "error", err)
				return
			}
			d.metric.ObserveNotification("email")
		}(user)
	}
	return nil
}

// Posts a newly published event when an announcer is configured.
func (d *Dispatcher) AnnounceEvent(ctx context.Context, event *model.Event) {
	if d.announcer == nil {
		return
	}
	a := Announcement{
		Title:       event.Title,
		Description: event.Description,
		Venue:       event.Venue,
		URL:         d.hostname + "/events/" + event.ID,
		BannerURL:   event.BannerURL,
		Start:       time.Unix(event.StartDateUnixUTC, 0),
		End:         time.Unix(event.EndDateUnixUTC, 0),
	}
	bg := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(bg, emailTimeout)
		defer cancel()
		if err := d.announcer.Announce(ctx, a); err != nil {
			slog.Warn("can't announce event", "event_id", event.ID, "error", err)
			return
		}
		d.metric.ObserveNotification("discord")
	}()
}

// Waits for queued emails and announcements.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func unique(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
