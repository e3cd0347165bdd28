package route

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"ganapp/src-server/ical"
	"ganapp/src-server/model"
	"ganapp/src-server/notify"
	"ganapp/src-server/stream"
	"ganapp/src-server/utils"
)

// Loads the event named in the path. Drafts and archived events only show up
// for the people who manage them.
func loadEvent(as *utils.AppState, r *http.Request) (*model.Event, error) {
	startTimer := time.Now()
	event, err := model.GetEvent(r.Context(), as.BunDB, r.PathValue("id"))
	if err != nil {
		return nil, err
	}
	as.MetricChans.ObserveDatabaseRead(startTimer)
	if (event.Status == model.EventStatusDraft || event.IsArchived()) && !event.CanManage(currentUser(r)) {
		return nil, fmt.Errorf("event %w", model.ErrNotFound)
	}
	return event, nil
}

func loadManagedEvent(as *utils.AppState, r *http.Request) (*model.Event, error) {
	event, err := loadEvent(as, r)
	if err != nil {
		return nil, err
	}
	if !event.CanManage(currentUser(r)) {
		return nil, fmt.Errorf("%w: only the organizer can manage this event", model.ErrForbidden)
	}
	return event, nil
}

type EventReqBody struct {
	Title       string     `json:"title"       validate:"required,max=200"`
	Description string     `json:"description" validate:"max=5000"`
	Venue       string     `json:"venue"       validate:"max=300"`
	BannerURL   string     `json:"banner_url"  validate:"omitempty,url"`
	Start       flexString `json:"start"       validate:"required"`
	End         flexString `json:"end"         validate:"required"`
	Capacity    int        `json:"capacity"    validate:"gte=0"`
	RRule       string     `json:"rrule"`

	// only used on create
	Status string `json:"status" validate:"omitempty,oneof=draft published"`
}

func (body *EventReqBody) apply(as *utils.AppState, event *model.Event) error {
	now := time.Now()
	start, err := as.ParseDate(string(body.Start), now)
	if err != nil {
		return model.NewValidationError(model.FieldError{Field: "start", Error: "can't understand this date"})
	}
	// "2 hours" and friends are read relative to the start
	end, err := as.ParseDate(string(body.End), start)
	if err != nil {
		return model.NewValidationError(model.FieldError{Field: "end", Error: "can't understand this date"})
	}
	event.Title = body.Title
	event.Description = body.Description
	event.Venue = body.Venue
	event.BannerURL = body.BannerURL
	event.StartDateUnixUTC = start.Unix()
	event.EndDateUnixUTC = end.Unix()
	event.Capacity = body.Capacity
	event.RRule = body.RRule
	return nil
}

func eventLink(event *model.Event) string {
	return "/events/" + event.ID
}

type eventResp struct {
	model.EventSummary
	RegistrationStatus model.RegistrationStatus `json:"registration_status,omitempty"`
	CheckedIn          bool                     `json:"checked_in"`
}

func toIcalEvent(event *model.Event, hostname string) ical.Event {
	status := "CONFIRMED"
	switch event.Status {
	case model.EventStatusDraft:
		status = "TENTATIVE"
	case model.EventStatusCancelled:
		status = "CANCELLED"
	}
	icalEvent := ical.Event{
		ID:           event.ID,
		Summary:      event.Title,
		Description:  event.Description,
		Location:     event.Venue,
		URL:          hostname + eventLink(event),
		Status:       status,
		StartDate:    event.StartDateUnixUTC,
		EndDate:      event.EndDateUnixUTC,
		WholeDay:     event.IsWholeDay,
		RRule:        event.RRule,
		Sequence:     event.Sequence,
		Created:      event.CreatedAt,
		LastModified: event.UpdatedAt,
	}
	if event.Organizer != nil {
		if cn, err := ical.NewCommonName(event.Organizer.FullName(), event.Organizer.Email); err == nil {
			icalEvent.Organizer = cn
		}
	}
	return icalEvent
}

func writeCalendar(w http.ResponseWriter, filename string, calendar ical.Calendar) {
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.WriteHeader(http.StatusOK)
	if _, err := calendar.WriteTo(w); err != nil {
		slog.Warn("can't write response", "error", err)
	}
}

func Event(rt *router) {
	as := rt.as
	svc := rt.svc

	notifyRegistrants := func(ctx context.Context, event *model.Event, msg notify.Message) {
		userIDs, err := model.RegisteredUserIDs(ctx, as.BunDB, event.ID)
		if err != nil {
			slog.Error("can't list registrants", "event_id", event.ID, "error", err)
			return
		}
		svc.Dispatcher.Notify(ctx, userIDs, msg)
	}

	published := func(ctx context.Context, event *model.Event) {
		svc.Dispatcher.AnnounceEvent(ctx, event)
		stream.Emit(ctx, svc.Publisher, stream.NewEvent(stream.EventPublished, event.ID, event.OrganizerID,
			map[string]any{"title": event.Title, "start_date": event.StartDateUnixUTC}))
	}

	// create
	rt.handle("POST /events", OrganizerMiddleware(as, func(w http.ResponseWriter, r *http.Request) {
		var reqBody EventReqBody
		if err := decodeJSON(r, &reqBody); err != nil {
			writeError(w, err)
			return
		}
		event := &model.Event{
			OrganizerID: currentUser(r).ID,
			Status:      model.EventStatus(reqBody.Status),
		}
		if err := reqBody.apply(as, event); err != nil {
			writeError(w, err)
			return
		}
		startTimer := time.Now()
		if err := event.Upsert(r.Context(), as.BunDB); err != nil {
			writeError(w, err)
			return
		}
		as.MetricChans.ObserveDatabaseWrite(startTimer)
		if event.Status == model.EventStatusPublished {
			published(r.Context(), event)
		}
		writeJSON(w, http.StatusCreated, model.NewEventSummary(event, 0))
	}))

	// update
	rt.handle("PUT /events/{id}", AuthMiddleware(as, func(w http.ResponseWriter, r *http.Request) {
		event, err := loadManagedEvent(as, r)
		if err != nil {
			writeError(w, err)
			return
		}
		var reqBody EventReqBody
		if err := decodeJSON(r, &reqBody); err != nil {
			writeError(w, err)
			return
		}
		if err := reqBody.apply(as, event); err != nil {
			writeError(w, err)
			return
		}
		if event.Capacity > 0 {
			participants, err := model.CountParticipants(r.Context(), as.BunDB, event.ID)
			if err != nil {
				writeError(w, err)
				return
			}
			if participants > event.Capacity {
				writeError(w, model.NewValidationError(model.FieldError{
					Field: "capacity",
					Error: fmt.Sprintf("%d people are already registered", participants),
				}))
				return
			}
		}
		// the next reminder follows the new start date
		event.ReminderSent = false
		startTimer := time.Now()
		if err := event.Upsert(r.Context(), as.BunDB); err != nil {
			writeError(w, err)
			return
		}
		as.MetricChans.ObserveDatabaseWrite(startTimer)

		if event.Status == model.EventStatusPublished {
			notifyRegistrants(r.Context(), event, notify.Message{
				Kind:  model.NotificationKindEventUpdated,
				Title: "Event updated",
				Body:  fmt.Sprintf("%q has been updated, check the new details.", event.Title),
				Link:  eventLink(event),
			})
		}
		participants, err := model.CountParticipants(r.Context(), as.BunDB, event.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, model.NewEventSummary(event, participants))
	}))

	rt.handle("POST /events/{id}/publish", AuthMiddleware(as, func(w http.ResponseWriter, r *http.Request) {
		event, err := loadManagedEvent(as, r)
		if err != nil {
			writeError(w, err)
			return
		}
		if event.HasEnded(time.Now()) {
			writeError(w, fmt.Errorf("%w: event has already ended", model.ErrInvalidTransition))
			return
		}
		if err := event.Transition(r.Context(), as.BunDB, model.EventStatusPublished); err != nil {
			writeError(w, err)
			return
		}
		published(r.Context(), event)
		writeJSON(w, http.StatusOK, event)
	}))

	rt.handle("POST /events/{id}/cancel", AuthMiddleware(as, func(w http.ResponseWriter, r *http.Request) {
		event, err := loadManagedEvent(as, r)
		if err != nil {
			writeError(w, err)
			return
		}
		if err := event.Transition(r.Context(), as.BunDB, model.EventStatusCancelled); err != nil {
			writeError(w, err)
			return
		}
		notifyRegistrants(r.Context(), event, notify.Message{
			Kind:  model.NotificationKindEventCancel,
			Title: "Event cancelled",
			Body:  fmt.Sprintf("%q has been cancelled.", event.Title),
			Link:  eventLink(event),
			Email: true,
		})
		stream.Emit(r.Context(), svc.Publisher, stream.NewEvent(stream.EventCancelled, event.ID, currentUser(r).ID, nil))
		writeJSON(w, http.StatusOK, event)
	}))

	// soft delete
	rt.handle("DELETE /events/{id}", AuthMiddleware(as, func(w http.ResponseWriter, r *http.Request) {
		event, err := loadManagedEvent(as, r)
		if err != nil {
			writeError(w, err)
			return
		}
		if err := event.SetArchived(r.Context(), as.BunDB, true); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	// browse
	rt.handle("GET /events", func(w http.ResponseWriter, r *http.Request) {
		filter, p, err := parseEventFilter(as, r)
		if err != nil {
			writeError(w, err)
			return
		}
		switch filter.Status {
		case "":
			filter.Status = model.EventStatusPublished
		case model.EventStatusDraft:
			writeError(w, fmt.Errorf("%w: drafts are not listed", errBadRequest))
			return
		}
		filter.Archived = nil

		startTimer := time.Now()
		events, total, err := model.ListEvents(r.Context(), as.BunDB, filter)
		if err != nil {
			writeError(w, err)
			return
		}
		as.MetricChans.ObserveDatabaseRead(startTimer)
		writeJSON(w, http.StatusOK, newListResp(events, total, p))
	})

	rt.handle("GET /events/{id}", OptionalAuthMiddleware(as, func(w http.ResponseWriter, r *http.Request) {
		event, err := loadEvent(as, r)
		if err != nil {
			writeError(w, err)
			return
		}
		participants, err := model.CountParticipants(r.Context(), as.BunDB, event.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		resp := eventResp{EventSummary: model.NewEventSummary(event, participants)}
		if user := currentUser(r); user != nil {
			registration, err := model.GetRegistration(r.Context(), as.BunDB, event.ID, user.ID)
			switch {
			case err == nil:
				resp.RegistrationStatus = registration.Status
			case !errors.Is(err, model.ErrNotFound):
				writeError(w, err)
				return
			}
			if resp.CheckedIn, err = model.HasAttended(r.Context(), as.BunDB, event.ID, user.ID); err != nil {
				writeError(w, err)
				return
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}))

	rt.handle("GET /events/{id}/occurrences", OptionalAuthMiddleware(as, func(w http.ResponseWriter, r *http.Request) {
		event, err := loadEvent(as, r)
		if err != nil {
			writeError(w, err)
			return
		}
		now := time.Now()
		from, to := now, now.AddDate(0, 3, 0)
		if raw := r.URL.Query().Get("from"); raw != "" {
			if from, err = as.ParseDate(raw, now); err != nil {
				writeError(w, fmt.Errorf("%w: can't understand from", errBadRequest))
				return
			}
		}
		if raw := r.URL.Query().Get("to"); raw != "" {
			if to, err = as.ParseDate(raw, from); err != nil {
				writeError(w, fmt.Errorf("%w: can't understand to", errBadRequest))
				return
			}
		}
		if to.Before(from) {
			writeError(w, fmt.Errorf("%w: to must be after from", errBadRequest))
			return
		}
		occurrences, err := event.Occurrences(from, to)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, occurrences)
	}))

	rt.handle("GET /events/{id}/ical", OptionalAuthMiddleware(as, func(w http.ResponseWriter, r *http.Request) {
		event, err := loadEvent(as, r)
		if err != nil {
			writeError(w, err)
			return
		}
		calendar := ical.NewCalendar(event.Title)
		calendar.AddEvent(toIcalEvent(event, as.Config.GetHostname()))
		writeCalendar(w, event.ID+".ics", calendar)
	}))

	// everything the caller is registered for or organises
	rt.handle("GET /me/calendar.ics", AuthMiddleware(as, func(w http.ResponseWriter, r *http.Request) {
		user := currentUser(r)
		calendar := ical.NewCalendar("GanApp - " + user.FullName())
		calendar.SetDescription("Events you registered for or organise on GanApp")

		seen := make(map[string]struct{})
		registrations, err := model.ListUserRegistrations(r.Context(), as.BunDB, user.ID, false)
		if err != nil {
			writeError(w, err)
			return
		}
		for _, registration := range registrations {
			if registration.Event == nil || registration.Event.IsArchived() {
				continue
			}
			seen[registration.EventID] = struct{}{}
			calendar.AddEvent(toIcalEvent(registration.Event, as.Config.GetHostname()))
		}
		if user.Role.CanOrganize() {
			organised, _, err := model.ListEvents(r.Context(), as.BunDB, model.EventFilter{OrganizerID: user.ID})
			if err != nil {
				writeError(w, err)
				return
			}
			for _, summary := range organised {
				if _, ok := seen[summary.ID]; ok {
					continue
				}
				calendar.AddEvent(toIcalEvent(summary.Event, as.Config.GetHostname()))
			}
		}
		writeCalendar(w, "ganapp.ics", calendar)
	}))

	rt.handle("GET /me/events", OrganizerMiddleware(as, func(w http.ResponseWriter, r *http.Request) {
		filter, p, err := parseEventFilter(as, r)
		if err != nil {
			writeError(w, err)
			return
		}
		filter.OrganizerID = currentUser(r).ID
		events, total, err := model.ListEvents(r.Context(), as.BunDB, filter)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newListResp(events, total, p))
	}))
}

// Query params shared by the browse and admin event tables.
func parseEventFilter(as *utils.AppState, r *http.Request) (model.EventFilter, page, error) {
	p, err := parsePage(r)
	if err != nil {
		return model.EventFilter{}, p, err
	}
	query := r.URL.Query()
	filter := model.EventFilter{
		Query:  query.Get("q"),
		Status: model.EventStatus(query.Get("status")),
		Sort:   query.Get("sort"),
		Desc:   parseOrder(r),
		Limit:  p.Limit,
		Offset: p.Offset,
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return filter, p, fmt.Errorf("%w: unknown status %q", errBadRequest, filter.Status)
	}
	now := time.Now()
	if raw := query.Get("from"); raw != "" {
		from, err := as.ParseDate(raw, now)
		if err != nil {
			return filter, p, fmt.Errorf("%w: can't understand from", errBadRequest)
		}
		filter.From = from.Unix()
	}
	if raw := query.Get("to"); raw != "" {
		to, err := as.ParseDate(raw, now)
		if err != nil {
			return filter, p, fmt.Errorf("%w: can't understand to", errBadRequest)
		}
		filter.To = to.Unix()
	}
	switch query.Get("archived") {
	case "":
	case "true":
		archived := true
		filter.Archived = &archived
	case "false":
		archived := false
		filter.Archived = &archived
	default:
		return filter, p, fmt.Errorf("%w: archived must be true or false", errBadRequest)
	}
	return filter, p, nil
}
