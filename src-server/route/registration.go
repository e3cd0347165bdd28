package route

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"ganapp/src-server/model"
	"ganapp/src-server/notify"
	"ganapp/src-server/stream"

	"github.com/uptrace/bun"
)

func Registration(rt *router) {
	as := rt.as
	svc := rt.svc

	rt.handle("POST /events/{id}/register", AuthMiddleware(as, func(w http.ResponseWriter, r *http.Request) {
		event, err := loadEvent(as, r)
		if err != nil {
			writeError(w, err)
			return
		}
		user := currentUser(r)

		var registration *model.Registration
		startTimer := time.Now()
		// the capacity check and the insert must see the same rows
		if err := as.BunDB.RunInTx(r.Context(), &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
			var err error
			registration, err = model.Register(ctx, tx, event, user)
			return err
		}); err != nil {
			writeError(w, err)
			return
		}
		as.MetricChans.ObserveDatabaseWrite(startTimer)

		svc.Dispatcher.Notify(r.Context(), []string{user.ID}, notify.Message{
			Kind:  model.NotificationKindRegistration,
			Title: "Registration confirmed",
			Body: fmt.Sprintf("You're registered for %q on %s.", event.Title,
				time.Unix(event.StartDateUnixUTC, 0).In(as.Config.GetLocation()).Format("Mon, 02 Jan 2006 15:04")),
			Link:  eventLink(event),
			Email: true,
		})
		stream.Emit(r.Context(), svc.Publisher, stream.NewEvent(stream.RegistrationCreated, event.ID, user.ID, nil))
		writeJSON(w, http.StatusCreated, registration)
	}))

	rt.handle("DELETE /events/{id}/register", AuthMiddleware(as, func(w http.ResponseWriter, r *http.Request) {
		eventID := r.PathValue("id")
		user := currentUser(r)
		var registration *model.Registration
		if err := as.BunDB.RunInTx(r.Context(), &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
			var err error
			registration, err = model.CancelRegistration(ctx, tx, eventID, user.ID)
			return err
		}); err != nil {
			writeError(w, err)
			return
		}
		stream.Emit(r.Context(), svc.Publisher, stream.NewEvent(stream.RegistrationCancelled, eventID, user.ID, nil))
		writeJSON(w, http.StatusOK, registration)
	}))

	rt.handle("GET /events/{id}/participants", AuthMiddleware(as, func(w http.ResponseWriter, r *http.Request) {
		event, err := loadManagedEvent(as, r)
		if err != nil {
			writeError(w, err)
			return
		}
		sort := r.URL.Query().Get("sort")
		if sort != "" && sort != "name" && sort != "registered_at" {
			writeError(w, fmt.Errorf("%w: sort must be name or registered_at", errBadRequest))
			return
		}
		startTimer := time.Now()
		participants, err := model.ListParticipants(r.Context(), as.BunDB, event.ID, model.ParticipantFilter{
			Query: r.URL.Query().Get("q"),
			Sort:  sort,
			Desc:  parseOrder(r),
		})
		if err != nil {
			writeError(w, err)
			return
		}
		as.MetricChans.ObserveDatabaseRead(startTimer)
		writeJSON(w, http.StatusOK, participants)
	}))

	type myRegistration struct {
		model.Registration
		Event model.EventSummary `json:"event"`
	}

	rt.handle("GET /me/registrations", AuthMiddleware(as, func(w http.ResponseWriter, r *http.Request) {
		includeCancelled := r.URL.Query().Get("include_cancelled") == "true"
		registrations, err := model.ListUserRegistrations(r.Context(), as.BunDB, currentUser(r).ID, includeCancelled)
		if err != nil {
			writeError(w, err)
			return
		}
		resp := make([]myRegistration, 0, len(registrations))
		for _, registration := range registrations {
			if registration.Event == nil {
				continue
			}
			participants, err := model.CountParticipants(r.Context(), as.BunDB, registration.EventID)
			if err != nil {
				writeError(w, err)
				return
			}
			resp = append(resp, myRegistration{
				Registration: registration,
				Event:        model.NewEventSummary(registration.Event, participants),
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}))
}
