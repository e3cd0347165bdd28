package route

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"ganapp/src-server/model"
	"ganapp/src-server/stream"

	"github.com/uptrace/bun"
)

type checkInResp struct {
	Attendance       *model.Attendance `json:"attendance"`
	User             *model.User       `json:"user"`
	AlreadyCheckedIn bool              `json:"already_checked_in"`
}

func CheckIn(rt *router) {
	as := rt.as
	svc := rt.svc

	// the caller's own check-in code
	rt.handle("GET /events/{id}/qr", AuthMiddleware(as, func(w http.ResponseWriter, r *http.Request) {
		event, err := loadEvent(as, r)
		if err != nil {
			writeError(w, err)
			return
		}
		user := currentUser(r)
		registration, err := model.GetRegistration(r.Context(), as.BunDB, event.ID, user.ID)
		switch {
		case err != nil:
			writeError(w, model.ErrNotRegistered)
			return
		case !registration.IsActive():
			writeError(w, model.ErrNotRegistered)
			return
		}
		qrCode, _, err := model.GetOrCreateQRCode(r.Context(), as.BunDB, user.ID, model.QRCodeKindEventCheckIn, event.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeQRCode(w, r, qrCode)
	}))

	type CheckInReqBody struct {
		Payload string `json:"payload" validate:"required"`
	}

	// scan
	rt.handle("POST /events/{id}/checkin", AuthMiddleware(as, func(w http.ResponseWriter, r *http.Request) {
		event, err := loadManagedEvent(as, r)
		if err != nil {
			writeError(w, err)
			return
		}
		var reqBody CheckInReqBody
		if err := decodeJSON(r, &reqBody); err != nil {
			writeError(w, err)
			return
		}

		var (
			attendance *model.Attendance
			already    bool
			user       *model.User
		)
		startTimer := time.Now()
		if err := as.BunDB.RunInTx(r.Context(), &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
			userID, err := model.ResolveCheckInPayload(ctx, tx, event.ID, reqBody.Payload)
			if err != nil {
				return err
			}
			if user, err = model.GetUser(ctx, tx, userID); err != nil {
				return fmt.Errorf("%w: owner no longer exists", model.ErrInvalidQRCode)
			}
			attendance, already, err = model.RecordAttendance(ctx, tx, event, userID, currentUser(r).ID)
			return err
		}); err != nil {
			writeError(w, err)
			return
		}
		as.MetricChans.ObserveDatabaseWrite(startTimer)

		if !already {
			as.MetricChans.ObserveCheckIn()
			stream.Emit(r.Context(), svc.Publisher, stream.NewEvent(stream.AttendanceRecorded, event.ID, user.ID,
				map[string]any{"checked_in_by": attendance.CheckedInBy}))
		}
		writeJSON(w, http.StatusOK, checkInResp{Attendance: attendance, User: user, AlreadyCheckedIn: already})
	}))

	rt.handle("GET /events/{id}/attendance", AuthMiddleware(as, func(w http.ResponseWriter, r *http.Request) {
		event, err := loadManagedEvent(as, r)
		if err != nil {
			writeError(w, err)
			return
		}
		attendances, err := model.ListAttendance(r.Context(), as.BunDB, event.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, attendances)
	}))
}
