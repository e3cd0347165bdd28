package route

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"ganapp/src-server/certificate"
	"ganapp/src-server/model"
	"ganapp/src-server/notify"
	"ganapp/src-server/stream"

	"github.com/uptrace/bun"
)

type verifyResp struct {
	Valid      bool   `json:"valid"`
	Code       string `json:"code"`
	Name       string `json:"name"`
	EventID    string `json:"event_id"`
	EventTitle string `json:"event_title"`
	IssuedAt   int64  `json:"issued_at"`
}

func Certificate(rt *router) {
	as := rt.as
	svc := rt.svc

	rt.handle("GET /events/{id}/certificate/eligibility", AuthMiddleware(as, func(w http.ResponseWriter, r *http.Request) {
		event, err := loadEvent(as, r)
		if err != nil {
			writeError(w, err)
			return
		}
		eligibility, err := model.CheckEligibility(r.Context(), as.BunDB, event, currentUser(r).ID, time.Now())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, eligibility)
	}))

	// issue, or return the one already issued
	rt.handle("POST /events/{id}/certificate", AuthMiddleware(as, func(w http.ResponseWriter, r *http.Request) {
		event, err := loadEvent(as, r)
		if err != nil {
			writeError(w, err)
			return
		}
		user := currentUser(r)
		var (
			cert    *model.Certificate
			created bool
		)
		if err := as.BunDB.RunInTx(r.Context(), &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
			var err error
			cert, created, err = model.IssueCertificate(ctx, tx, event, user.ID)
			return err
		}); err != nil {
			writeError(w, err)
			return
		}

		status := http.StatusOK
		if created {
			status = http.StatusCreated
			svc.Dispatcher.Notify(r.Context(), []string{user.ID}, notify.Message{
				Kind:  model.NotificationKindCertificate,
				Title: "Your certificate is ready",
				Body:  fmt.Sprintf("Your certificate for %q has been issued. Verification code: %s", event.Title, cert.Code),
				Link:  "/certificates/" + cert.ID,
				Email: true,
			})
			stream.Emit(r.Context(), svc.Publisher, stream.NewEvent(stream.CertificateIssued, event.ID, user.ID,
				map[string]any{"code": cert.Code}))
		}
		writeJSON(w, status, cert)
	}))

	rt.handle("GET /certificates/{id}", AuthMiddleware(as, func(w http.ResponseWriter, r *http.Request) {
		cert, err := model.GetCertificate(r.Context(), as.BunDB, r.PathValue("id"))
		if err != nil {
			writeError(w, err)
			return
		}
		user := currentUser(r)
		if cert.UserID != user.ID && user.Role != model.RoleAdmin {
			writeError(w, fmt.Errorf("certificate %w", model.ErrNotFound))
			return
		}
		if r.URL.Query().Get("format") == "json" {
			writeJSON(w, http.StatusOK, cert)
			return
		}
		view, err := certificate.NewView(cert, as.Config.GetHostname(), as.Config.GetLocation())
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		if err := certificate.Render(w, view); err != nil {
			slog.Warn("can't write response", "error", err)
		}
	}))

	// public
	rt.handle("GET /certificates/verify/{code}", func(w http.ResponseWriter, r *http.Request) {
		cert, err := model.GetCertificateByCode(r.Context(), as.BunDB, r.PathValue("code"))
		if err != nil {
			writeError(w, err)
			return
		}
		resp := verifyResp{Valid: true, Code: cert.Code, EventID: cert.EventID, IssuedAt: cert.IssuedAt}
		if cert.User != nil {
			resp.Name = cert.User.FullName()
		}
		if cert.Event != nil {
			resp.EventTitle = cert.Event.Title
		}
		writeJSON(w, http.StatusOK, resp)
	})

	rt.handle("GET /me/certificates", AuthMiddleware(as, func(w http.ResponseWriter, r *http.Request) {
		certs, err := model.ListUserCertificates(r.Context(), as.BunDB, currentUser(r).ID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, certs)
	}))
}
