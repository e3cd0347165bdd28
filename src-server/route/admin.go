package route

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ganapp/src-server/model"
	"ganapp/src-server/notify"
)

const maxBanDuration = 10 * 365 * 24 * time.Hour

// "72h", "30m" or a plain number of days. Never longer than maxBanDuration.
func parseBanDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if days, err := strconv.Atoi(raw); err == nil {
		if days < 1 {
			return 0, fmt.Errorf("must be at least one day")
		}
		// clamp before multiplying, a large day count overflows Duration
		days = min(days, int(maxBanDuration/(24*time.Hour)))
		return time.Duration(days) * 24 * time.Hour, nil
	}
	duration, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("must be a duration like 72h or a number of days")
	}
	if duration <= 0 {
		return 0, fmt.Errorf("must be positive")
	}
	return min(duration, maxBanDuration), nil
}

func Admin(rt *router) {
	as := rt.as
	svc := rt.svc

	audit := func(r *http.Request, action, targetType, targetID, detail string) {
		if err := model.WriteAudit(r.Context(), as.BunDB, currentUser(r).ID, action, targetType, targetID, detail); err != nil {
			slog.Error("can't write audit log", "action", action, "error", err)
		}
	}

	// loads the target user and refuses to act on the caller's own account
	loadTarget := func(r *http.Request, selfCheck bool) (*model.User, error) {
		target, err := model.GetUser(r.Context(), as.BunDB, r.PathValue("id"))
		if err != nil {
			return nil, err
		}
		if selfCheck {
			if err := model.CheckSelfModeration(currentUser(r), target); err != nil {
				return nil, err
			}
		}
		return target, nil
	}

	rt.handle("GET /admin/users", AdminMiddleware(as, func(w http.ResponseWriter, r *http.Request) {
		p, err := parsePage(r)
		if err != nil {
			writeError(w, err)
			return
		}
		query := r.URL.Query()
		filter := model.UserFilter{
			Query:  query.Get("q"),
			Role:   model.Role(query.Get("role")),
			Status: query.Get("status"),
			Sort:   query.Get("sort"),
			Desc:   parseOrder(r),
			Limit:  p.Limit,
			Offset: p.Offset,
		}
		if filter.Role != "" && !filter.Role.Valid() {
			writeError(w, fmt.Errorf("%w: unknown role %q", errBadRequest, filter.Role))
			return
		}
		startTimer := time.Now()
		users, total, err := model.ListUsers(r.Context(), as.BunDB, filter, time.Now())
		if err != nil {
			writeError(w, err)
			return
		}
		as.MetricChans.ObserveDatabaseRead(startTimer)
		writeJSON(w, http.StatusOK, newListResp(users, total, p))
	}))

	type BanReqBody struct {
		Duration flexString `json:"duration" validate:"required"`
		Reason   string     `json:"reason"   validate:"max=500"`
	}

	rt.handle("POST /admin/users/{id}/ban", AdminMiddleware(as, func(w http.ResponseWriter, r *http.Request) {
		target, err := loadTarget(r, true)
		if err != nil {
			writeError(w, err)
			return
		}
		var reqBody BanReqBody
		if err := decodeJSON(r, &reqBody); err != nil {
			writeError(w, err)
			return
		}
		duration, err := parseBanDuration(string(reqBody.Duration))
		if err != nil {
			writeError(w, model.NewValidationError(model.FieldError{Field: "duration", Error: err.Error()}))
			return
		}
		until := time.Now().Add(duration)
		if err := target.Ban(r.Context(), as.BunDB, until, reqBody.Reason); err != nil {
			writeError(w, err)
			return
		}
		audit(r, "user.ban", "user", target.ID, fmt.Sprintf("until %d: %s", target.BannedUntil, target.BanReason))
		svc.Dispatcher.Notify(r.Context(), []string{target.ID}, notify.Message{
			Kind:  model.NotificationKindAccount,
			Title: "Your account has been suspended",
			Body: fmt.Sprintf("Your account is suspended until %s. Reason: %s",
				until.In(as.Config.GetLocation()).Format(time.RFC1123), target.BanReason),
			Email: true,
		})
		writeJSON(w, http.StatusOK, model.UserRow{User: *target, Status: target.Status(time.Now())})
	}))

	rt.handle("POST /admin/users/{id}/unban", AdminMiddleware(as, func(w http.ResponseWriter, r *http.Request) {
		target, err := loadTarget(r, true)
		if err != nil {
			writeError(w, err)
			return
		}
		if err := target.Unban(r.Context(), as.BunDB); err != nil {
			writeError(w, err)
			return
		}
		audit(r, "user.unban", "user", target.ID, "")
		writeJSON(w, http.StatusOK, model.UserRow{User: *target, Status: target.Status(time.Now())})
	}))

	type RoleReqBody struct {
		Role string `json:"role" validate:"required,oneof=participant organizer admin"`
	}

	rt.handle("PUT /admin/users/{id}/role", AdminMiddleware(as, func(w http.ResponseWriter, r *http.Request) {
		target, err := loadTarget(r, true)
		if err != nil {
			writeError(w, err)
			return
		}
		var reqBody RoleReqBody
		if err := decodeJSON(r, &reqBody); err != nil {
			writeError(w, err)
			return
		}
		previous := target.Role
		if err := target.SetRole(r.Context(), as.BunDB, model.Role(reqBody.Role)); err != nil {
			writeError(w, err)
			return
		}
		audit(r, "user.role", "user", target.ID, fmt.Sprintf("%s -> %s", previous, target.Role))
		if previous != target.Role {
			svc.Dispatcher.Notify(r.Context(), []string{target.ID}, notify.Message{
				Kind:  model.NotificationKindAccount,
				Title: "Your role has changed",
				Body:  fmt.Sprintf("You are now a%s %s.", article(string(target.Role)), target.Role),
			})
		}
		writeJSON(w, http.StatusOK, model.UserRow{User: *target, Status: target.Status(time.Now())})
	}))

	setUserArchived := func(archived bool) func(http.ResponseWriter, *http.Request) {
		return func(w http.ResponseWriter, r *http.Request) {
			target, err := loadTarget(r, true)
			if err != nil {
				writeError(w, err)
				return
			}
			if err := target.SetArchived(r.Context(), as.BunDB, archived); err != nil {
				writeError(w, err)
				return
			}
			action := "user.unarchive"
			if archived {
				action = "user.archive"
			}
			audit(r, action, "user", target.ID, "")
			writeJSON(w, http.StatusOK, model.UserRow{User: *target, Status: target.Status(time.Now())})
		}
	}
	rt.handle("POST /admin/users/{id}/archive", AdminMiddleware(as, setUserArchived(true)))
	rt.handle("POST /admin/users/{id}/unarchive", AdminMiddleware(as, setUserArchived(false)))

	// every event, drafts and archived included
	rt.handle("GET /admin/events", AdminMiddleware(as, func(w http.ResponseWriter, r *http.Request) {
		filter, p, err := parseEventFilter(as, r)
		if err != nil {
			writeError(w, err)
			return
		}
		filter.OrganizerID = r.URL.Query().Get("organizer_id")
		filter.IncludeArchived = true
		startTimer := time.Now()
		events, total, err := model.ListEvents(r.Context(), as.BunDB, filter)
		if err != nil {
			writeError(w, err)
			return
		}
		as.MetricChans.ObserveDatabaseRead(startTimer)
		writeJSON(w, http.StatusOK, newListResp(events, total, p))
	}))

	setEventArchived := func(archived bool) func(http.ResponseWriter, *http.Request) {
		return func(w http.ResponseWriter, r *http.Request) {
			event, err := model.GetEvent(r.Context(), as.BunDB, r.PathValue("id"))
			if err != nil {
				writeError(w, err)
				return
			}
			if err := event.SetArchived(r.Context(), as.BunDB, archived); err != nil {
				writeError(w, err)
				return
			}
			action := "event.unarchive"
			if archived {
				action = "event.archive"
			}
			audit(r, action, "event", event.ID, event.Title)
			writeJSON(w, http.StatusOK, event)
		}
	}
	rt.handle("POST /admin/events/{id}/archive", AdminMiddleware(as, setEventArchived(true)))
	rt.handle("POST /admin/events/{id}/unarchive", AdminMiddleware(as, setEventArchived(false)))

	rt.handle("GET /admin/stats", AdminMiddleware(as, func(w http.ResponseWriter, r *http.Request) {
		stats, err := model.GetStats(r.Context(), as.BunDB, time.Now())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}))

	type orphansResp struct {
		*model.Orphans
		Total int `json:"total"`
	}

	rt.handle("GET /admin/orphans", AdminMiddleware(as, func(w http.ResponseWriter, r *http.Request) {
		orphans, err := model.FindOrphans(r.Context(), as.BunDB)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, orphansResp{Orphans: orphans, Total: orphans.Total()})
	}))

	rt.handle("DELETE /admin/orphans", AdminMiddleware(as, func(w http.ResponseWriter, r *http.Request) {
		orphans, err := model.PurgeOrphans(r.Context(), as.BunDB)
		if err != nil {
			writeError(w, err)
			return
		}
		audit(r, "orphans.purge", "", "", strconv.Itoa(orphans.Total()))
		writeJSON(w, http.StatusOK, orphansResp{Orphans: orphans, Total: orphans.Total()})
	}))

	rt.handle("GET /admin/audit", AdminMiddleware(as, func(w http.ResponseWriter, r *http.Request) {
		p, err := parsePage(r)
		if err != nil {
			writeError(w, err)
			return
		}
		logs, total, err := model.ListAudit(r.Context(), as.BunDB, p.Limit, p.Offset)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newListResp(logs, total, p))
	}))
}

func article(word string) string {
	if word != "" && strings.ContainsRune("aeiou", rune(word[0])) {
		return "n"
	}
	return ""
}
