package route

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"ganapp/src-server/jwt"
	"ganapp/src-server/model"
	"ganapp/src-server/utils"
)

type UserCtxKeyType string

const (
	UserCtxKey              UserCtxKeyType = "user"
	SessionSecretCookieName string         = "session-secret"
)

// Token from "Authorization: Bearer ..." or the session cookie.
func tokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	// browsers can't set headers on websocket upgrades
	if token := r.URL.Query().Get("token"); token != "" && r.Header.Get("Upgrade") != "" {
		return token
	}
	if cookie, err := r.Cookie(SessionSecretCookieName); err == nil {
		return strings.TrimSpace(cookie.Value)
	}
	return ""
}

// Resolves the caller. Nil user and nil error when no token was sent.
func authenticate(as *utils.AppState, r *http.Request) (*model.User, error) {
	token := tokenFromRequest(r)
	if token == "" {
		return nil, nil
	}
	payload, err := jwt.Decode(token, as.Config.GetJWTSecret())
	if err != nil {
		return nil, err
	}

	startTimer := time.Now()
	user, err := model.GetUser(r.Context(), as.BunDB, payload.UserID())
	switch {
	case errors.Is(err, model.ErrNotFound):
		return nil, jwt.ErrInvalidToken
	case err != nil:
		return nil, err
	}
	as.MetricChans.ObserveDatabaseRead(startTimer)

	// the user is re-read every time so bans apply right away
	if err := user.CanSignIn(time.Now()); err != nil {
		return nil, err
	}
	return user, nil
}

func AuthMiddleware(as *utils.AppState, next func(http.ResponseWriter, *http.Request)) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := authenticate(as, r)
		switch {
		case err != nil:
			writeError(w, err)
			return
		case user == nil:
			writeErrorMessage(w, http.StatusUnauthorized, "not signed in")
			return
		}
		ctx := context.WithValue(r.Context(), UserCtxKey, user)
		next(w, r.WithContext(ctx))
	}
}

// Like AuthMiddleware but lets anonymous callers through. A bad token is
// still rejected.
func OptionalAuthMiddleware(as *utils.AppState, next func(http.ResponseWriter, *http.Request)) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := authenticate(as, r)
		if err != nil {
			writeError(w, err)
			return
		}
		if user != nil {
			r = r.WithContext(context.WithValue(r.Context(), UserCtxKey, user))
		}
		next(w, r)
	}
}

func RoleMiddleware(as *utils.AppState, roles []model.Role, next func(http.ResponseWriter, *http.Request)) func(http.ResponseWriter, *http.Request) {
	return AuthMiddleware(as, func(w http.ResponseWriter, r *http.Request) {
		user := currentUser(r)
		for _, role := range roles {
			if user.Role == role {
				next(w, r)
				return
			}
		}
		writeErrorMessage(w, http.StatusForbidden, "forbidden")
	})
}

func AdminMiddleware(as *utils.AppState, next func(http.ResponseWriter, *http.Request)) func(http.ResponseWriter, *http.Request) {
	return RoleMiddleware(as, []model.Role{model.RoleAdmin}, next)
}

func OrganizerMiddleware(as *utils.AppState, next func(http.ResponseWriter, *http.Request)) func(http.ResponseWriter, *http.Request) {
	return RoleMiddleware(as, []model.Role{model.RoleOrganizer, model.RoleAdmin}, next)
}

// Nil for anonymous callers of optional-auth routes.
func currentUser(r *http.Request) *model.User {
	user, _ := r.Context().Value(UserCtxKey).(*model.User)
	return user
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(status int) {
	if rec.status == 0 {
		rec.status = status
	}
	rec.ResponseWriter.WriteHeader(status)
}

func (rec *statusRecorder) Write(b []byte) (int, error) {
	if rec.status == 0 {
		rec.status = http.StatusOK
	}
	return rec.ResponseWriter.Write(b)
}

// websocket upgrades need the underlying connection
func (rec *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := rec.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer can't be hijacked")
	}
	rec.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func (rec *statusRecorder) Unwrap() http.ResponseWriter {
	return rec.ResponseWriter
}

// Logs the request and feeds the request counter, labelled by route pattern.
func instrument(as *utils.AppState, pattern string, next func(http.ResponseWriter, *http.Request)) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next(rec, r)
		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		latency := time.Since(start)
		as.MetricChans.ObserveHTTPRequest(pattern, rec.status, latency)
		slog.Debug("request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "latency", latency)
	}
}
