package route

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"ganapp/src-server/jwt"
	"ganapp/src-server/model"

	"github.com/uptrace/bun"
)

type authResp struct {
	Token     string      `json:"token"`
	ExpiresAt int64       `json:"expires_at"`
	User      *model.User `json:"user"`
}

func Auth(rt *router) {
	as := rt.as

	issue := func(w http.ResponseWriter, status int, user *model.User) {
		ttl := as.Config.GetJWTExpire()
		token, err := jwt.Encode(user.ID, string(user.Role), ttl, as.Config.GetJWTSecret())
		if err != nil {
			writeError(w, err)
			return
		}
		expiresAt := time.Now().Add(ttl)
		cookie := &http.Cookie{
			Name:     SessionSecretCookieName,
			Value:    token,
			Path:     "/",
			Expires:  expiresAt,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
			Secure:   !as.Config.GetDev(),
		}
		http.SetCookie(w, cookie)
		writeJSON(w, status, authResp{Token: token, ExpiresAt: expiresAt.Unix(), User: user})
	}

	type RegisterReqBody struct {
		Email     string `json:"email"      validate:"required,email"`
		Password  string `json:"password"   validate:"required,min=8,max=72"`
		FirstName string `json:"first_name" validate:"required,max=100"`
		LastName  string `json:"last_name"  validate:"required,max=100"`
	}

	// sign up
	rt.handle("POST /auth/register", func(w http.ResponseWriter, r *http.Request) {
		var reqBody RegisterReqBody
		if err := decodeJSON(r, &reqBody); err != nil {
			writeError(w, err)
			return
		}

		user := &model.User{
			Email:     reqBody.Email,
			FirstName: reqBody.FirstName,
			LastName:  reqBody.LastName,
			Role:      model.RoleParticipant,
		}
		if err := user.SetPassword(reqBody.Password); err != nil {
			writeError(w, err)
			return
		}
		startTimer := time.Now()
		if err := as.BunDB.RunInTx(r.Context(), &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
			return user.Create(ctx, tx)
		}); err != nil {
			writeError(w, err)
			return
		}
		as.MetricChans.ObserveDatabaseWrite(startTimer)
		issue(w, http.StatusCreated, user)
	})

	type LoginReqBody struct {
		Email    string `json:"email"    validate:"required"`
		Password string `json:"password" validate:"required"`
	}

	// login
	rt.handle("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		var reqBody LoginReqBody
		if err := decodeJSON(r, &reqBody); err != nil {
			writeError(w, err)
			return
		}
		user, err := model.Authenticate(r.Context(), as.BunDB, reqBody.Email, reqBody.Password)
		if err != nil {
			writeError(w, err)
			return
		}
		issue(w, http.StatusOK, user)
	})

	rt.handle("GET /auth/me", AuthMiddleware(as, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, currentUser(r))
	}))

	// logout, tokens are stateless so only the cookie goes away
	rt.handle("DELETE /auth", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{
			Name:     SessionSecretCookieName,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
		w.WriteHeader(http.StatusNoContent)
	})
}
