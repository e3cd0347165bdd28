package route

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"ganapp/src-server/model"
	"ganapp/src-server/qr"
)

// Writes the code as a PNG, or as JSON with ?format=json.
func writeQRCode(w http.ResponseWriter, r *http.Request, qrCode *model.QRCode) {
	if r.URL.Query().Get("format") == "json" {
		writeJSON(w, http.StatusOK, qrCode)
		return
	}
	size := qr.DefaultSize
	if raw := r.URL.Query().Get("size"); raw != "" {
		var err error
		if size, err = strconv.Atoi(raw); err != nil {
			writeError(w, fmt.Errorf("%w: size must be a number", errBadRequest))
			return
		}
	}
	png, err := qr.PNG(qrCode.Payload, size)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %s", errBadRequest, err.Error()))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(png); err != nil {
		slog.Warn("can't write response", "error", err)
	}
}

type publicProfile struct {
	ID          string     `json:"id"`
	FirstName   string     `json:"first_name"`
	LastName    string     `json:"last_name"`
	Affiliation string     `json:"affiliation"`
	AvatarURL   string     `json:"avatar_url"`
	Role        model.Role `json:"role"`
}

func Profile(rt *router) {
	as := rt.as

	type ProfileReqBody struct {
		FirstName     string `json:"first_name"     validate:"required,max=100"`
		LastName      string `json:"last_name"      validate:"required,max=100"`
		Affiliation   string `json:"affiliation"    validate:"max=200"`
		ContactNumber string `json:"contact_number" validate:"omitempty,max=32"`
		AvatarURL     string `json:"avatar_url"     validate:"omitempty,url"`
	}

	// profile setup
	rt.handle("PUT /profile", AuthMiddleware(as, func(w http.ResponseWriter, r *http.Request) {
		var reqBody ProfileReqBody
		if err := decodeJSON(r, &reqBody); err != nil {
			writeError(w, err)
			return
		}
		user := currentUser(r)
		user.FirstName = reqBody.FirstName
		user.LastName = reqBody.LastName
		user.Affiliation = reqBody.Affiliation
		user.ContactNumber = reqBody.ContactNumber
		user.AvatarURL = reqBody.AvatarURL

		startTimer := time.Now()
		if err := user.Update(r.Context(), as.BunDB); err != nil {
			writeError(w, err)
			return
		}
		as.MetricChans.ObserveDatabaseWrite(startTimer)
		writeJSON(w, http.StatusOK, user)
	}))

	rt.handle("GET /profile/qr", AuthMiddleware(as, func(w http.ResponseWriter, r *http.Request) {
		qrCode, _, err := model.GetOrCreateQRCode(r.Context(), as.BunDB, currentUser(r).ID, model.QRCodeKindProfile, "")
		if err != nil {
			writeError(w, err)
			return
		}
		writeQRCode(w, r, qrCode)
	}))

	rt.handle("GET /users/{id}", AuthMiddleware(as, func(w http.ResponseWriter, r *http.Request) {
		user, err := model.GetUser(r.Context(), as.BunDB, r.PathValue("id"))
		if err != nil {
			writeError(w, err)
			return
		}
		if user.IsArchived() && currentUser(r).Role != model.RoleAdmin {
			writeError(w, fmt.Errorf("user %w", model.ErrNotFound))
			return
		}
		writeJSON(w, http.StatusOK, publicProfile{
			ID:          user.ID,
			FirstName:   user.FirstName,
			LastName:    user.LastName,
			Affiliation: user.Affiliation,
			AvatarURL:   user.AvatarURL,
			Role:        user.Role,
		})
	}))
}
