package route

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"ganapp/src-server/jwt"
	"ganapp/src-server/model"
	"ganapp/src-server/utils"
)

var errBadRequest = errors.New("bad request")

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("can't write response", "error", err)
	}
}

type errorResp struct {
	Error  string             `json:"error"`
	Fields []model.FieldError `json:"fields,omitempty"`
}

func writeErrorMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResp{Error: message})
}

// Maps model errors onto status codes. Anything unknown is logged and hidden
// behind a 500.
func writeError(w http.ResponseWriter, err error) {
	var verr *model.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusBadRequest, errorResp{Error: verr.Error(), Fields: verr.Fields})
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errBadRequest):
		status = http.StatusBadRequest
	case errors.Is(err, model.ErrInvalidCredentials),
		errors.Is(err, jwt.ErrInvalidToken):
		status = http.StatusUnauthorized
	case errors.Is(err, model.ErrForbidden),
		errors.Is(err, model.ErrNotEligible):
		status = http.StatusForbidden
	case errors.Is(err, model.ErrNotFound),
		errors.Is(err, model.ErrNotRegistered):
		status = http.StatusNotFound
	case errors.Is(err, model.ErrConflict),
		errors.Is(err, model.ErrEmailTaken),
		errors.Is(err, model.ErrEventFull),
		errors.Is(err, model.ErrAlreadyRegistered),
		errors.Is(err, model.ErrAlreadyResponded),
		errors.Is(err, model.ErrInvalidTransition),
		errors.Is(err, model.ErrTicketClosed),
		errors.Is(err, model.ErrSelfModeration):
		status = http.StatusConflict
	case errors.Is(err, model.ErrEventNotOpen),
		errors.Is(err, model.ErrCheckInClosed),
		errors.Is(err, model.ErrSurveyClosed),
		errors.Is(err, model.ErrInvalidQRCode):
		status = http.StatusUnprocessableEntity
	}

	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
		writeErrorMessage(w, status, "internal server error")
		return
	}
	writeErrorMessage(w, status, err.Error())
}

// Decodes the JSON body into dst and runs the struct's validate tags.
func decodeJSON(r *http.Request, dst interface{}) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid request body: %s", errBadRequest, err.Error())
	}
	msgs, err := utils.ValidateStruct(dst)
	if err != nil {
		return fmt.Errorf("decodeJSON: %w", err)
	}
	if len(msgs) > 0 {
		flds := make([]model.FieldError, len(msgs))
		for i, msg := range msgs {
			flds[i] = model.FieldError{Field: msg.Field, Error: msg.Message}
		}
		return model.NewValidationError(flds...)
	}
	return nil
}

type page struct {
	Limit  int
	Offset int
}

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

func parsePage(r *http.Request) (page, error) {
	p := page{Limit: defaultPageLimit}
	query := r.URL.Query()
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return p, fmt.Errorf("%w: limit must be a positive number", errBadRequest)
		}
		p.Limit = min(limit, maxPageLimit)
	}
	if raw := query.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return p, fmt.Errorf("%w: offset must not be negative", errBadRequest)
		}
		p.Offset = offset
	}
	return p, nil
}

// "desc" sorts descending, anything else ascending.
func parseOrder(r *http.Request) bool {
	return strings.EqualFold(r.URL.Query().Get("order"), "desc")
}

type listResp[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

func newListResp[T any](items []T, total int, p page) listResp[T] {
	return listResp[T]{Items: items, Total: total, Limit: p.Limit, Offset: p.Offset}
}

// A field sent either as a JSON number or as a string, e.g. dates as unix
// seconds or as text.
type flexString string

func (d *flexString) UnmarshalJSON(b []byte) error {
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		*d = flexString(n.String())
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("must be a number or a string")
	}
	*d = flexString(s)
	return nil
}
