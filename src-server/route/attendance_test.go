package route_test

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"ganapp/src-server/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type checkInBody struct {
	Attendance       model.Attendance `json:"attendance"`
	AlreadyCheckedIn bool             `json:"already_checked_in"`
	User             model.User       `json:"user"`
}

func TestRegistrationCapacity(t *testing.T) {
	ts := newTestServer(t)
	_, organizerToken := ts.user(model.RoleOrganizer)
	_, firstToken := ts.user(model.RoleParticipant)
	_, secondToken := ts.user(model.RoleParticipant)
	eventID := ts.createEvent(organizerToken, 24*time.Hour, 1)

	require.Equal(t, http.StatusCreated, ts.do(http.MethodPost, "/events/"+eventID+"/register", firstToken, nil).Code)
	assert.Equal(t, http.StatusConflict, ts.do(http.MethodPost, "/events/"+eventID+"/register", firstToken, nil).Code)

	rec := ts.do(http.MethodPost, "/events/"+eventID+"/register", secondToken, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "event is full")

	event := decode[eventBody](t, ts.do(http.MethodGet, "/events/"+eventID, firstToken, nil))
	assert.Equal(t, "registered", event.RegistrationStatus)
	assert.Equal(t, 1, event.ParticipantCount)
	assert.Equal(t, 0, event.RemainingSeats)

	// cancelling frees the seat
	require.Equal(t, http.StatusOK, ts.do(http.MethodDelete, "/events/"+eventID+"/register", firstToken, nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodDelete, "/events/"+eventID+"/register", firstToken, nil).Code)
	require.Equal(t, http.StatusCreated, ts.do(http.MethodPost, "/events/"+eventID+"/register", secondToken, nil).Code)

	rec = ts.do(http.MethodGet, "/me/registrations", secondToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	mine := decode[[]struct {
		EventID string    `json:"event_id"`
		Event   eventBody `json:"event"`
	}](t, rec)
	require.Len(t, mine, 1)
	assert.Equal(t, eventID, mine[0].EventID)
	assert.Equal(t, 1, mine[0].Event.ParticipantCount)
}

func TestCheckInFlow(t *testing.T) {
	ts := newTestServer(t)
	_, organizerToken := ts.user(model.RoleOrganizer)
	participant, participantToken := ts.user(model.RoleParticipant)
	_, strangerToken := ts.user(model.RoleParticipant)
	// starts within the check-in window
	eventID := ts.createEvent(organizerToken, time.Hour, 0)

	// no QR code before registering
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "/events/"+eventID+"/qr", participantToken, nil).Code)
	require.Equal(t, http.StatusCreated, ts.do(http.MethodPost, "/events/"+eventID+"/register", participantToken, nil).Code)

	rec := ts.do(http.MethodGet, "/events/"+eventID+"/qr?format=json", participantToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	code := decode[model.QRCode](t, rec)
	assert.Equal(t, model.QRCodeKindEventCheckIn, code.Kind)
	again := decode[model.QRCode](t, ts.do(http.MethodGet, "/events/"+eventID+"/qr?format=json", participantToken, nil))
	assert.Equal(t, code.Payload, again.Payload)

	rec = ts.do(http.MethodGet, "/events/"+eventID+"/qr", participantToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))

	// only the organizer scans
	body := map[string]string{"payload": code.Payload}
	assert.Equal(t, http.StatusForbidden, ts.do(http.MethodPost, "/events/"+eventID+"/checkin", strangerToken, body).Code)

	rec = ts.do(http.MethodPost, "/events/"+eventID+"/checkin", organizerToken, body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decode[checkInBody](t, rec)
	assert.False(t, first.AlreadyCheckedIn)
	assert.Equal(t, participant.ID, first.User.ID)

	rec = ts.do(http.MethodPost, "/events/"+eventID+"/checkin", organizerToken, body)
	require.Equal(t, http.StatusOK, rec.Code)
	second := decode[checkInBody](t, rec)
	assert.True(t, second.AlreadyCheckedIn)
	assert.Equal(t, first.Attendance.CheckedInAt, second.Attendance.CheckedInAt)

	// tampered payload
	tampered := strings.Replace(code.Payload, `"token":"`, `"token":"x`, 1)
	rec = ts.do(http.MethodPost, "/events/"+eventID+"/checkin", organizerToken, map[string]string{"payload": tampered})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	rec = ts.do(http.MethodPost, "/events/"+eventID+"/checkin", organizerToken, map[string]string{"payload": "not json"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	// checked in users can't cancel
	assert.Equal(t, http.StatusConflict, ts.do(http.MethodDelete, "/events/"+eventID+"/register", participantToken, nil).Code)

	rec = ts.do(http.MethodGet, "/events/"+eventID+"/attendance", organizerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.Attendance](t, rec), 1)

	participants := decode[[]model.Participant](t, ts.do(http.MethodGet, "/events/"+eventID+"/participants?sort=name", organizerToken, nil))
	require.Len(t, participants, 1)
	assert.NotZero(t, participants[0].CheckedInAt)

	event := decode[eventBody](t, ts.do(http.MethodGet, "/events/"+eventID, participantToken, nil))
	assert.True(t, event.CheckedIn)
}

func TestCheckInWindow(t *testing.T) {
	ts := newTestServer(t)
	_, organizerToken := ts.user(model.RoleOrganizer)
	_, participantToken := ts.user(model.RoleParticipant)
	eventID := ts.createEvent(organizerToken, 72*time.Hour, 0)
	require.Equal(t, http.StatusCreated, ts.do(http.MethodPost, "/events/"+eventID+"/register", participantToken, nil).Code)

	code := decode[model.QRCode](t, ts.do(http.MethodGet, "/events/"+eventID+"/qr?format=json", participantToken, nil))
	rec := ts.do(http.MethodPost, "/events/"+eventID+"/checkin", organizerToken, map[string]string{"payload": code.Payload})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "check-in is not open")
}

func TestSurveyAndCertificate(t *testing.T) {
	ts := newTestServer(t)
	_, organizerToken := ts.user(model.RoleOrganizer)
	participant, participantToken := ts.user(model.RoleParticipant)
	_, absentToken := ts.user(model.RoleParticipant)
	eventID := ts.createEvent(organizerToken, time.Hour, 0)

	require.Equal(t, http.StatusCreated, ts.do(http.MethodPost, "/events/"+eventID+"/register", participantToken, nil).Code)
	require.Equal(t, http.StatusCreated, ts.do(http.MethodPost, "/events/"+eventID+"/register", absentToken, nil).Code)
	code := decode[model.QRCode](t, ts.do(http.MethodGet, "/events/"+eventID+"/qr?format=json", participantToken, nil))
	require.Equal(t, http.StatusOK, ts.do(http.MethodPost, "/events/"+eventID+"/checkin", organizerToken, map[string]string{"payload": code.Payload}).Code)

	survey := map[string]any{
		"title": "How was it?",
		"questions": []map[string]any{
			{"id": "overall", "prompt": "Overall rating", "kind": "rating", "required": true},
			{"id": "track", "prompt": "Favourite track", "kind": "choice", "options": []string{"Go", "Rust"}},
			{"id": "comments", "prompt": "Anything else?", "kind": "text"},
		},
	}
	assert.Equal(t, http.StatusForbidden, ts.do(http.MethodPut, "/events/"+eventID+"/survey", participantToken, survey).Code)
	require.Equal(t, http.StatusOK, ts.do(http.MethodPut, "/events/"+eventID+"/survey", organizerToken, survey).Code)

	answers := map[string]any{"answers": map[string]string{"overall": "5", "track": "Go", "comments": "Great"}}
	assert.Equal(t, http.StatusUnprocessableEntity, ts.do(http.MethodPost, "/events/"+eventID+"/survey/responses", participantToken, answers).Code)

	// not over yet
	eligibility := decode[model.Eligibility](t, ts.do(http.MethodGet, "/events/"+eventID+"/certificate/eligibility", participantToken, nil))
	assert.True(t, eligibility.Attended)
	assert.False(t, eligibility.EventEnded)
	assert.False(t, eligibility.Eligible)

	ts.endEvent(eventID)
	require.Equal(t, http.StatusOK, ts.do(http.MethodPost, "/events/"+eventID+"/survey/open", organizerToken, nil).Code)

	assert.Equal(t, http.StatusForbidden, ts.do(http.MethodPost, "/events/"+eventID+"/certificate", participantToken, nil).Code)
	bad := map[string]any{"answers": map[string]string{"overall": "9"}}
	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPost, "/events/"+eventID+"/survey/responses", participantToken, bad).Code)
	assert.Equal(t, http.StatusForbidden, ts.do(http.MethodPost, "/events/"+eventID+"/survey/responses", absentToken, answers).Code)
	require.Equal(t, http.StatusCreated, ts.do(http.MethodPost, "/events/"+eventID+"/survey/responses", participantToken, answers).Code)
	assert.Equal(t, http.StatusConflict, ts.do(http.MethodPost, "/events/"+eventID+"/survey/responses", participantToken, answers).Code)

	// frozen once answered
	assert.Equal(t, http.StatusConflict, ts.do(http.MethodPut, "/events/"+eventID+"/survey", organizerToken, survey).Code)

	summary := decode[model.SurveySummary](t, ts.do(http.MethodGet, "/events/"+eventID+"/survey/summary", organizerToken, nil))
	assert.Equal(t, 1, summary.Responses)

	rec := ts.do(http.MethodPost, "/events/"+eventID+"/certificate", participantToken, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	cert := decode[model.Certificate](t, rec)
	assert.Equal(t, participant.ID, cert.UserID)

	rec = ts.do(http.MethodPost, "/events/"+eventID+"/certificate", participantToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, cert.ID, decode[model.Certificate](t, rec).ID)
	assert.Equal(t, http.StatusForbidden, ts.do(http.MethodPost, "/events/"+eventID+"/certificate", absentToken, nil).Code)

	rec = ts.do(http.MethodGet, "/certificates/"+cert.ID, participantToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), cert.Code)
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "/certificates/"+cert.ID, absentToken, nil).Code)

	rec = ts.do(http.MethodGet, "/certificates/verify/"+strings.ToLower(cert.Code), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	verified := decode[struct {
		Valid bool   `json:"valid"`
		Name  string `json:"name"`
	}](t, rec)
	assert.True(t, verified.Valid)
	assert.Equal(t, participant.FullName(), verified.Name)
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "/certificates/verify/NOPE-NOPE", "", nil).Code)

	mine := decode[[]model.Certificate](t, ts.do(http.MethodGet, "/me/certificates", participantToken, nil))
	assert.Len(t, mine, 1)
}
