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

type eventBody struct {
	ID                 string `json:"id"`
	Title              string `json:"title"`
	Status             string `json:"status"`
	ParticipantCount   int    `json:"participant_count"`
	RemainingSeats     int    `json:"remaining_seats"`
	RegistrationStatus string `json:"registration_status"`
	CheckedIn          bool   `json:"checked_in"`
	Sequence           int    `json:"sequence"`
}

type eventList struct {
	Items []eventBody `json:"items"`
	Total int         `json:"total"`
}

func TestCreateEventPermissions(t *testing.T) {
	ts := newTestServer(t)
	_, participantToken := ts.user(model.RoleParticipant)
	_, organizerToken := ts.user(model.RoleOrganizer)
	_, otherOrganizerToken := ts.user(model.RoleOrganizer)

	body := map[string]any{
		"title": "Go Meetup",
		"start": "2030-05-01 18:00",
		"end":   "2030-05-01 21:00",
	}
	assert.Equal(t, http.StatusForbidden, ts.do(http.MethodPost, "/events", participantToken, body).Code)

	rec := ts.do(http.MethodPost, "/events", organizerToken, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[eventBody](t, rec)
	assert.Equal(t, "draft", created.Status)
	assert.Equal(t, -1, created.RemainingSeats)

	// drafts are hidden from everyone but the organizer
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "/events/"+created.ID, participantToken, nil).Code)
	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/events/"+created.ID, organizerToken, nil).Code)

	update := map[string]any{
		"title":    "Go Meetup #2",
		"start":    "2030-05-01 18:00",
		"end":      "2030-05-01 22:00",
		"capacity": 30,
	}
	assert.Equal(t, http.StatusForbidden, ts.do(http.MethodPut, "/events/"+created.ID, otherOrganizerToken, update).Code)
	rec = ts.do(http.MethodPut, "/events/"+created.ID, organizerToken, update)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[eventBody](t, rec)
	assert.Equal(t, "Go Meetup #2", updated.Title)
	assert.Equal(t, 1, updated.Sequence)
	assert.Equal(t, 30, updated.RemainingSeats)

	rec = ts.do(http.MethodPost, "/events/"+created.ID+"/publish", organizerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, http.StatusConflict, ts.do(http.MethodPost, "/events/"+created.ID+"/publish", organizerToken, nil).Code)
	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/events/"+created.ID, "", nil).Code)

	// end before start
	rec = ts.do(http.MethodPost, "/events", organizerToken, map[string]any{
		"title": "Backwards",
		"start": "2030-05-02",
		"end":   "2030-05-01",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBrowseEvents(t *testing.T) {
	ts := newTestServer(t)
	_, organizerToken := ts.user(model.RoleOrganizer)

	rec := ts.do(http.MethodPost, "/events", organizerToken, map[string]any{
		"title":  "Robotics Workshop",
		"venue":  "Engineering Hall",
		"start":  time.Now().Add(48 * time.Hour).Unix(),
		"end":    time.Now().Add(50 * time.Hour).Unix(),
		"status": "published",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	ts.createEvent(organizerToken, 24*time.Hour, 5)
	draft := ts.do(http.MethodPost, "/events", organizerToken, map[string]any{
		"title": "Secret draft",
		"start": time.Now().Add(24 * time.Hour).Unix(),
		"end":   time.Now().Add(26 * time.Hour).Unix(),
	})
	require.Equal(t, http.StatusCreated, draft.Code)

	list := decode[eventList](t, ts.do(http.MethodGet, "/events", "", nil))
	assert.Equal(t, 2, list.Total)
	require.Len(t, list.Items, 2)
	assert.Equal(t, 5, list.Items[0].RemainingSeats)

	list = decode[eventList](t, ts.do(http.MethodGet, "/events?q=robotics", "", nil))
	require.Equal(t, 1, list.Total)
	assert.Equal(t, "Robotics Workshop", list.Items[0].Title)

	list = decode[eventList](t, ts.do(http.MethodGet, "/events?sort=title&order=desc&limit=1", "", nil))
	assert.Equal(t, 2, list.Total)
	assert.Len(t, list.Items, 1)

	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodGet, "/events?status=draft", "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodGet, "/events?limit=-1", "", nil).Code)

	mine := decode[eventList](t, ts.do(http.MethodGet, "/me/events", organizerToken, nil))
	// organisers see their drafts too
	assert.Equal(t, 3, mine.Total)
}

func TestEventCalendarExport(t *testing.T) {
	ts := newTestServer(t)
	_, organizerToken := ts.user(model.RoleOrganizer)
	_, participantToken := ts.user(model.RoleParticipant)
	eventID := ts.createEvent(organizerToken, 24*time.Hour, 0)

	rec := ts.do(http.MethodGet, "/events/"+eventID+"/ical", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/calendar; charset=utf-8", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, "BEGIN:VCALENDAR\r\n"))
	assert.Contains(t, body, "UID:"+eventID)
	assert.Contains(t, body, "STATUS:CONFIRMED")

	require.Equal(t, http.StatusCreated, ts.do(http.MethodPost, "/events/"+eventID+"/register", participantToken, nil).Code)
	rec = ts.do(http.MethodGet, "/me/calendar.ics", participantToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "UID:"+eventID)

	rec = ts.do(http.MethodGet, "/events/"+eventID+"/occurrences", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.Occurrence](t, rec), 1)
}

func TestCancelEventNotifiesRegistrants(t *testing.T) {
	ts := newTestServer(t)
	_, organizerToken := ts.user(model.RoleOrganizer)
	participant, participantToken := ts.user(model.RoleParticipant)
	eventID := ts.createEvent(organizerToken, 24*time.Hour, 0)

	require.Equal(t, http.StatusCreated, ts.do(http.MethodPost, "/events/"+eventID+"/register", participantToken, nil).Code)
	require.Equal(t, http.StatusOK, ts.do(http.MethodPost, "/events/"+eventID+"/cancel", organizerToken, nil).Code)

	list := decode[struct {
		Items []model.Notification `json:"items"`
	}](t, ts.do(http.MethodGet, "/notifications", participantToken, nil))
	kinds := make([]model.NotificationKind, 0)
	for _, n := range list.Items {
		assert.Equal(t, participant.ID, n.UserID)
		kinds = append(kinds, n.Kind)
	}
	assert.ElementsMatch(t, []model.NotificationKind{model.NotificationKindRegistration, model.NotificationKindEventCancel}, kinds)

	// archived events disappear for everyone else
	require.Equal(t, http.StatusNoContent, ts.do(http.MethodDelete, "/events/"+eventID, organizerToken, nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "/events/"+eventID, participantToken, nil).Code)
}
