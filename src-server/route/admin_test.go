package route_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"ganapp/src-server/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type userList struct {
	Items []model.UserRow `json:"items"`
	Total int             `json:"total"`
}

func TestAdminModeration(t *testing.T) {
	ts := newTestServer(t)
	admin, adminToken := ts.user(model.RoleAdmin)
	target, targetToken := ts.user(model.RoleParticipant)

	assert.Equal(t, http.StatusForbidden, ts.do(http.MethodGet, "/admin/users", targetToken, nil).Code)

	// admins can't moderate themselves
	rec := ts.do(http.MethodPost, "/admin/users/"+admin.ID+"/ban", adminToken, map[string]any{"duration": 1, "reason": "oops"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = ts.do(http.MethodPut, "/admin/users/"+admin.ID+"/role", adminToken, map[string]string{"role": "participant"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(http.MethodPost, "/admin/users/"+target.ID+"/ban", adminToken, map[string]any{"duration": "forever"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodPost, "/admin/users/"+target.ID+"/ban", adminToken, map[string]any{"duration": "72h", "reason": "spam"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	banned := decode[model.UserRow](t, rec)
	assert.Equal(t, "banned", banned.Status)
	assert.InDelta(t, time.Now().Add(72*time.Hour).Unix(), banned.BannedUntil, 5)
	assert.Equal(t, http.StatusForbidden, ts.do(http.MethodGet, "/auth/me", targetToken, nil).Code)

	list := decode[userList](t, ts.do(http.MethodGet, "/admin/users?status=banned", adminToken, nil))
	require.Equal(t, 1, list.Total)
	assert.Equal(t, target.ID, list.Items[0].ID)

	require.Equal(t, http.StatusOK, ts.do(http.MethodPost, "/admin/users/"+target.ID+"/unban", adminToken, nil).Code)
	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/auth/me", targetToken, nil).Code)

	rec = ts.do(http.MethodPut, "/admin/users/"+target.ID+"/role", adminToken, map[string]string{"role": "organizer"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.RoleOrganizer, decode[model.UserRow](t, rec).Role)
	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPut, "/admin/users/"+target.ID+"/role", adminToken, map[string]string{"role": "king"}).Code)

	require.Equal(t, http.StatusOK, ts.do(http.MethodPost, "/admin/users/"+target.ID+"/archive", adminToken, nil).Code)
	assert.Equal(t, http.StatusForbidden, ts.do(http.MethodGet, "/auth/me", targetToken, nil).Code)
	list = decode[userList](t, ts.do(http.MethodGet, "/admin/users?status=archived", adminToken, nil))
	assert.Equal(t, 1, list.Total)
	require.Equal(t, http.StatusOK, ts.do(http.MethodPost, "/admin/users/"+target.ID+"/unarchive", adminToken, nil).Code)

	list = decode[userList](t, ts.do(http.MethodGet, "/admin/users?sort=email&role=admin", adminToken, nil))
	require.Equal(t, 1, list.Total)
	assert.Equal(t, admin.ID, list.Items[0].ID)
	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodGet, "/admin/users?role=king", adminToken, nil).Code)

	// the moderated user was told, and every action was audited
	notifications, err := model.CountUnreadNotifications(context.Background(), ts.db, target.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, notifications)

	audit := decode[struct {
		Items []model.AuditLog `json:"items"`
		Total int              `json:"total"`
	}](t, ts.do(http.MethodGet, "/admin/audit", adminToken, nil))
	assert.Equal(t, 5, audit.Total)
	for _, entry := range audit.Items {
		assert.Equal(t, admin.ID, entry.ActorID)
	}
}

func TestAdminEventsAndStats(t *testing.T) {
	ts := newTestServer(t)
	_, adminToken := ts.user(model.RoleAdmin)
	_, organizerToken := ts.user(model.RoleOrganizer)
	_, participantToken := ts.user(model.RoleParticipant)

	liveID := ts.createEvent(organizerToken, 24*time.Hour, 0)
	archivedID := ts.createEvent(organizerToken, 48*time.Hour, 0)
	require.Equal(t, http.StatusCreated, ts.do(http.MethodPost, "/events/"+liveID+"/register", participantToken, nil).Code)

	require.Equal(t, http.StatusOK, ts.do(http.MethodPost, "/admin/events/"+archivedID+"/archive", adminToken, nil).Code)

	list := decode[eventList](t, ts.do(http.MethodGet, "/admin/events", adminToken, nil))
	assert.Equal(t, 2, list.Total)
	list = decode[eventList](t, ts.do(http.MethodGet, "/admin/events?archived=true", adminToken, nil))
	require.Equal(t, 1, list.Total)
	assert.Equal(t, archivedID, list.Items[0].ID)
	list = decode[eventList](t, ts.do(http.MethodGet, "/admin/events?sort=participants&order=desc", adminToken, nil))
	assert.Equal(t, liveID, list.Items[0].ID)
	assert.Equal(t, 1, list.Items[0].ParticipantCount)

	public := decode[eventList](t, ts.do(http.MethodGet, "/events", "", nil))
	assert.Equal(t, 1, public.Total)

	require.Equal(t, http.StatusOK, ts.do(http.MethodPost, "/admin/events/"+archivedID+"/unarchive", adminToken, nil).Code)
	public = decode[eventList](t, ts.do(http.MethodGet, "/events", "", nil))
	assert.Equal(t, 2, public.Total)

	stats := decode[model.Stats](t, ts.do(http.MethodGet, "/admin/stats", adminToken, nil))
	assert.Equal(t, 3, stats.TotalUsers)
	assert.Equal(t, 2, stats.Events[model.EventStatusPublished])
	assert.Equal(t, 1, stats.Registrations)
}

func TestAdminOrphans(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	_, adminToken := ts.user(model.RoleAdmin)
	_, organizerToken := ts.user(model.RoleOrganizer)
	_, participantToken := ts.user(model.RoleParticipant)
	eventID := ts.createEvent(organizerToken, 24*time.Hour, 0)
	require.Equal(t, http.StatusCreated, ts.do(http.MethodPost, "/events/"+eventID+"/register", participantToken, nil).Code)

	_, err := ts.db.NewDelete().Model((*model.Event)(nil)).Where("id = ?", eventID).Exec(ctx)
	require.NoError(t, err)

	found := decode[struct {
		Registrations []string `json:"registrations"`
		Total         int      `json:"total"`
	}](t, ts.do(http.MethodGet, "/admin/orphans", adminToken, nil))
	assert.Equal(t, 1, found.Total)
	assert.Len(t, found.Registrations, 1)

	require.Equal(t, http.StatusOK, ts.do(http.MethodDelete, "/admin/orphans", adminToken, nil).Code)
	found = decode[struct {
		Registrations []string `json:"registrations"`
		Total         int      `json:"total"`
	}](t, ts.do(http.MethodGet, "/admin/orphans", adminToken, nil))
	assert.Equal(t, 0, found.Total)
}

func TestBanDurationIsCapped(t *testing.T) {
	ts := newTestServer(t)
	_, adminToken := ts.user(model.RoleAdmin)
	target, _ := ts.user(model.RoleParticipant)
	path := "/admin/users/" + target.ID + "/ban"
	tenYears := time.Now().Add(10 * 365 * 24 * time.Hour).Unix()

	for _, tc := range []struct {
		duration any
		want     int64
	}{
		{90, time.Now().Add(90 * 24 * time.Hour).Unix()},
		{"213504", tenYears},
		{"9000000", tenYears},
		{"2000000h", tenYears},
	} {
		rec := ts.do(http.MethodPost, path, adminToken, map[string]any{"duration": tc.duration, "reason": "spam"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.InDelta(t, tc.want, decode[model.UserRow](t, rec).BannedUntil, 5, "%v", tc.duration)
	}

	assert.Equal(t, http.StatusBadRequest,
		ts.do(http.MethodPost, path, adminToken, map[string]any{"duration": "0"}).Code)
}
