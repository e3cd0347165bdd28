package route_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ganapp/src-server/jwt"
	"ganapp/src-server/model"
	"ganapp/src-server/notify"
	"ganapp/src-server/route"
	"ganapp/src-server/stream"
	"ganapp/src-server/utils"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

type testServer struct {
	t          *testing.T
	db         *bun.DB
	as         *utils.AppState
	muxer      *http.ServeMux
	dispatcher *notify.Dispatcher
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("TIMEZONE", "UTC")
	t.Setenv("HOSTNAME", "http://ganapp.test")
	t.Setenv("STATIC_WEB_CLIENT_DIR", "")
	t.Setenv("DISCORD_WEBHOOK_URL", "")

	sqldb, err := sql.Open(sqliteshim.ShimName, "file:"+uuid.NewString()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { db.Close() })
	require.NoError(t, model.CreateSchema(db))

	cfg, err := utils.LoadConfig()
	require.NoError(t, err)
	as := utils.NewAppStateWith(cfg, sqldb, db)
	dispatcher := notify.NewDispatcher(db, notify.NewHub(), nil, nil, as.MetricChans, cfg.GetHostname())

	muxer := http.NewServeMux()
	route.Register(muxer, as, &route.Services{Dispatcher: dispatcher, Publisher: stream.NopPublisher{}})
	return &testServer{t: t, db: db, as: as, muxer: muxer, dispatcher: dispatcher}
}

// Creates a user with the role and returns it with a valid token.
func (ts *testServer) user(role model.Role) (*model.User, string) {
	ts.t.Helper()
	user := &model.User{
		Email:     gofakeit.Email(),
		FirstName: gofakeit.FirstName(),
		LastName:  gofakeit.LastName(),
		Role:      role,
	}
	require.NoError(ts.t, user.SetPassword("correct horse battery"))
	require.NoError(ts.t, user.Create(context.Background(), ts.db))
	token, err := jwt.Encode(user.ID, string(user.Role), time.Hour, ts.as.Config.GetJWTSecret())
	require.NoError(ts.t, err)
	return user, token
}

func (ts *testServer) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	ts.t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(ts.t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.muxer.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type idResp struct {
	ID string `json:"id"`
}

// Creates a published event through the API starting in `startIn`.
func (ts *testServer) createEvent(token string, startIn time.Duration, capacity int) string {
	ts.t.Helper()
	start := time.Now().Add(startIn).Unix()
	rec := ts.do(http.MethodPost, "/events", token, map[string]any{
		"title":       gofakeit.Sentence(3),
		"description": gofakeit.Sentence(8),
		"venue":       gofakeit.City(),
		"start":       start,
		"end":         start + 7200,
		"capacity":    capacity,
		"status":      "published",
	})
	require.Equal(ts.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[idResp](ts.t, rec).ID
}

// Moves the event into the past directly in the database.
func (ts *testServer) endEvent(eventID string) {
	ts.t.Helper()
	start := time.Now().Add(-3 * time.Hour).Unix()
	_, err := ts.db.NewUpdate().
		Model((*model.Event)(nil)).
		Set("start_date = ?", start).
		Set("end_date = ?", start+3600).
		Where("id = ?", eventID).
		Exec(context.Background())
	require.NoError(ts.t, err)
}
