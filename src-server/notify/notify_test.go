package notify_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"ganapp/src-server/model"
	"ganapp/src-server/notify"
	"ganapp/src-server/utils"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()
	sqldb, err := sql.Open(sqliteshim.ShimName, "file:"+uuid.NewString()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { db.Close() })
	require.NoError(t, model.CreateSchema(db))
	return db
}

func newTestUser(t *testing.T, db bun.IDB) *model.User {
	t.Helper()
	user := &model.User{
		Email:     gofakeit.Email(),
		FirstName: gofakeit.FirstName(),
		LastName:  gofakeit.LastName(),
	}
	require.NoError(t, user.SetPassword("correct horse battery"))
	require.NoError(t, user.Create(context.Background(), db))
	return user
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []notify.Recipient
}

func (m *fakeMailer) Send(_ context.Context, to notify.Recipient, subject, text, html string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, to)
	return nil
}

func TestHubPublish(t *testing.T) {
	hub := notify.NewHub()
	a1 := hub.Subscribe("alice")
	a2 := hub.Subscribe("alice")
	b := hub.Subscribe("bob")
	assert.Equal(t, 2, hub.Count("alice"))
	assert.Equal(t, 3, hub.Count(""))

	assert.Equal(t, 2, hub.Publish("alice", notify.Frame{Type: "ping"}))
	for _, sub := range []*notify.Subscriber{a1, a2} {
		var frame notify.Frame
		require.NoError(t, json.Unmarshal(<-sub.Frames(), &frame))
		assert.Equal(t, "ping", frame.Type)
	}
	assert.Len(t, b.Frames(), 0)

	hub.Unsubscribe(a1)
	_, open := <-a1.Frames()
	assert.False(t, open)
	assert.Equal(t, 1, hub.Count("alice"))
	// unsubscribing twice is harmless
	hub.Unsubscribe(a1)

	assert.Equal(t, 0, hub.Publish("nobody", notify.Frame{Type: "ping"}))

	hub.Close()
	assert.Equal(t, 0, hub.Count(""))
}

func TestHubDropsSlowSubscriber(t *testing.T) {
	hub := notify.NewHub()
	sub := hub.Subscribe("alice")
	delivered := 0
	for i := 0; i < 100; i++ {
		delivered += hub.Publish("alice", notify.Frame{Type: "spam"})
	}
	assert.Less(t, delivered, 100)
	assert.Equal(t, 0, hub.Count("alice"))

	// buffered frames are still readable, then the channel is closed
	n := 0
	for range sub.Frames() {
		n++
	}
	assert.Equal(t, delivered, n)
}

func TestDispatcherSend(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	alice := newTestUser(t, db)
	bob := newTestUser(t, db)

	hub := notify.NewHub()
	sub := hub.Subscribe(alice.ID)
	mailer := &fakeMailer{}
	dispatcher := notify.NewDispatcher(db, hub, mailer, nil, utils.NewMetric(), "http://localhost")

	notifications, err := dispatcher.Send(ctx, []string{alice.ID, bob.ID, alice.ID}, notify.Message{
		Kind:  model.NotificationKindReminder,
		Title: "Starting soon",
		Body:  "Your event starts in an hour",
		Link:  "/events/1",
		Email: true,
	})
	require.NoError(t, err)
	require.Len(t, notifications, 2)

	var frame struct {
		Type string             `json:"type"`
		Data model.Notification `json:"data"`
	}
	require.NoError(t, json.Unmarshal(<-sub.Frames(), &frame))
	assert.Equal(t, "notification", frame.Type)
	assert.Equal(t, "Starting soon", frame.Data.Title)
	assert.Equal(t, alice.ID, frame.Data.UserID)

	dispatcher.Wait()
	mailer.mu.Lock()
	assert.Len(t, mailer.sent, 2)
	mailer.mu.Unlock()

	unread, err := model.CountUnreadNotifications(ctx, db, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, unread)

	empty, err := dispatcher.Send(ctx, nil, notify.Message{Title: "nothing"})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestDispatcherWithoutMailer(t *testing.T) {
	db := newTestDB(t)
	alice := newTestUser(t, db)

	var mailer *notify.MailersendMailer
	dispatcher := notify.NewDispatcher(db, notify.NewHub(), mailer, nil, utils.NewMetric(), "")
	_, err := dispatcher.Send(context.Background(), []string{alice.ID}, notify.Message{
		Kind:  model.NotificationKindAccount,
		Title: "Welcome",
		Email: true,
	})
	require.NoError(t, err)
	dispatcher.Wait()
	dispatcher.AnnounceEvent(context.Background(), &model.Event{ID: "x"})
	dispatcher.Wait()
}

func TestServeWS(t *testing.T) {
	hub := notify.NewHub()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, "alice")
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var frame notify.Frame
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "connected", frame.Type)

	require.Eventually(t, func() bool { return hub.Count("alice") == 1 }, 2*time.Second, 10*time.Millisecond)
	hub.Publish("alice", notify.Frame{Type: "notification", Data: "hello"})
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "notification", frame.Type)
	assert.Equal(t, "hello", frame.Data)

	conn.Close()
	require.Eventually(t, func() bool { return hub.Count("alice") == 0 }, 2*time.Second, 10*time.Millisecond)
}
