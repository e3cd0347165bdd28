package model_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"ganapp/src-server/model"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
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

func newTestUser(t *testing.T, db bun.IDB, role model.Role) *model.User {
	t.Helper()
	user := &model.User{
		Email:     gofakeit.Email(),
		FirstName: gofakeit.FirstName(),
		LastName:  gofakeit.LastName(),
		Role:      role,
	}
	require.NoError(t, user.SetPassword("correct horse battery"))
	require.NoError(t, user.Create(context.Background(), db))
	return user
}

// Published event starting in `startIn` and lasting two hours.
func newTestEvent(t *testing.T, db bun.IDB, organizer *model.User, startIn time.Duration, capacity int) *model.Event {
	t.Helper()
	start := time.Now().Add(startIn).Truncate(time.Second)
	event := &model.Event{
		Title:            gofakeit.Sentence(3),
		Description:      gofakeit.Sentence(10),
		Venue:            gofakeit.City(),
		StartDateUnixUTC: start.Unix(),
		EndDateUnixUTC:   start.Add(2 * time.Hour).Unix(),
		Capacity:         capacity,
		Status:           model.EventStatusPublished,
		OrganizerID:      organizer.ID,
	}
	require.NoError(t, event.Upsert(context.Background(), db))
	return event
}

// Moves the event into the past without going through validation.
func endEvent(t *testing.T, db bun.IDB, event *model.Event) *model.Event {
	t.Helper()
	ctx := context.Background()
	start := time.Now().Add(-3 * time.Hour).Unix()
	_, err := db.NewUpdate().
		Model((*model.Event)(nil)).
		Set("start_date = ?", start).
		Set("end_date = ?", start+int64(time.Hour/time.Second)).
		Where("id = ?", event.ID).
		Exec(ctx)
	require.NoError(t, err)
	ended, err := model.GetEvent(ctx, db, event.ID)
	require.NoError(t, err)
	return ended
}
