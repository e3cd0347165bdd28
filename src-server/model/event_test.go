package model_test

import (
	"context"
	"testing"
	"time"

	"ganapp/src-server/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventUpsert(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	organizer := newTestUser(t, db, model.RoleOrganizer)

	start := time.Date(2030, 3, 1, 0, 0, 0, 0, time.UTC)
	event := &model.Event{
		Title:            "  Orientation Day ",
		StartDateUnixUTC: start.Unix(),
		EndDateUnixUTC:   start.Add(24 * time.Hour).Unix(),
		OrganizerID:      organizer.ID,
	}
	require.NoError(t, event.Upsert(ctx, db))
	assert.Equal(t, "Orientation Day", event.Title)
	assert.Equal(t, model.EventStatusDraft, event.Status)
	assert.True(t, event.IsWholeDay)
	assert.Equal(t, 0, event.Sequence)

	event.Venue = "Main Hall"
	require.NoError(t, event.Upsert(ctx, db))
	assert.Equal(t, 1, event.Sequence)

	got, err := model.GetEvent(ctx, db, event.ID)
	require.NoError(t, err)
	assert.Equal(t, "Main Hall", got.Venue)
	assert.Equal(t, 1, got.Sequence)
	require.NotNil(t, got.Organizer)
	assert.Equal(t, organizer.ID, got.Organizer.ID)

	_, err = model.GetEvent(ctx, db, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestEventValidation(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	event := &model.Event{
		StartDateUnixUTC: 200,
		EndDateUnixUTC:   100,
		Capacity:         -1,
		RRule:            "FREQ=SOMETIMES",
	}
	err := event.Upsert(ctx, db)
	require.ErrorIs(t, err, model.ErrValidation)
	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)

	fields := make(map[string]bool)
	for _, f := range verr.Fields {
		fields[f.Field] = true
	}
	for _, field := range []string{"title", "end", "capacity", "organizer_id", "rrule"} {
		assert.True(t, fields[field], "expected an error on %s", field)
	}
}

func TestEventTransition(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	organizer := newTestUser(t, db, model.RoleOrganizer)
	event := newTestEvent(t, db, organizer, 24*time.Hour, 0)

	// published -> published isn't a move
	assert.ErrorIs(t, event.Transition(ctx, db, model.EventStatusPublished), model.ErrInvalidTransition)
	require.NoError(t, event.Transition(ctx, db, model.EventStatusCancelled))
	assert.ErrorIs(t, event.Transition(ctx, db, model.EventStatusCompleted), model.ErrInvalidTransition)

	got, err := model.GetEvent(ctx, db, event.ID)
	require.NoError(t, err)
	assert.Equal(t, model.EventStatusCancelled, got.Status)
}

func TestEventPermissions(t *testing.T) {
	owner := &model.User{ID: "owner", Role: model.RoleOrganizer}
	other := &model.User{ID: "other", Role: model.RoleOrganizer}
	admin := &model.User{ID: "admin", Role: model.RoleAdmin}
	participant := &model.User{ID: "owner", Role: model.RoleParticipant}
	event := &model.Event{OrganizerID: "owner"}

	assert.True(t, event.CanManage(owner))
	assert.False(t, event.CanManage(other))
	assert.True(t, event.CanManage(admin))
	assert.False(t, event.CanManage(participant))
	assert.False(t, event.CanManage(nil))
}

func TestEventOccurrences(t *testing.T) {
	start := time.Date(2030, 1, 6, 9, 0, 0, 0, time.UTC)
	event := &model.Event{
		StartDateUnixUTC: start.Unix(),
		EndDateUnixUTC:   start.Add(90 * time.Minute).Unix(),
		RRule:            "FREQ=WEEKLY;COUNT=4",
	}
	occurrences, err := event.Occurrences(start, start.AddDate(0, 1, 0))
	require.NoError(t, err)
	require.Len(t, occurrences, 4)
	for i, occurrence := range occurrences {
		expected := start.AddDate(0, 0, 7*i)
		assert.Equal(t, expected.Unix(), occurrence.StartDateUnixUTC)
		assert.Equal(t, expected.Add(90*time.Minute).Unix(), occurrence.EndDateUnixUTC)
	}

	// case: no recurrence
	event.RRule = ""
	occurrences, err = event.Occurrences(start.AddDate(0, 0, -1), start.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Len(t, occurrences, 1)
	occurrences, err = event.Occurrences(start.AddDate(0, 0, 1), start.AddDate(0, 0, 2))
	require.NoError(t, err)
	assert.Empty(t, occurrences)
}

func TestListEvents(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	organizer := newTestUser(t, db, model.RoleOrganizer)

	first := newTestEvent(t, db, organizer, 24*time.Hour, 10)
	first.Title = "Alpha Hackathon"
	require.NoError(t, first.Upsert(ctx, db))
	second := newTestEvent(t, db, organizer, 48*time.Hour, 0)
	second.Title = "Beta Workshop"
	require.NoError(t, second.Upsert(ctx, db))
	archived := newTestEvent(t, db, organizer, 72*time.Hour, 0)
	require.NoError(t, archived.SetArchived(ctx, db, true))

	for i := 0; i < 3; i++ {
		user := newTestUser(t, db, model.RoleParticipant)
		_, err := model.Register(ctx, db, second, user)
		require.NoError(t, err)
	}

	// default: non-archived, by start date
	events, total, err := model.ListEvents(ctx, db, model.EventFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, events, 2)
	assert.Equal(t, first.ID, events[0].ID)
	assert.Equal(t, 10, events[0].RemainingSeats)
	assert.Equal(t, 3, events[1].ParticipantCount)
	assert.Equal(t, -1, events[1].RemainingSeats)

	// search
	events, total, err = model.ListEvents(ctx, db, model.EventFilter{Query: "workshop"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, second.ID, events[0].ID)

	// sort by participants, descending
	events, _, err = model.ListEvents(ctx, db, model.EventFilter{Sort: "participants", Desc: true})
	require.NoError(t, err)
	assert.Equal(t, second.ID, events[0].ID)

	// paging keeps the total
	events, total, err = model.ListEvents(ctx, db, model.EventFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, events, 1)
	assert.Equal(t, second.ID, events[0].ID)

	// archived only
	yes := true
	events, total, err = model.ListEvents(ctx, db, model.EventFilter{Archived: &yes})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, archived.ID, events[0].ID)

	_, total, err = model.ListEvents(ctx, db, model.EventFilter{IncludeArchived: true})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
}
