package model_test

import (
	"context"
	"testing"

	"ganapp/src-server/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSupportTicket(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	user := newTestUser(t, db, model.RoleParticipant)
	admin := newTestUser(t, db, model.RoleAdmin)

	err := (&model.SupportTicket{UserID: user.ID, Priority: "urgent"}).Create(ctx, db)
	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Fields, 3)

	ticket := &model.SupportTicket{UserID: user.ID, Subject: " Certificate missing ", Message: "I attended but got nothing"}
	require.NoError(t, ticket.Create(ctx, db))
	assert.Equal(t, model.TicketStatusOpen, ticket.Status)
	assert.Equal(t, model.TicketPriorityNormal, ticket.Priority)
	assert.Equal(t, "Certificate missing", ticket.Subject)

	_, err = ticket.Reply(ctx, db, admin.ID, "Looking into it")
	require.NoError(t, err)
	_, err = ticket.Reply(ctx, db, user.ID, "   ")
	assert.ErrorIs(t, err, model.ErrValidation)

	assert.ErrorIs(t, ticket.SetStatus(ctx, db, model.TicketStatusResolved, admin.ID), model.ErrInvalidTransition)
	require.NoError(t, ticket.SetStatus(ctx, db, model.TicketStatusInProgress, admin.ID))
	assert.Equal(t, admin.ID, ticket.AssigneeID)
	got, err := model.GetTicket(ctx, db, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, admin.ID, got.AssigneeID)

	require.NoError(t, ticket.SetStatus(ctx, db, model.TicketStatusResolved, admin.ID))
	assert.Equal(t, admin.ID, ticket.AssigneeID)
	require.NoError(t, ticket.SetStatus(ctx, db, model.TicketStatusOpen, admin.ID))
	assert.Empty(t, ticket.AssigneeID)
	require.NoError(t, ticket.SetStatus(ctx, db, model.TicketStatusClosed, admin.ID))
	assert.ErrorIs(t, ticket.SetStatus(ctx, db, model.TicketStatusOpen, admin.ID), model.ErrInvalidTransition)

	_, err = ticket.Reply(ctx, db, user.ID, "Still there?")
	assert.ErrorIs(t, err, model.ErrTicketClosed)

	got, err = model.GetTicket(ctx, db, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TicketStatusClosed, got.Status)
	require.Len(t, got.Replies, 1)
	assert.Equal(t, "Looking into it", got.Replies[0].Message)
	assert.True(t, got.CanView(user))
	assert.True(t, got.CanView(admin))
	assert.False(t, got.CanView(&model.User{ID: "someone", Role: model.RoleOrganizer}))
}

func TestListTickets(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	alice := newTestUser(t, db, model.RoleParticipant)
	bob := newTestUser(t, db, model.RoleParticipant)

	for _, ticket := range []*model.SupportTicket{
		{UserID: alice.ID, Subject: "Login issue", Message: "x", Priority: model.TicketPriorityHigh},
		{UserID: alice.ID, Subject: "QR code blank", Message: "x"},
		{UserID: bob.ID, Subject: "Login again", Message: "x", Priority: model.TicketPriorityLow},
	} {
		require.NoError(t, ticket.Create(ctx, db))
	}

	tickets, total, err := model.ListTickets(ctx, db, model.TicketFilter{UserID: alice.ID})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, tickets, 2)

	tickets, _, err = model.ListTickets(ctx, db, model.TicketFilter{Query: "login"})
	require.NoError(t, err)
	assert.Len(t, tickets, 2)

	tickets, _, err = model.ListTickets(ctx, db, model.TicketFilter{Priority: model.TicketPriorityHigh})
	require.NoError(t, err)
	require.Len(t, tickets, 1)
	assert.Equal(t, "Login issue", tickets[0].Subject)
	require.NotNil(t, tickets[0].User)
	assert.Equal(t, alice.ID, tickets[0].User.ID)
}
