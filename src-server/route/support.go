package route

import (
	"fmt"
	"net/http"

	"ganapp/src-server/model"
	"ganapp/src-server/notify"
)

func loadTicket(rt *router, r *http.Request) (*model.SupportTicket, error) {
	ticket, err := model.GetTicket(r.Context(), rt.as.BunDB, r.PathValue("id"))
	if err != nil {
		return nil, err
	}
	if !ticket.CanView(currentUser(r)) {
		return nil, fmt.Errorf("ticket %w", model.ErrNotFound)
	}
	return ticket, nil
}

func Support(rt *router) {
	as := rt.as
	svc := rt.svc

	ticketLink := func(ticket *model.SupportTicket) string {
		return "/support/tickets/" + ticket.ID
	}

	type TicketReqBody struct {
		Subject  string `json:"subject"  validate:"required,max=200"`
		Message  string `json:"message"  validate:"required,max=5000"`
		Category string `json:"category" validate:"max=50"`
		Priority string `json:"priority" validate:"omitempty,oneof=low normal high"`
	}

	rt.handle("POST /support/tickets", AuthMiddleware(as, func(w http.ResponseWriter, r *http.Request) {
		var reqBody TicketReqBody
		if err := decodeJSON(r, &reqBody); err != nil {
			writeError(w, err)
			return
		}
		ticket := &model.SupportTicket{
			UserID:   currentUser(r).ID,
			Subject:  reqBody.Subject,
			Message:  reqBody.Message,
			Category: reqBody.Category,
			Priority: model.TicketPriority(reqBody.Priority),
		}
		if err := ticket.Create(r.Context(), as.BunDB); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, ticket)
	}))

	// own tickets, or everyone's for admins
	rt.handle("GET /support/tickets", AuthMiddleware(as, func(w http.ResponseWriter, r *http.Request) {
		p, err := parsePage(r)
		if err != nil {
			writeError(w, err)
			return
		}
		query := r.URL.Query()
		filter := model.TicketFilter{
			Status:   model.TicketStatus(query.Get("status")),
			Priority: model.TicketPriority(query.Get("priority")),
			Query:    query.Get("q"),
			Limit:    p.Limit,
			Offset:   p.Offset,
		}
		if user := currentUser(r); user.Role != model.RoleAdmin {
			filter.UserID = user.ID
		}
		tickets, total, err := model.ListTickets(r.Context(), as.BunDB, filter)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newListResp(tickets, total, p))
	}))

	rt.handle("GET /support/tickets/{id}", AuthMiddleware(as, func(w http.ResponseWriter, r *http.Request) {
		ticket, err := loadTicket(rt, r)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ticket)
	}))

	type ReplyReqBody struct {
		Message string `json:"message" validate:"required,max=5000"`
	}

	rt.handle("POST /support/tickets/{id}/replies", AuthMiddleware(as, func(w http.ResponseWriter, r *http.Request) {
		ticket, err := loadTicket(rt, r)
		if err != nil {
			writeError(w, err)
			return
		}
		var reqBody ReplyReqBody
		if err := decodeJSON(r, &reqBody); err != nil {
			writeError(w, err)
			return
		}
		user := currentUser(r)
		reply, err := ticket.Reply(r.Context(), as.BunDB, user.ID, reqBody.Message)
		if err != nil {
			writeError(w, err)
			return
		}
		if user.ID != ticket.UserID {
			svc.Dispatcher.Notify(r.Context(), []string{ticket.UserID}, notify.Message{
				Kind:  model.NotificationKindSupport,
				Title: "New reply to your ticket",
				Body:  fmt.Sprintf("Support replied to %q.", ticket.Subject),
				Link:  ticketLink(ticket),
				Email: true,
			})
		}
		writeJSON(w, http.StatusCreated, reply)
	}))

	type StatusReqBody struct {
		Status string `json:"status" validate:"required,oneof=open in_progress resolved closed"`
	}

	rt.handle("PUT /support/tickets/{id}/status", AdminMiddleware(as, func(w http.ResponseWriter, r *http.Request) {
		ticket, err := loadTicket(rt, r)
		if err != nil {
			writeError(w, err)
			return
		}
		var reqBody StatusReqBody
		if err := decodeJSON(r, &reqBody); err != nil {
			writeError(w, err)
			return
		}
		if err := ticket.SetStatus(r.Context(), as.BunDB, model.TicketStatus(reqBody.Status), currentUser(r).ID); err != nil {
			writeError(w, err)
			return
		}
		svc.Dispatcher.Notify(r.Context(), []string{ticket.UserID}, notify.Message{
			Kind:  model.NotificationKindSupport,
			Title: "Ticket status changed",
			Body:  fmt.Sprintf("Your ticket %q is now %s.", ticket.Subject, ticket.Status),
			Link:  ticketLink(ticket),
		})
		writeJSON(w, http.StatusOK, ticket)
	}))
}
