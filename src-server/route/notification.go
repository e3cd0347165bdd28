package route

import (
	"net/http"

	"ganapp/src-server/model"
)

func Notification(rt *router) {
	as := rt.as
	svc := rt.svc

	// realtime channel
	rt.handle("GET /notifications/ws", AuthMiddleware(as, func(w http.ResponseWriter, r *http.Request) {
		svc.Dispatcher.Hub().ServeWS(w, r, currentUser(r).ID)
	}))

	rt.handle("GET /notifications", AuthMiddleware(as, func(w http.ResponseWriter, r *http.Request) {
		p, err := parsePage(r)
		if err != nil {
			writeError(w, err)
			return
		}
		unreadOnly := r.URL.Query().Get("unread") == "true"
		notifications, total, err := model.ListNotifications(r.Context(), as.BunDB, currentUser(r).ID, unreadOnly, p.Limit, p.Offset)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newListResp(notifications, total, p))
	}))

	rt.handle("GET /notifications/unread-count", AuthMiddleware(as, func(w http.ResponseWriter, r *http.Request) {
		count, err := model.CountUnreadNotifications(r.Context(), as.BunDB, currentUser(r).ID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"unread": count})
	}))

	rt.handle("POST /notifications/{id}/read", AuthMiddleware(as, func(w http.ResponseWriter, r *http.Request) {
		if err := model.MarkNotificationRead(r.Context(), as.BunDB, currentUser(r).ID, r.PathValue("id")); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	rt.handle("POST /notifications/read-all", AuthMiddleware(as, func(w http.ResponseWriter, r *http.Request) {
		changed, err := model.MarkAllNotificationsRead(r.Context(), as.BunDB, currentUser(r).ID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int64{"updated": changed})
	}))

	rt.handle("DELETE /notifications/{id}", AuthMiddleware(as, func(w http.ResponseWriter, r *http.Request) {
		if err := model.DeleteNotification(r.Context(), as.BunDB, currentUser(r).ID, r.PathValue("id")); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
}
