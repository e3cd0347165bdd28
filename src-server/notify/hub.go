// Package notify delivers notifications: rows in the database, frames on
// the realtime websocket channel, emails and Discord announcements.
package notify

import (
	"encoding/json"
	"log/slog"
	"sync"
)

const subscriberBuffer = 16

type Subscriber struct {
	UserID string
	frames chan []byte
}

// Frames waiting to be written to the connection. Closed when the hub drops
// the subscriber.
func (s *Subscriber) Frames() <-chan []byte {
	return s.frames
}

// Hub fans realtime frames out to every open connection of a user.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*Subscriber]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*Subscriber]struct{})}
}

func (h *Hub) Subscribe(userID string) *Subscriber {
	sub := &Subscriber{UserID: userID, frames: make(chan []byte, subscriberBuffer)}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[*Subscriber]struct{})
	}
	h.subs[userID][sub] = struct{}{}
	return sub
}

func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.remove(sub)
}

// must hold h.mu
func (h *Hub) remove(sub *Subscriber) {
	userSubs, ok := h.subs[sub.UserID]
	if !ok {
		return
	}
	if _, ok := userSubs[sub]; !ok {
		return
	}
	delete(userSubs, sub)
	close(sub.frames)
	if len(userSubs) == 0 {
		delete(h.subs, sub.UserID)
	}
}

type Frame struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Sends the frame to every connection of the user and returns how many got
// it. A subscriber whose buffer is full is dropped instead of blocking.
func (h *Hub) Publish(userID string, frame Frame) int {
	payload, err := json.Marshal(frame)
	if err != nil {
		slog.Error("can't marshal realtime frame", "type", frame.Type, "error", err)
		return 0
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	delivered := 0
	for sub := range h.subs[userID] {
		select {
		case sub.frames <- payload:
			delivered++
		default:
			slog.Warn("dropping slow realtime subscriber", "user_id", userID)
			h.remove(sub)
		}
	}
	return delivered
}

// Number of open connections of the user, or of everyone when userID is blank.
func (h *Hub) Count(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if userID != "" {
		return len(h.subs[userID])
	}
	total := 0
	for _, userSubs := range h.subs {
		total += len(userSubs)
	}
	return total
}

// Drops every subscriber so their connections close.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, userSubs := range h.subs {
		for sub := range userSubs {
			h.remove(sub)
		}
	}
}
