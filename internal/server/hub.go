package server

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/echoscribe/echoscribe/internal/session"
	"github.com/echoscribe/echoscribe/internal/summary"
	"github.com/echoscribe/echoscribe/internal/transcribe"
)

// Hub fans session events out to subscribers, scoped by session id. Delivery
// is best-effort at-most-once to currently subscribed channels; a slow
// subscriber loses messages rather than blocking the publisher.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[chan []byte]struct{}
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[chan []byte]struct{})}
}

// Subscribe adds ch to the session's room. One channel may join many rooms;
// unsubscribing from each room is the caller's responsibility.
func (h *Hub) Subscribe(sessionID string, ch chan []byte) {
	h.mu.Lock()
	room, ok := h.rooms[sessionID]
	if !ok {
		room = make(map[chan []byte]struct{})
		h.rooms[sessionID] = room
	}
	room[ch] = struct{}{}
	h.mu.Unlock()
}

// Unsubscribe removes ch from the session's room. The channel is not closed;
// it may still be subscribed elsewhere.
func (h *Hub) Unsubscribe(sessionID string, ch chan []byte) {
	h.mu.Lock()
	if room, ok := h.rooms[sessionID]; ok {
		delete(room, ch)
		if len(room) == 0 {
			delete(h.rooms, sessionID)
		}
	}
	h.mu.Unlock()
}

// Publish delivers a payload to every current subscriber of the session.
func (h *Hub) Publish(sessionID string, msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.rooms[sessionID] {
		select {
		case ch <- msg:
		default:
		}
	}
}

// Subscribers returns the current subscriber count for a session.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[sessionID])
}

// session.EventBroadcaster implementation.

func (h *Hub) AckStart(sessionID string, status session.Status) {
	h.publishEvent(sessionID, StartAckEvent{
		Event:     newEvent("start_ack", time.Now().UTC()),
		SessionID: sessionID,
		Status:    string(status),
	})
}

func (h *Hub) TranscriptUpdate(sessionID string, c transcribe.Chunk) {
	h.publishEvent(sessionID, TranscriptUpdateEvent{
		Event:      newEvent("transcript_update", time.Now().UTC()),
		SessionID:  sessionID,
		Sequence:   c.Sequence,
		Speaker:    c.Speaker,
		Text:       c.Text,
		Confidence: c.Confidence,
	})
}

func (h *Hub) StatusChanged(sessionID string, status session.Status, sum *summary.Result) {
	event := StatusChangedEvent{
		Event:     newEvent("status_changed", time.Now().UTC()),
		SessionID: sessionID,
		Status:    string(status),
	}
	if sum != nil {
		event.Summary = &SummaryPayload{
			KeyPoints:   sum.KeyPoints,
			ActionItems: sum.ActionItems,
			Decisions:   sum.Decisions,
			Degraded:    sum.Degraded,
		}
	}
	h.publishEvent(sessionID, event)
}

func (h *Hub) Error(sessionID string, cond session.Condition, message string) {
	h.publishEvent(sessionID, ErrorEvent{
		Event:     newEvent("error", time.Now().UTC()),
		SessionID: sessionID,
		Condition: string(cond),
		Message:   message,
	})
}

func (h *Hub) publishEvent(sessionID string, event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("event marshal error: %v", err)
		return
	}
	h.Publish(sessionID, payload)
}
