package broadcast

import (
	"context"
	"encoding/json"
	"log"
	"sync/atomic"
)

// Event names pushed to the room. Created and updated carry the full todo,
// deleted carries just the id.
const (
	EventTodoCreated = "todo:created"
	EventTodoUpdated = "todo:updated"
	EventTodoDeleted = "todo:deleted"
)

// Message is the wire envelope for room broadcasts. WriteID is the
// correlation id of the originating write so the issuing session can
// recognize its own echo.
type Message struct {
	Event   string          `json:"event"`
	WriteID string          `json:"writeId,omitempty"`
	Data    json.RawMessage `json:"data"`
}

// Hub owns the single shared room. The session set is touched only by the
// Run loop; registration, removal and fan-out all go through channels, so no
// other goroutine ever sees the map. Construct one per server and stop it by
// cancelling the context passed to Run.
type Hub struct {
	register   chan *Session
	unregister chan *Session
	outbound   chan []byte
	sessions   map[*Session]bool
	done       chan struct{}
	count      atomic.Int64
}

func NewHub() *Hub {
	return &Hub{
		register:   make(chan *Session),
		unregister: make(chan *Session),
		outbound:   make(chan []byte, 256),
		sessions:   make(map[*Session]bool),
		done:       make(chan struct{}),
	}
}

// Run processes room membership and fan-out until ctx is cancelled, then
// closes every session. Call it in its own goroutine.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			for session := range h.sessions {
				close(session.send)
				delete(h.sessions, session)
			}
			h.count.Store(0)
			return
		case session := <-h.register:
			h.sessions[session] = true
			h.count.Store(int64(len(h.sessions)))
		case session := <-h.unregister:
			if _, ok := h.sessions[session]; ok {
				delete(h.sessions, session)
				close(session.send)
				h.count.Store(int64(len(h.sessions)))
			}
		case raw := <-h.outbound:
			for session := range h.sessions {
				select {
				case session.send <- raw:
				default:
					// Slow consumer: drop it rather than stall the room.
					delete(h.sessions, session)
					close(session.send)
				}
			}
			h.count.Store(int64(len(h.sessions)))
		}
	}
}

// Publish fans payload out to every session in the room. It never blocks the
// caller: delivery is best-effort and a saturated queue drops the event.
func (h *Hub) Publish(event, writeID string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("broadcast: marshal %s payload: %v", event, err)
		return
	}
	raw, err := json.Marshal(Message{Event: event, WriteID: writeID, Data: data})
	if err != nil {
		log.Printf("broadcast: marshal %s envelope: %v", event, err)
		return
	}
	select {
	case h.outbound <- raw:
	case <-h.done:
	default:
		log.Printf("broadcast: outbound queue full, dropping %s event", event)
	}
}

// Sessions reports the current room size.
func (h *Hub) Sessions() int {
	return int(h.count.Load())
}
