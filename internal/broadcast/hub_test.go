package broadcast

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func startRoom(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWS(hub, w, r)
	}))
	t.Cleanup(server.Close)
	return server
}

func dialRoom(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial room: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForSessions(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.Sessions() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("room has %d sessions, expected %d", hub.Sessions(), want)
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read broadcast: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("failed to decode envelope: %v", err)
	}
	return msg
}

func TestPublishReachesEverySession(t *testing.T) {
	hub := startHub(t)
	server := startRoom(t, hub)

	first := dialRoom(t, server)
	second := dialRoom(t, server)
	waitForSessions(t, hub, 2)

	hub.Publish(EventTodoCreated, "w1", map[string]any{"id": 1, "title": "Buy milk"})

	for _, conn := range []*websocket.Conn{first, second} {
		msg := readMessage(t, conn)
		if msg.Event != EventTodoCreated {
			t.Errorf("event = %q, expected %q", msg.Event, EventTodoCreated)
		}
		if msg.WriteID != "w1" {
			t.Errorf("writeId = %q, expected w1", msg.WriteID)
		}
		var payload struct {
			ID    uint   `json:"id"`
			Title string `json:"title"`
		}
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			t.Fatalf("failed to decode payload: %v", err)
		}
		if payload.ID != 1 || payload.Title != "Buy milk" {
			t.Errorf("payload = %+v", payload)
		}
	}
}

func TestPublishOrderPreserved(t *testing.T) {
	hub := startHub(t)
	server := startRoom(t, hub)

	conn := dialRoom(t, server)
	waitForSessions(t, hub, 1)

	const updates = 10
	for i := 1; i <= updates; i++ {
		hub.Publish(EventTodoUpdated, "", map[string]any{"id": 1, "version": i + 1})
	}

	for i := 1; i <= updates; i++ {
		msg := readMessage(t, conn)
		var payload struct {
			Version int `json:"version"`
		}
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			t.Fatalf("failed to decode payload: %v", err)
		}
		if payload.Version != i+1 {
			t.Fatalf("message %d carries version %d, expected %d (single-item order must hold)", i, payload.Version, i+1)
		}
	}
}

func TestDisconnectLeavesRoom(t *testing.T) {
	hub := startHub(t)
	server := startRoom(t, hub)

	conn := dialRoom(t, server)
	other := dialRoom(t, server)
	waitForSessions(t, hub, 2)

	conn.Close()
	waitForSessions(t, hub, 1)

	// The surviving session still gets broadcasts.
	hub.Publish(EventTodoDeleted, "", map[string]uint{"id": 3})
	msg := readMessage(t, other)
	if msg.Event != EventTodoDeleted {
		t.Errorf("event = %q, expected %q", msg.Event, EventTodoDeleted)
	}
}

func TestHubShutdownClosesSessions(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	server := startRoom(t, hub)

	conn := dialRoom(t, server)
	waitForSessions(t, hub, 1)

	cancel()
	waitForSessions(t, hub, 0)

	// Publishing after teardown must not block or panic.
	hub.Publish(EventTodoCreated, "", map[string]uint{"id": 1})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}
