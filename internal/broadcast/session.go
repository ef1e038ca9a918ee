package broadcast

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browser clients connect straight from the app origin; CORS policy for
	// the REST surface is handled by the router middleware.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Session is one connected client in the room.
type Session struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// ServeWS upgrades the HTTP request to a WebSocket and joins the session to
// the room. Joining is the only subscription step; there are no per-item
// channels.
func ServeWS(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("broadcast: upgrade failed: %v", err)
		return
	}
	session := &Session{hub: hub, conn: conn, send: make(chan []byte, sendBuffer)}
	select {
	case hub.register <- session:
	case <-hub.done:
		conn.Close()
		return
	}
	go session.writePump()
	go session.readPump()
}

// readPump discards inbound frames (clients only listen) and keeps the read
// deadline fresh via pongs. When the connection drops, the session leaves
// the room; no replay of missed events is attempted.
func (s *Session) readPump() {
	defer func() {
		select {
		case s.hub.unregister <- s:
		case <-s.hub.done:
		}
		s.conn.Close()
	}()
	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("broadcast: session read error: %v", err)
			}
			return
		}
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()
	for {
		select {
		case raw, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the session.
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
