package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// Listen joins the server's broadcast room and applies every inbound event
// to the reconciler until ctx is cancelled or the connection drops. It
// returns the read error (or ctx.Err() on cancellation); reconnecting is the
// caller's job, and after a reconnect Load must be called to refresh the
// cache, since missed events are not replayed.
func (c *Client) Listen(ctx context.Context) error {
	wsURL, err := c.socketURL()
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", wsURL, err)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			conn.Close()
		case <-done:
			conn.Close()
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("connection lost: %w", err)
		}
		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Printf("client: ignoring malformed broadcast: %v", err)
			continue
		}
		if err := c.rec.Apply(msg); err != nil {
			log.Printf("client: ignoring broadcast: %v", err)
		}
	}
}

func (c *Client) socketURL() (string, error) {
	parsed, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL %q: %w", c.baseURL, err)
	}
	switch parsed.Scheme {
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	}
	parsed.Path = "/ws"
	return parsed.String(), nil
}
