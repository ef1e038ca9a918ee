// Package client is a Go client for the todo-sync backend: a thin HTTP
// wrapper around the REST surface plus a Reconciler that keeps a local todo
// cache in step with the server's broadcast room.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Todo mirrors the server's wire representation of an item.
type Todo struct {
	ID             uint   `json:"id"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	Completed      bool   `json:"completed"`
	Category       string `json:"category"`
	CustomCategory string `json:"customCategory"`
	Priority       string `json:"priority"`
	Version        int64  `json:"version"`
	LastModifiedBy string `json:"lastModifiedBy"`
	CreatedAt      string `json:"createdAt"`
	UpdatedAt      string `json:"updatedAt"`
}

// CreateParams is the payload for creating a todo. Title is required;
// everything else falls back to server defaults.
type CreateParams struct {
	Title          string `json:"title"`
	Description    string `json:"description,omitempty"`
	Completed      *bool  `json:"completed,omitempty"`
	Category       string `json:"category,omitempty"`
	CustomCategory string `json:"customCategory,omitempty"`
	Priority       string `json:"priority,omitempty"`
}

// UpdateParams is a partial update: nil fields keep their stored value.
// Version should carry the version the caller last observed; leaving it nil
// skips conflict detection on the server.
type UpdateParams struct {
	Title          *string `json:"title,omitempty"`
	Description    *string `json:"description,omitempty"`
	Completed      *bool   `json:"completed,omitempty"`
	Category       *string `json:"category,omitempty"`
	CustomCategory *string `json:"customCategory,omitempty"`
	Priority       *string `json:"priority,omitempty"`
	Version        *int64  `json:"version,omitempty"`
}

// Conflict is the decoded 409 response. It satisfies error so Update can
// return it directly; by the time the caller sees it the reconciler has
// already adopted ServerTodo (last-writer-wins from the rejected writer's
// point of view).
type Conflict struct {
	Conflict      bool   `json:"conflict"`
	ServerVersion int64  `json:"serverVersion"`
	ClientVersion int64  `json:"clientVersion"`
	ServerTodo    Todo   `json:"serverTodo"`
	Message       string `json:"message"`
}

func (c *Conflict) Error() string {
	return fmt.Sprintf("conflict: server has version %d, sent %d", c.ServerVersion, c.ClientVersion)
}

// APIError is any non-2xx, non-conflict response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.StatusCode == http.StatusNotFound
}

// Client talks to one todo-sync server. Each Client gets a stable device id,
// sent with every write and recorded server-side as lastModifiedBy, and a
// fresh correlation id per write for echo suppression.
type Client struct {
	baseURL  string
	http     *http.Client
	deviceID string
	rec      *Reconciler
}

func New(baseURL string) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     &http.Client{Timeout: 10 * time.Second},
		deviceID: "device-" + uuid.NewString(),
		rec:      NewReconciler(),
	}
}

func (c *Client) DeviceID() string {
	return c.deviceID
}

// Reconciler exposes the local cache fed by Listen and by this client's own
// writes.
func (c *Client) Reconciler() *Reconciler {
	return c.rec
}

// Load fetches the authoritative full list and resets the local cache to it.
// Call it once after connecting and again after any reconnect: missed
// broadcasts are never replayed.
func (c *Client) Load(ctx context.Context) ([]Todo, error) {
	var todos []Todo
	if err := c.do(ctx, http.MethodGet, "/api/todos", nil, "", &todos); err != nil {
		return nil, err
	}
	c.rec.Reset(todos)
	return todos, nil
}

// Get fetches a single todo without touching the local cache.
func (c *Client) Get(ctx context.Context, id uint) (*Todo, error) {
	var todo Todo
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/todos/%d", id), nil, "", &todo); err != nil {
		return nil, err
	}
	return &todo, nil
}

// Create adds a todo and applies it to the local cache optimistically; the
// broadcast echo for this write is suppressed by correlation id.
func (c *Client) Create(ctx context.Context, params CreateParams) (*Todo, error) {
	writeID := uuid.NewString()
	c.rec.TrackWrite(writeID)

	var todo Todo
	if err := c.do(ctx, http.MethodPost, "/api/todos", params, writeID, &todo); err != nil {
		c.rec.ForgetWrite(writeID)
		return nil, err
	}
	c.rec.applyCreated(todo)
	return &todo, nil
}

// Update writes a partial update. On a version conflict the reconciler
// adopts the server's state, the pending local change is discarded, and the
// returned error is the *Conflict carrying both versions.
func (c *Client) Update(ctx context.Context, id uint, params UpdateParams) (*Todo, error) {
	writeID := uuid.NewString()
	c.rec.TrackWrite(writeID)

	var todo Todo
	err := c.do(ctx, http.MethodPut, fmt.Sprintf("/api/todos/%d", id), params, writeID, &todo)
	if err != nil {
		// A rejected write never broadcasts, so there is no echo to suppress.
		c.rec.ForgetWrite(writeID)
		if conflict, ok := err.(*Conflict); ok {
			c.rec.Resolve(conflict)
		}
		return nil, err
	}
	c.rec.applyUpdated(todo)
	return &todo, nil
}

// Delete removes a todo and drops it from the local cache.
func (c *Client) Delete(ctx context.Context, id uint) error {
	writeID := uuid.NewString()
	c.rec.TrackWrite(writeID)

	if err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/todos/%d", id), nil, writeID, nil); err != nil {
		c.rec.ForgetWrite(writeID)
		return err
	}
	c.rec.applyDeleted(id)
	return nil
}

// DeleteCompleted sweeps every completed todo. The server emits one deleted
// event per removed item under a single write id, so rather than tracking
// the id for suppression the cache is cleaned optimistically and the echoes
// land as idempotent no-ops.
func (c *Client) DeleteCompleted(ctx context.Context) (int64, error) {
	var resp struct {
		DeletedCount int64 `json:"deletedCount"`
	}
	if err := c.do(ctx, http.MethodDelete, "/api/todos/completed/all", nil, "", &resp); err != nil {
		return 0, err
	}
	c.rec.dropCompleted()
	return resp.DeletedCount, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, writeID string, out any) error {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Device-ID", c.deviceID)
	if writeID != "" {
		req.Header.Set("X-Write-ID", writeID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		var conflict Conflict
		if err := json.NewDecoder(resp.Body).Decode(&conflict); err != nil {
			return fmt.Errorf("failed to decode conflict response: %w", err)
		}
		return &conflict
	}
	if resp.StatusCode >= 400 {
		var errBody struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		msg := errBody.Error
		if msg == "" {
			msg = errBody.Message
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
