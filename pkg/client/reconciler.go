package client

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Event names, mirroring the server's broadcast envelope.
const (
	EventTodoCreated = "todo:created"
	EventTodoUpdated = "todo:updated"
	EventTodoDeleted = "todo:deleted"
)

// Message mirrors the server's broadcast envelope.
type Message struct {
	Event   string          `json:"event"`
	WriteID string          `json:"writeId"`
	Data    json.RawMessage `json:"data"`
}

const (
	defaultNoticeTTL = 5 * time.Second
	pendingWriteTTL  = 30 * time.Second
	maxPendingWrites = 128
)

// Notice is a transient operator-facing message, e.g. after a conflict was
// auto-resolved. Expired notices disappear from Notices().
type Notice struct {
	Text      string
	ExpiresAt time.Time
}

// Reconciler keeps an ordered local cache of todos (head = newest) and
// merges room broadcasts into it. Events originating from this session's
// own writes are recognized by correlation id and consumed without
// re-applying, since the write already updated the cache optimistically.
// The id set is bounded by both a TTL and a size cap, so a lost broadcast
// cannot pin an entry forever.
type Reconciler struct {
	mu      sync.Mutex
	items   []Todo
	pending map[string]time.Time
	order   []string
	notices []Notice

	noticeTTL time.Duration
	now       func() time.Time
}

func NewReconciler() *Reconciler {
	return &Reconciler{
		pending:   make(map[string]time.Time),
		noticeTTL: defaultNoticeTTL,
		now:       time.Now,
	}
}

// TrackWrite records a correlation id for a write this session is about to
// issue; the next inbound event carrying it will be treated as a self-echo.
func (r *Reconciler) TrackWrite(writeID string) {
	if writeID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prunePending()
	if len(r.pending) >= maxPendingWrites {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.pending, oldest)
	}
	r.pending[writeID] = r.now().Add(pendingWriteTTL)
	r.order = append(r.order, writeID)
}

// ForgetWrite drops a tracked id, used when the write failed and no echo
// will ever arrive.
func (r *Reconciler) ForgetWrite(writeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removePending(writeID)
}

// Reset replaces the whole cache with the authoritative list, e.g. after
// (re)connecting.
func (r *Reconciler) Reset(items []Todo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append([]Todo(nil), items...)
}

// Apply merges one broadcast into the cache. All three event kinds are
// idempotent: duplicate delivery leaves the cache unchanged.
func (r *Reconciler) Apply(msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.prunePending()
	if msg.WriteID != "" {
		if _, ours := r.pending[msg.WriteID]; ours {
			// Self-echo: the local write already applied this state.
			r.removePending(msg.WriteID)
			return nil
		}
	}

	switch msg.Event {
	case EventTodoCreated:
		var todo Todo
		if err := json.Unmarshal(msg.Data, &todo); err != nil {
			return fmt.Errorf("failed to decode %s payload: %w", msg.Event, err)
		}
		r.insertLocked(todo)
	case EventTodoUpdated:
		var todo Todo
		if err := json.Unmarshal(msg.Data, &todo); err != nil {
			return fmt.Errorf("failed to decode %s payload: %w", msg.Event, err)
		}
		// Wholesale replacement: the payload is always the full post-write
		// state, never a delta. An unknown id is ignored; a client that
		// missed the create reloads the full list on reconnect.
		for i := range r.items {
			if r.items[i].ID == todo.ID {
				r.items[i] = todo
				break
			}
		}
	case EventTodoDeleted:
		var payload struct {
			ID uint `json:"id"`
		}
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			return fmt.Errorf("failed to decode %s payload: %w", msg.Event, err)
		}
		r.removeLocked(payload.ID)
	default:
		return fmt.Errorf("unknown event %q", msg.Event)
	}
	return nil
}

// Resolve adopts the authoritative state from a rejected write and posts a
// transient notice. The local pending change is simply discarded.
func (r *Reconciler) Resolve(conflict *Conflict) {
	r.mu.Lock()
	defer r.mu.Unlock()

	replaced := false
	for i := range r.items {
		if r.items[i].ID == conflict.ServerTodo.ID {
			r.items[i] = conflict.ServerTodo
			replaced = true
			break
		}
	}
	if !replaced {
		r.items = append([]Todo{conflict.ServerTodo}, r.items...)
	}
	r.notices = append(r.notices, Notice{
		Text:      "Your change was overridden by a newer update from another session",
		ExpiresAt: r.now().Add(r.noticeTTL),
	})
}

// Todos returns a copy of the cache, newest first.
func (r *Reconciler) Todos() []Todo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Todo(nil), r.items...)
}

// Notices returns the currently visible notices, dropping expired ones.
func (r *Reconciler) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	kept := r.notices[:0]
	for _, n := range r.notices {
		if n.ExpiresAt.After(now) {
			kept = append(kept, n)
		}
	}
	r.notices = kept
	return append([]Notice(nil), r.notices...)
}

// The apply* methods are the optimistic local side of this session's own
// writes; Client calls them once the server confirms.

func (r *Reconciler) applyCreated(todo Todo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.insertLocked(todo)
}

func (r *Reconciler) applyUpdated(todo Todo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.items {
		if r.items[i].ID == todo.ID {
			r.items[i] = todo
			return
		}
	}
	r.items = append([]Todo{todo}, r.items...)
}

func (r *Reconciler) applyDeleted(id uint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(id)
}

func (r *Reconciler) dropCompleted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.items[:0]
	for _, item := range r.items {
		if !item.Completed {
			kept = append(kept, item)
		}
	}
	r.items = kept
}

func (r *Reconciler) insertLocked(todo Todo) {
	for i := range r.items {
		if r.items[i].ID == todo.ID {
			return
		}
	}
	r.items = append([]Todo{todo}, r.items...)
}

func (r *Reconciler) removeLocked(id uint) {
	for i := range r.items {
		if r.items[i].ID == id {
			r.items = append(r.items[:i], r.items[i+1:]...)
			return
		}
	}
}

func (r *Reconciler) prunePending() {
	now := r.now()
	for id, deadline := range r.pending {
		if !deadline.After(now) {
			delete(r.pending, id)
		}
	}
	if len(r.pending) < len(r.order) {
		kept := r.order[:0]
		for _, id := range r.order {
			if _, ok := r.pending[id]; ok {
				kept = append(kept, id)
			}
		}
		r.order = kept
	}
}

func (r *Reconciler) removePending(writeID string) {
	if _, ok := r.pending[writeID]; !ok {
		return
	}
	delete(r.pending, writeID)
	for i, id := range r.order {
		if id == writeID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}
