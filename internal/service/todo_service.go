package service

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/todosync/todo-sync-backend/internal/broadcast"
	"github.com/todosync/todo-sync-backend/internal/domain"
	"github.com/todosync/todo-sync-backend/internal/repository"
)

// How many times the unchecked (no client version) write path re-reads and
// retries after losing a compare-and-swap race before giving up.
const forceWriteRetries = 3

// Broadcaster pushes committed mutations to every session in the room.
// Delivery is fire-and-forget; the coordinator never waits on it.
type Broadcaster interface {
	Publish(event, writeID string, payload any)
}

// WriteMeta identifies the writer. DeviceID is recorded as lastModifiedBy;
// WriteID is the per-write correlation id echoed in the broadcast envelope
// so the originating session can suppress its own echo.
type WriteMeta struct {
	DeviceID string
	WriteID  string
}

// CreateTodoRequest holds the data needed to create a new todo.
type CreateTodoRequest struct {
	Title          string `json:"title"`
	Description    string `json:"description"`
	Completed      *bool  `json:"completed"`
	Category       string `json:"category"`
	CustomCategory string `json:"customCategory"`
	Priority       string `json:"priority"`
}

// UpdateTodoRequest holds the data for updating an existing todo. Pointer
// fields distinguish "omitted, keep the stored value" from "set to the zero
// value". Version is the version the writer last observed; nil skips the
// optimistic-concurrency check.
type UpdateTodoRequest struct {
	Title          *string `json:"title"`
	Description    *string `json:"description"`
	Completed      *bool   `json:"completed"`
	Category       *string `json:"category"`
	CustomCategory *string `json:"customCategory"`
	Priority       *string `json:"priority"`
	Version        *int64  `json:"version"`
}

// TodoResponse is the representation of a todo returned by the service and
// carried in broadcast events.
type TodoResponse struct {
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

// DeletedPayload is the broadcast payload for todo:deleted events.
type DeletedPayload struct {
	ID uint `json:"id"`
}

// NewTodoResponse converts a stored todo to its API representation.
func NewTodoResponse(todo *domain.Todo) TodoResponse {
	return TodoResponse{
		ID:             todo.ID,
		Title:          todo.Title,
		Description:    todo.Description,
		Completed:      todo.Completed,
		Category:       string(todo.Category),
		CustomCategory: todo.CustomCategory,
		Priority:       string(todo.Priority),
		Version:        todo.Version,
		LastModifiedBy: todo.LastModifiedBy,
		CreatedAt:      todo.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      todo.UpdatedAt.Format(time.RFC3339),
	}
}

// TodoService coordinates every mutation: validate, run the version guard,
// persist, then broadcast. Persistence always commits before the broadcast
// is emitted, and a write that did not commit is never broadcast.
type TodoService interface {
	CreateTodo(ctx context.Context, req CreateTodoRequest, meta WriteMeta) (*TodoResponse, error)
	GetTodoByID(ctx context.Context, id uint) (*TodoResponse, error)
	GetAllTodos(ctx context.Context) ([]TodoResponse, error)
	UpdateTodo(ctx context.Context, id uint, req UpdateTodoRequest, meta WriteMeta) (*TodoResponse, error)
	DeleteTodo(ctx context.Context, id uint, meta WriteMeta) error
	DeleteCompleted(ctx context.Context, meta WriteMeta) (int64, error)
}

type todoService struct {
	repo      repository.TodoRepository
	publisher Broadcaster
	locks     *itemLocks
}

// NewTodoService creates the write coordinator on top of a repository and a
// broadcaster.
func NewTodoService(repo repository.TodoRepository, publisher Broadcaster) TodoService {
	return &todoService{
		repo:      repo,
		publisher: publisher,
		locks:     newItemLocks(),
	}
}

func (s *todoService) CreateTodo(ctx context.Context, req CreateTodoRequest, meta WriteMeta) (*TodoResponse, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, &domain.ValidationError{Field: "title", Reason: "must not be empty"}
	}

	category := domain.CategoryLife
	if req.Category != "" {
		category = domain.Category(req.Category)
		if !category.Valid() {
			return nil, &domain.ValidationError{Field: "category", Reason: "unknown category " + req.Category}
		}
	}
	customCategory := strings.TrimSpace(req.CustomCategory)
	if category == domain.CategoryCustom && customCategory == "" {
		return nil, &domain.ValidationError{Field: "customCategory", Reason: "required when category is custom"}
	}

	priority := domain.PriorityMedium
	if req.Priority != "" {
		priority = domain.Priority(req.Priority)
		if !priority.Valid() {
			return nil, &domain.ValidationError{Field: "priority", Reason: "unknown priority " + req.Priority}
		}
	}

	completed := false
	if req.Completed != nil {
		completed = *req.Completed
	}

	todo := &domain.Todo{
		Title:          title,
		Description:    strings.TrimSpace(req.Description),
		Completed:      completed,
		Category:       category,
		CustomCategory: customCategory,
		Priority:       priority,
		Version:        1,
		LastModifiedBy: meta.DeviceID,
	}
	if err := s.repo.Create(ctx, todo); err != nil {
		log.Printf("service: create todo: %v", err)
		return nil, &domain.StoreError{Op: "create", Err: err}
	}

	resp := NewTodoResponse(todo)
	s.publisher.Publish(broadcast.EventTodoCreated, meta.WriteID, resp)
	return &resp, nil
}

func (s *todoService) GetTodoByID(ctx context.Context, id uint) (*TodoResponse, error) {
	todo, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		log.Printf("service: fetch todo %d: %v", id, err)
		return nil, &domain.StoreError{Op: "fetch", Err: err}
	}
	resp := NewTodoResponse(todo)
	return &resp, nil
}

func (s *todoService) GetAllTodos(ctx context.Context) ([]TodoResponse, error) {
	todos, err := s.repo.GetAll(ctx)
	if err != nil {
		log.Printf("service: fetch all todos: %v", err)
		return nil, &domain.StoreError{Op: "fetch all", Err: err}
	}
	responses := make([]TodoResponse, 0, len(todos))
	for i := range todos {
		responses = append(responses, NewTodoResponse(&todos[i]))
	}
	return responses, nil
}

func (s *todoService) UpdateTodo(ctx context.Context, id uint, req UpdateTodoRequest, meta WriteMeta) (*TodoResponse, error) {
	// Serialize same-item writes so commit order matches broadcast order.
	s.locks.lock(id)
	defer s.locks.unlock(id)

	current, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		log.Printf("service: load todo %d for update: %v", id, err)
		return nil, &domain.StoreError{Op: "load", Err: err}
	}

	for attempt := 0; ; attempt++ {
		if err := checkVersion(current, req.Version); err != nil {
			return nil, err
		}

		fields, err := s.updateFields(current, req)
		if err != nil {
			return nil, err
		}
		fields["version"] = current.Version + 1
		fields["last_modified_by"] = meta.DeviceID

		rows, err := s.repo.UpdateVersioned(ctx, id, current.Version, fields)
		if err != nil {
			log.Printf("service: update todo %d: %v", id, err)
			return nil, &domain.StoreError{Op: "update", Err: err}
		}
		if rows > 0 {
			break
		}

		// Lost the compare-and-swap: someone committed after our read.
		// Re-read and let the guard decide with the fresh version.
		current, err = s.repo.FindByID(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, err
			}
			return nil, &domain.StoreError{Op: "reload", Err: err}
		}
		if attempt >= forceWriteRetries {
			return nil, &domain.StoreError{Op: "update", Err: errors.New("persistent version race")}
		}
	}

	updated, err := s.repo.FindByID(ctx, id)
	if err != nil {
		log.Printf("service: reload todo %d after update: %v", id, err)
		return nil, &domain.StoreError{Op: "reload", Err: err}
	}

	resp := NewTodoResponse(updated)
	s.publisher.Publish(broadcast.EventTodoUpdated, meta.WriteID, resp)
	return &resp, nil
}

// updateFields builds the column map from the fields present in the request,
// validating against the would-be resulting state (category and label are
// checked together because either side may come from the request or the
// stored todo).
func (s *todoService) updateFields(current *domain.Todo, req UpdateTodoRequest) (map[string]any, error) {
	fields := make(map[string]any)

	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			return nil, &domain.ValidationError{Field: "title", Reason: "must not be empty"}
		}
		fields["title"] = title
	}
	if req.Description != nil {
		fields["description"] = strings.TrimSpace(*req.Description)
	}
	if req.Completed != nil {
		fields["completed"] = *req.Completed
	}

	category := current.Category
	if req.Category != nil {
		category = domain.Category(*req.Category)
		if !category.Valid() {
			return nil, &domain.ValidationError{Field: "category", Reason: "unknown category " + *req.Category}
		}
		fields["category"] = string(category)
	}
	customCategory := current.CustomCategory
	if req.CustomCategory != nil {
		customCategory = strings.TrimSpace(*req.CustomCategory)
		fields["custom_category"] = customCategory
	}
	if category == domain.CategoryCustom && customCategory == "" {
		return nil, &domain.ValidationError{Field: "customCategory", Reason: "required when category is custom"}
	}

	if req.Priority != nil {
		priority := domain.Priority(*req.Priority)
		if !priority.Valid() {
			return nil, &domain.ValidationError{Field: "priority", Reason: "unknown priority " + *req.Priority}
		}
		fields["priority"] = string(priority)
	}

	return fields, nil
}

// DeleteTodo removes a todo. Deletion is final and unconditional: there is
// no version check.
func (s *todoService) DeleteTodo(ctx context.Context, id uint, meta WriteMeta) error {
	s.locks.lock(id)
	defer s.locks.unlock(id)

	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		log.Printf("service: delete todo %d: %v", id, err)
		return &domain.StoreError{Op: "delete", Err: err}
	}

	s.publisher.Publish(broadcast.EventTodoDeleted, meta.WriteID, DeletedPayload{ID: id})
	return nil
}

// DeleteCompleted removes every completed todo in one transaction, then
// emits one todo:deleted event per removed id so subscribers apply the same
// per-item removal they use for individual deletes.
func (s *todoService) DeleteCompleted(ctx context.Context, meta WriteMeta) (int64, error) {
	ids, err := s.repo.DeleteCompleted(ctx)
	if err != nil {
		log.Printf("service: delete completed todos: %v", err)
		return 0, &domain.StoreError{Op: "delete completed", Err: err}
	}
	for _, id := range ids {
		s.publisher.Publish(broadcast.EventTodoDeleted, meta.WriteID, DeletedPayload{ID: id})
	}
	return int64(len(ids)), nil
}
