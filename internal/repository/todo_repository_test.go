package repository

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/todosync/todo-sync-backend/internal/domain"
)

var testDBCounter atomic.Int64

func newTestRepo(t *testing.T) TodoRepository {
	t.Helper()
	dsn := fmt.Sprintf("file:repo_test_%d?mode=memory&cache=shared", testDBCounter.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := db.AutoMigrate(&domain.Todo{}); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return NewGormTodoRepository(db)
}

func mustCreate(t *testing.T, repo TodoRepository, todo *domain.Todo) *domain.Todo {
	t.Helper()
	if todo.Version == 0 {
		todo.Version = 1
	}
	if todo.Category == "" {
		todo.Category = domain.CategoryLife
	}
	if todo.Priority == "" {
		todo.Priority = domain.PriorityMedium
	}
	if err := repo.Create(context.Background(), todo); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	return todo
}

func TestFindByIDNotFound(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.FindByID(context.Background(), 42)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("FindByID() = %v, expected domain.ErrNotFound", err)
	}
}

func TestUpdateVersionedCAS(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	todo := mustCreate(t, repo, &domain.Todo{Title: "item"})

	rows, err := repo.UpdateVersioned(ctx, todo.ID, 1, map[string]any{
		"title":   "renamed",
		"version": int64(2),
	})
	if err != nil {
		t.Fatalf("UpdateVersioned() error: %v", err)
	}
	if rows != 1 {
		t.Fatalf("rows = %d, expected 1 when versions match", rows)
	}

	// The same expected version must now miss: the swap already happened.
	rows, err = repo.UpdateVersioned(ctx, todo.ID, 1, map[string]any{
		"title":   "lost race",
		"version": int64(2),
	})
	if err != nil {
		t.Fatalf("UpdateVersioned() error: %v", err)
	}
	if rows != 0 {
		t.Fatalf("rows = %d, expected 0 on version mismatch", rows)
	}

	stored, err := repo.FindByID(ctx, todo.ID)
	if err != nil {
		t.Fatalf("FindByID() error: %v", err)
	}
	if stored.Title != "renamed" || stored.Version != 2 {
		t.Errorf("stored = %q v%d, expected renamed v2", stored.Title, stored.Version)
	}
}

func TestDeleteNotFound(t *testing.T) {
	repo := newTestRepo(t)

	if err := repo.Delete(context.Background(), 42); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Delete() = %v, expected domain.ErrNotFound", err)
	}
}

func TestDeleteIsFinal(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	todo := mustCreate(t, repo, &domain.Todo{Title: "item"})
	if err := repo.Delete(ctx, todo.ID); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if _, err := repo.FindByID(ctx, todo.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("FindByID() after delete = %v, expected domain.ErrNotFound", err)
	}

	// The id is gone for good; the sequence must not hand it out again.
	next := mustCreate(t, repo, &domain.Todo{Title: "next"})
	if next.ID == todo.ID {
		t.Errorf("id %d was reassigned after deletion", todo.ID)
	}
}

func TestDeleteCompleted(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	completed := map[uint]bool{}
	for i := 0; i < 5; i++ {
		todo := mustCreate(t, repo, &domain.Todo{
			Title:     fmt.Sprintf("item %d", i),
			Completed: i%2 == 0,
		})
		if todo.Completed {
			completed[todo.ID] = true
		}
	}

	ids, err := repo.DeleteCompleted(ctx)
	if err != nil {
		t.Fatalf("DeleteCompleted() error: %v", err)
	}
	if len(ids) != len(completed) {
		t.Fatalf("deleted %d todos, expected %d", len(ids), len(completed))
	}
	for _, id := range ids {
		if !completed[id] {
			t.Errorf("unexpected id %d in deleted set", id)
		}
	}

	remaining, err := repo.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll() error: %v", err)
	}
	for _, todo := range remaining {
		if todo.Completed {
			t.Errorf("completed todo %d survived the sweep", todo.ID)
		}
	}

	// Second sweep finds nothing.
	ids, err = repo.DeleteCompleted(ctx)
	if err != nil {
		t.Fatalf("DeleteCompleted() error: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("second sweep deleted %d todos, expected 0", len(ids))
	}
}

func TestGetAllOrder(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	var ids []uint
	for i := 0; i < 3; i++ {
		todo := mustCreate(t, repo, &domain.Todo{Title: fmt.Sprintf("item %d", i)})
		ids = append(ids, todo.ID)
	}

	todos, err := repo.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll() error: %v", err)
	}
	if len(todos) != 3 {
		t.Fatalf("got %d todos, expected 3", len(todos))
	}
	for i, todo := range todos {
		if expected := ids[len(ids)-1-i]; todo.ID != expected {
			t.Errorf("position %d has id %d, expected %d (newest first)", i, todo.ID, expected)
		}
	}
}
