package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/todosync/todo-sync-backend/internal/domain"
)

// TodoRepository defines the data operations for todos. UpdateVersioned is a
// compare-and-swap: it applies fields only if the stored version still equals
// expectedVersion, relying on the database's single-row atomicity.
type TodoRepository interface {
	Create(ctx context.Context, todo *domain.Todo) error
	FindByID(ctx context.Context, id uint) (*domain.Todo, error)
	GetAll(ctx context.Context) ([]domain.Todo, error)
	UpdateVersioned(ctx context.Context, id uint, expectedVersion int64, fields map[string]any) (int64, error)
	Delete(ctx context.Context, id uint) error
	DeleteCompleted(ctx context.Context) ([]uint, error)
}

// gormTodoRepository implements TodoRepository using GORM
type gormTodoRepository struct {
	db *gorm.DB
}

// NewGormTodoRepository creates a new GORM todo repository
func NewGormTodoRepository(db *gorm.DB) TodoRepository {
	return &gormTodoRepository{db: db}
}

func (r *gormTodoRepository) Create(ctx context.Context, todo *domain.Todo) error {
	return r.db.WithContext(ctx).Create(todo).Error
}

func (r *gormTodoRepository) FindByID(ctx context.Context, id uint) (*domain.Todo, error) {
	var todo domain.Todo
	result := r.db.WithContext(ctx).First(&todo, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, result.Error
	}
	return &todo, nil
}

// GetAll returns every live todo, newest first. The id tiebreak keeps the
// order deterministic for rows created in the same clock tick.
func (r *gormTodoRepository) GetAll(ctx context.Context) ([]domain.Todo, error) {
	var todos []domain.Todo
	result := r.db.WithContext(ctx).Order("created_at DESC, id DESC").Find(&todos)
	if result.Error != nil {
		return nil, result.Error
	}
	return todos, nil
}

// UpdateVersioned returns the number of rows updated: 1 when the stored
// version still matched expectedVersion, 0 when a concurrent writer got
// there first (or the row is gone).
func (r *gormTodoRepository) UpdateVersioned(ctx context.Context, id uint, expectedVersion int64, fields map[string]any) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&domain.Todo{}).
		Where("id = ? AND version = ?", id, expectedVersion).
		Updates(fields)
	return result.RowsAffected, result.Error
}

func (r *gormTodoRepository) Delete(ctx context.Context, id uint) error {
	result := r.db.WithContext(ctx).Delete(&domain.Todo{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeleteCompleted snapshots the completed set and removes it in one
// transaction, returning the deleted ids so the caller can emit one event
// per item.
func (r *gormTodoRepository) DeleteCompleted(ctx context.Context) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var todos []domain.Todo
		if err := tx.Where("completed = ?", true).Find(&todos).Error; err != nil {
			return err
		}
		if len(todos) == 0 {
			return nil
		}
		ids = make([]uint, 0, len(todos))
		for _, todo := range todos {
			ids = append(ids, todo.ID)
		}
		return tx.Delete(&domain.Todo{}, ids).Error
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}
