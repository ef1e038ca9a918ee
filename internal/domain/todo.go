package domain

import "gorm.io/gorm"

// Category classifies a todo. CategoryCustom carries its display label in
// Todo.CustomCategory.
type Category string

const (
	CategoryWork   Category = "work"
	CategoryStudy  Category = "study"
	CategoryLife   Category = "life"
	CategoryCustom Category = "custom"
)

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryWork, CategoryStudy, CategoryLife, CategoryCustom:
		return true
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Todo is the persisted item. Version starts at 1 and is bumped by exactly
// one on every accepted write; LastModifiedBy records the device id of the
// session that performed the most recent accepted write. The primary key is
// never reassigned after deletion (sequence ids plus soft delete).
type Todo struct {
	gorm.Model
	Title          string   `gorm:"not null"`
	Description    string   `gorm:"not null;default:''"`
	Completed      bool     `gorm:"not null;default:false"`
	Category       Category `gorm:"not null;default:'life'"`
	CustomCategory string   `gorm:"not null;default:''"`
	Priority       Priority `gorm:"not null;default:'medium'"`
	Version        int64    `gorm:"not null;default:1"`
	LastModifiedBy string   `gorm:"not null;default:''"`
}
