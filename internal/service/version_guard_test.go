package service

import (
	"errors"
	"testing"

	"github.com/todosync/todo-sync-backend/internal/domain"
)

func int64Ptr(v int64) *int64 { return &v }

func TestCheckVersion(t *testing.T) {
	tests := []struct {
		name          string
		storedVersion int64
		clientVersion *int64
		wantConflict  bool
	}{
		{"no client version forces the write", 5, nil, false},
		{"matching version is accepted", 3, int64Ptr(3), false},
		{"future client version is treated as current", 3, int64Ptr(7), false},
		{"stale client version conflicts", 3, int64Ptr(2), true},
		{"first version matching", 1, int64Ptr(1), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			current := &domain.Todo{Version: tt.storedVersion}
			err := checkVersion(current, tt.clientVersion)

			if !tt.wantConflict {
				if err != nil {
					t.Fatalf("checkVersion() = %v, expected nil", err)
				}
				return
			}

			var conflict *domain.ConflictError
			if !errors.As(err, &conflict) {
				t.Fatalf("checkVersion() = %v, expected *domain.ConflictError", err)
			}
			if conflict.ServerVersion != tt.storedVersion {
				t.Errorf("ServerVersion = %d, expected %d", conflict.ServerVersion, tt.storedVersion)
			}
			if conflict.ClientVersion != *tt.clientVersion {
				t.Errorf("ClientVersion = %d, expected %d", conflict.ClientVersion, *tt.clientVersion)
			}
			if conflict.ServerTodo != current {
				t.Error("ServerTodo should be the authoritative todo")
			}
		})
	}
}
