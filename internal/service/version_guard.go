package service

import "github.com/todosync/todo-sync-backend/internal/domain"

// checkVersion is the optimistic-concurrency gate run before any mutation is
// persisted. A nil clientVersion is the unchecked write path and always
// passes. A clientVersion at or above the stored one passes too: a client
// claiming a future version cannot happen under correct clients, but it must
// not be rejected, so it is treated as current. Only a strictly older
// observation is a conflict, and the conflict carries the authoritative todo
// so the caller can resolve without a second round trip.
func checkVersion(current *domain.Todo, clientVersion *int64) error {
	if clientVersion == nil {
		return nil
	}
	if *clientVersion >= current.Version {
		return nil
	}
	return &domain.ConflictError{
		ServerVersion: current.Version,
		ClientVersion: *clientVersion,
		ServerTodo:    current,
	}
}
