package service

import "sync"

// itemLocks serializes writes per todo id so that, for a single item, store
// commit order equals broadcast emission order. Writes to different items
// take different entries and never contend. Entries are refcounted and
// removed when the last holder releases, so the map stays bounded by the
// number of in-flight writes.
type itemLocks struct {
	mu    sync.Mutex
	items map[uint]*itemLock
}

type itemLock struct {
	refs int
	mu   sync.Mutex
}

func newItemLocks() *itemLocks {
	return &itemLocks{items: make(map[uint]*itemLock)}
}

func (l *itemLocks) lock(id uint) {
	l.mu.Lock()
	entry := l.items[id]
	if entry == nil {
		entry = &itemLock{}
		l.items[id] = entry
	}
	entry.refs++
	l.mu.Unlock()
	entry.mu.Lock()
}

func (l *itemLocks) unlock(id uint) {
	l.mu.Lock()
	entry := l.items[id]
	entry.refs--
	if entry.refs == 0 {
		delete(l.items, id)
	}
	l.mu.Unlock()
	entry.mu.Unlock()
}
