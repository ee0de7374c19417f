package usecase

import "sync"

// PageLockTable allows at most one "segment everything" job per page.
type PageLockTable struct {
	mu     sync.Mutex
	locked map[int]struct{}
}

func NewPageLockTable() *PageLockTable {
	return &PageLockTable{locked: make(map[int]struct{})}
}

// TryLock reports whether the caller now owns the page. A false result means a job is in flight.
func (t *PageLockTable) TryLock(page int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, busy := t.locked[page]; busy {
		return false
	}
	t.locked[page] = struct{}{}
	return true
}

func (t *PageLockTable) Unlock(page int) {
	t.mu.Lock()
	delete(t.locked, page)
	t.mu.Unlock()
}

func (t *PageLockTable) Locked(page int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, busy := t.locked[page]
	return busy
}
