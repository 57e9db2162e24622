package app

import "sync"

// bookLocks serializes status-affecting operations per book. The store
// CAS remains the authoritative guard; the lock just keeps one process
// from burning transactions on races it can resolve locally.
type bookLocks struct {
	locks sync.Map // bookID -> *sync.Mutex
}

func (b *bookLocks) lock(bookID string) func() {
	value, _ := b.locks.LoadOrStore(bookID, &sync.Mutex{})
	mu := value.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
