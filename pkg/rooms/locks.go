package rooms

import "sync"

// LockTable hands out one mutex per room id. Persistent backends use it to serialize appends
// to one room inside the process before touching the database. Entries are dropped once no
// goroutine holds or waits for them.
type LockTable struct {
	mu    sync.Mutex
	locks map[ID]*roomLock
}

type roomLock struct {
	mu   sync.Mutex
	refs int
}

func NewLockTable() *LockTable {
	return &LockTable{locks: map[ID]*roomLock{}}
}

// Lock acquires the mutex owned by id and returns the matching unlock function.
func (t *LockTable) Lock(id ID) func() {
	t.mu.Lock()
	l, ok := t.locks[id]
	if !ok {
		l = &roomLock{}
		t.locks[id] = l
	}
	l.refs++
	t.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		t.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(t.locks, id)
		}
		t.mu.Unlock()
	}
}

func (t *LockTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
