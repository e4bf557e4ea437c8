package chat

import (
	"context"
	"sync"

	"github.com/go-go-golems/chatrooms/pkg/rooms"
)

// turnSlots hands out one turn slot per room. A slot is a one-element channel so waiting can
// be abandoned when the caller's context ends; entries are dropped once nobody holds or waits
// for them.
type turnSlots struct {
	mu    sync.Mutex
	slots map[rooms.ID]*turnSlot
}

type turnSlot struct {
	ch   chan struct{}
	refs int
}

func newTurnSlots() *turnSlots {
	return &turnSlots{slots: map[rooms.ID]*turnSlot{}}
}

func (t *turnSlots) acquire(ctx context.Context, id rooms.ID) (func(), error) {
	t.mu.Lock()
	s := t.slots[id]
	if s == nil {
		s = &turnSlot{ch: make(chan struct{}, 1)}
		t.slots[id] = s
	}
	s.refs++
	t.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-s.ch
				t.drop(id, s)
			})
		}, nil
	case <-ctx.Done():
		t.drop(id, s)
		return nil, ctx.Err()
	}
}

func (t *turnSlots) drop(id rooms.ID, s *turnSlot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s.refs--
	if s.refs == 0 && t.slots[id] == s {
		delete(t.slots, id)
	}
}

func (t *turnSlots) active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.slots)
}
