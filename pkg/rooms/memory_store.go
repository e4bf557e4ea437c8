package rooms

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// InMemoryStore keeps every room in process memory.
//
// The map lock is only held to look up or insert a room; transcript reads and appends take the
// room's own lock, so rooms never contend with each other.
type InMemoryStore struct {
	mu    sync.RWMutex
	rooms map[ID]*memRoom
	order []ID
	seed  []Message
}

type memRoom struct {
	mu       sync.Mutex
	messages []Message
}

var _ Store = &InMemoryStore{}

func NewInMemoryStore(opts Options) *InMemoryStore {
	return &InMemoryStore{
		rooms: map[ID]*memRoom{},
		seed:  SeedMessages(opts.SeedSystemPrompt),
	}
}

func (s *InMemoryStore) Close() error { return nil }

func (s *InMemoryStore) GetOrCreate(_ context.Context, id ID) (ChatRoom, error) {
	if s == nil {
		return ChatRoom{}, errors.New("in-memory room store: nil store")
	}
	if err := id.Validate(); err != nil {
		return ChatRoom{}, err
	}

	room := s.lookup(id)
	if room == nil {
		s.mu.Lock()
		room = s.rooms[id]
		if room == nil {
			room = &memRoom{messages: cloneMessages(s.seed)}
			s.rooms[id] = room
			s.order = append(s.order, id)
		}
		s.mu.Unlock()
	}

	return room.snapshot(id), nil
}

func (s *InMemoryStore) Append(_ context.Context, id ID, msg Message) error {
	if s == nil {
		return errors.New("in-memory room store: nil store")
	}
	if err := id.Validate(); err != nil {
		return err
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	room := s.lookup(id)
	if room == nil {
		return NotFound(id)
	}
	room.mu.Lock()
	room.messages = append(room.messages, msg)
	room.mu.Unlock()
	return nil
}

func (s *InMemoryStore) ListAll(_ context.Context) ([]ChatRoom, error) {
	if s == nil {
		return nil, errors.New("in-memory room store: nil store")
	}
	s.mu.RLock()
	ids := append([]ID(nil), s.order...)
	refs := make([]*memRoom, len(ids))
	for i, id := range ids {
		refs[i] = s.rooms[id]
	}
	s.mu.RUnlock()

	out := make([]ChatRoom, 0, len(ids))
	for i, id := range ids {
		out = append(out, refs[i].snapshot(id))
	}
	return out, nil
}

func (s *InMemoryStore) lookup(id ID) *memRoom {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rooms[id]
}

func (r *memRoom) snapshot(id ID) ChatRoom {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ChatRoom{RoomID: id, Messages: cloneMessages(r.messages)}
}
