package rooms

import "context"

// Store is the single owner of all rooms.
//
// Appends to one room are serialized by the store; operations on different rooms may run in
// parallel. ListAll returns copies, never views of live state.
type Store interface {
	// GetOrCreate returns the room for id, creating it (empty or seeded) when unseen.
	GetOrCreate(ctx context.Context, id ID) (ChatRoom, error)
	// Append adds msg to the end of the room transcript. Returns ErrNotFound for unknown rooms.
	Append(ctx context.Context, id ID, msg Message) error
	// ListAll returns a snapshot of every room in creation order.
	ListAll(ctx context.Context) ([]ChatRoom, error)
	Close() error
}

// Options configure store behaviour shared by all backends.
type Options struct {
	// SeedSystemPrompt, when non-empty, becomes the first message of every new room.
	SeedSystemPrompt string
}
