// Package roomstest holds a conformance suite every rooms.Store backend runs in its tests.
package roomstest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/chatrooms/pkg/rooms"
)

// Factory opens a fresh, empty store. The suite closes it.
type Factory func(t *testing.T, opts rooms.Options) rooms.Store

// RunStoreConformance exercises the rooms.Store contract against newStore.
func RunStoreConformance(t *testing.T, newStore Factory) {
	t.Run("GetOrCreateIsIdempotent", func(t *testing.T) {
		s := open(t, newStore, rooms.Options{})
		ctx := context.Background()

		first, err := s.GetOrCreate(ctx, 7)
		require.NoError(t, err)
		require.Equal(t, rooms.ID(7), first.RoomID)
		require.NotNil(t, first.Messages)
		require.Empty(t, first.Messages)

		second, err := s.GetOrCreate(ctx, 7)
		require.NoError(t, err)
		require.Equal(t, first, second)

		all, err := s.ListAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
	})

	t.Run("RejectsNegativeID", func(t *testing.T) {
		s := open(t, newStore, rooms.Options{})
		ctx := context.Background()

		_, err := s.GetOrCreate(ctx, -1)
		require.ErrorIs(t, err, rooms.ErrInvalidArgument)

		all, err := s.ListAll(ctx)
		require.NoError(t, err)
		require.Empty(t, all)
	})

	t.Run("AppendKeepsOrder", func(t *testing.T) {
		s := open(t, newStore, rooms.Options{})
		ctx := context.Background()

		_, err := s.GetOrCreate(ctx, 1)
		require.NoError(t, err)
		want := []rooms.Message{
			rooms.UserMessage("hello"),
			rooms.AssistantMessage("hi there"),
			rooms.UserMessage("how are you?"),
			rooms.AssistantMessage("fine, with unicode: héllo ✓"),
		}
		for _, m := range want {
			require.NoError(t, s.Append(ctx, 1, m))
		}

		room, err := s.GetOrCreate(ctx, 1)
		require.NoError(t, err)
		require.Equal(t, want, room.Messages)
	})

	t.Run("AppendUnknownRoom", func(t *testing.T) {
		s := open(t, newStore, rooms.Options{})
		err := s.Append(context.Background(), 99, rooms.UserMessage("lost"))
		require.ErrorIs(t, err, rooms.ErrNotFound)
	})

	t.Run("AppendRejectsInvalidRole", func(t *testing.T) {
		s := open(t, newStore, rooms.Options{})
		ctx := context.Background()
		_, err := s.GetOrCreate(ctx, 1)
		require.NoError(t, err)

		err = s.Append(ctx, 1, rooms.Message{Role: "tool", Content: "x"})
		require.ErrorIs(t, err, rooms.ErrInvalidArgument)
	})

	t.Run("ContentRoundTripsUnchanged", func(t *testing.T) {
		s := open(t, newStore, rooms.Options{})
		ctx := context.Background()
		_, err := s.GetOrCreate(ctx, 1)
		require.NoError(t, err)

		err = s.Append(ctx, 1, rooms.UserMessage("bad \xff byte"))
		require.ErrorIs(t, err, rooms.ErrInvalidArgument)

		text := "héllo 世界 \U0001F600\n\ttabs"
		require.NoError(t, s.Append(ctx, 1, rooms.UserMessage(text)))
		room, err := s.GetOrCreate(ctx, 1)
		require.NoError(t, err)
		require.Equal(t, []rooms.Message{rooms.UserMessage(text)}, room.Messages)
	})

	t.Run("SeedSystemPrompt", func(t *testing.T) {
		s := open(t, newStore, rooms.Options{SeedSystemPrompt: "You are terse."})
		ctx := context.Background()

		room, err := s.GetOrCreate(ctx, 3)
		require.NoError(t, err)
		require.Equal(t, []rooms.Message{rooms.SystemMessage("You are terse.")}, room.Messages)

		room, err = s.GetOrCreate(ctx, 3)
		require.NoError(t, err)
		require.Len(t, room.Messages, 1)
	})

	t.Run("ListAllReturnsEveryRoomInCreationOrder", func(t *testing.T) {
		s := open(t, newStore, rooms.Options{})
		ctx := context.Background()

		ids := []rooms.ID{5, 2, 9}
		for _, id := range ids {
			_, err := s.GetOrCreate(ctx, id)
			require.NoError(t, err)
			require.NoError(t, s.Append(ctx, id, rooms.UserMessage(fmt.Sprintf("room %d", id))))
		}

		all, err := s.ListAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, len(ids))
		for i, id := range ids {
			require.Equal(t, id, all[i].RoomID)
			require.Equal(t, []rooms.Message{rooms.UserMessage(fmt.Sprintf("room %d", id))}, all[i].Messages)
		}
	})

	t.Run("ListAllDoesNotAliasState", func(t *testing.T) {
		s := open(t, newStore, rooms.Options{})
		ctx := context.Background()

		_, err := s.GetOrCreate(ctx, 1)
		require.NoError(t, err)
		require.NoError(t, s.Append(ctx, 1, rooms.UserMessage("a")))

		snap, err := s.ListAll(ctx)
		require.NoError(t, err)
		snap[0].Messages[0].Content = "mutated"

		require.NoError(t, s.Append(ctx, 1, rooms.AssistantMessage("b")))
		require.Len(t, snap[0].Messages, 1)

		again, err := s.ListAll(ctx)
		require.NoError(t, err)
		require.Equal(t, []rooms.Message{rooms.UserMessage("a"), rooms.AssistantMessage("b")}, again[0].Messages)
	})

	t.Run("ConcurrentAppendsSameRoom", func(t *testing.T) {
		s := open(t, newStore, rooms.Options{})
		ctx := context.Background()
		_, err := s.GetOrCreate(ctx, 1)
		require.NoError(t, err)

		const writers, perWriter = 8, 10
		var wg sync.WaitGroup
		errs := make(chan error, writers*perWriter)
		for w := 0; w < writers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < perWriter; i++ {
					errs <- s.Append(ctx, 1, rooms.UserMessage(fmt.Sprintf("w%d-%d", w, i)))
				}
			}(w)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		room, err := s.GetOrCreate(ctx, 1)
		require.NoError(t, err)
		require.Len(t, room.Messages, writers*perWriter)

		seen := map[string]bool{}
		for _, m := range room.Messages {
			require.False(t, seen[m.Content], "duplicate message %q", m.Content)
			seen[m.Content] = true
		}
	})

	t.Run("ConcurrentGetOrCreateCreatesOnce", func(t *testing.T) {
		s := open(t, newStore, rooms.Options{SeedSystemPrompt: "seed"})
		ctx := context.Background()

		var wg sync.WaitGroup
		errs := make(chan error, 16)
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.GetOrCreate(ctx, 42)
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		all, err := s.ListAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
		require.Len(t, all[0].Messages, 1)
	})
}

func open(t *testing.T, newStore Factory, opts rooms.Options) rooms.Store {
	t.Helper()
	s := newStore(t, opts)
	t.Cleanup(func() { _ = s.Close() })
	return s
}
