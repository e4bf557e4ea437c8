package roomstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"

	"github.com/go-go-golems/chatrooms/pkg/rooms"
)

const badgerConflictRetries = 16

// Key layout:
//
//	meta:seq                     global creation counter
//	room:<id padded>             roomMeta JSON
//	order:<seq padded>           room id, iterated for creation order
//	msg:<id padded>:<ordinal>    messageRecord JSON
//
// Padding to 19 digits keeps lexical key order equal to numeric order.
var badgerSeqKey = []byte("meta:seq")

type roomMeta struct {
	Seq         uint64 `json:"seq"`
	Count       uint64 `json:"count"`
	CreatedAtMs int64  `json:"created_at_ms"`
}

func badgerRoomKey(id rooms.ID) []byte { return []byte(fmt.Sprintf("room:%019d", int64(id))) }
func badgerOrderKey(seq uint64) []byte { return []byte(fmt.Sprintf("order:%019d", seq)) }
func badgerMsgPrefix(id rooms.ID) []byte {
	return []byte(fmt.Sprintf("msg:%019d:", int64(id)))
}
func badgerMsgKey(id rooms.ID, ordinal uint64) []byte {
	return []byte(fmt.Sprintf("msg:%019d:%019d", int64(id), ordinal))
}

// BadgerStore is an embedded on-disk store. An empty Dir opens an in-memory database.
type BadgerStore struct {
	db    *badger.DB
	seed  []rooms.Message
	locks *rooms.LockTable
}

var _ rooms.Store = &BadgerStore{}

func NewBadgerStore(dir string, opts rooms.Options) (*BadgerStore, error) {
	var bopts badger.Options
	if strings.TrimSpace(dir) == "" {
		bopts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	} else {
		bopts = badger.DefaultOptions(dir).WithLoggingLevel(badger.ERROR)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, errors.Wrap(err, "badger room store: open")
	}
	return &BadgerStore{
		db:    db,
		seed:  rooms.SeedMessages(opts.SeedSystemPrompt),
		locks: rooms.NewLockTable(),
	}, nil
}

func (s *BadgerStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *BadgerStore) GetOrCreate(ctx context.Context, id rooms.ID) (rooms.ChatRoom, error) {
	if s == nil || s.db == nil {
		return rooms.ChatRoom{}, errors.New("badger room store: db is nil")
	}
	if err := id.Validate(); err != nil {
		return rooms.ChatRoom{}, err
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	var msgs []rooms.Message
	err := s.update(ctx, func(txn *badger.Txn) error {
		_, found, err := getRoomMeta(txn, id)
		if err != nil {
			return err
		}
		if !found {
			if err := s.createRoom(txn, id); err != nil {
				return err
			}
		}
		msgs, err = readMessages(txn, id)
		return err
	})
	if err != nil {
		return rooms.ChatRoom{}, err
	}
	return rooms.ChatRoom{RoomID: id, Messages: msgs}, nil
}

func (s *BadgerStore) createRoom(txn *badger.Txn, id rooms.ID) error {
	seq, err := nextSeq(txn)
	if err != nil {
		return err
	}
	now := time.Now()
	for i, m := range s.seed {
		b, err := encodeMessage(m, now)
		if err != nil {
			return err
		}
		if err := txn.Set(badgerMsgKey(id, uint64(i)), b); err != nil {
			return err
		}
	}
	meta := roomMeta{Seq: seq, Count: uint64(len(s.seed)), CreatedAtMs: now.UnixMilli()}
	if err := putRoomMeta(txn, id, meta); err != nil {
		return err
	}
	return txn.Set(badgerOrderKey(seq), []byte(fmt.Sprintf("%d", int64(id))))
}

func (s *BadgerStore) Append(ctx context.Context, id rooms.ID, msg rooms.Message) error {
	if s == nil || s.db == nil {
		return errors.New("badger room store: db is nil")
	}
	if err := id.Validate(); err != nil {
		return err
	}
	if err := msg.Validate(); err != nil {
		return err
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	return s.update(ctx, func(txn *badger.Txn) error {
		meta, found, err := getRoomMeta(txn, id)
		if err != nil {
			return err
		}
		if !found {
			return rooms.NotFound(id)
		}
		b, err := encodeMessage(msg, time.Now())
		if err != nil {
			return err
		}
		if err := txn.Set(badgerMsgKey(id, meta.Count), b); err != nil {
			return err
		}
		meta.Count++
		return putRoomMeta(txn, id, meta)
	})
}

// ListAll reads from a single read transaction, which badger serves from one snapshot.
func (s *BadgerStore) ListAll(ctx context.Context) ([]rooms.ChatRoom, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("badger room store: db is nil")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := []rooms.ChatRoom{}
	err := s.db.View(func(txn *badger.Txn) error {
		var ids []rooms.ID
		prefix := []byte("order:")
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(v []byte) error {
				var id int64
				if _, err := fmt.Sscanf(string(v), "%d", &id); err != nil {
					return errors.Wrapf(err, "badger room store: bad order entry %q", v)
				}
				ids = append(ids, rooms.ID(id))
				return nil
			})
			if err != nil {
				it.Close()
				return err
			}
		}
		it.Close()

		for _, id := range ids {
			msgs, err := readMessages(txn, id)
			if err != nil {
				return err
			}
			out = append(out, rooms.ChatRoom{RoomID: id, Messages: msgs})
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "badger room store: list rooms")
	}
	return out, nil
}

// update runs fn in a read-write transaction, retrying when another writer committed first.
func (s *BadgerStore) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.db.Update(fn)
		if errors.Is(err, badger.ErrConflict) && attempt < badgerConflictRetries {
			continue
		}
		return err
	}
}

func nextSeq(txn *badger.Txn) (uint64, error) {
	var seq uint64
	item, err := txn.Get(badgerSeqKey)
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
	case err != nil:
		return 0, err
	default:
		if err := item.Value(func(v []byte) error {
			_, err := fmt.Sscanf(string(v), "%d", &seq)
			return err
		}); err != nil {
			return 0, errors.Wrap(err, "badger room store: read seq")
		}
	}
	seq++
	if err := txn.Set(badgerSeqKey, []byte(fmt.Sprintf("%d", seq))); err != nil {
		return 0, err
	}
	return seq, nil
}

func getRoomMeta(txn *badger.Txn, id rooms.ID) (roomMeta, bool, error) {
	item, err := txn.Get(badgerRoomKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return roomMeta{}, false, nil
	}
	if err != nil {
		return roomMeta{}, false, err
	}
	var meta roomMeta
	err = item.Value(func(v []byte) error {
		return json.Unmarshal(v, &meta)
	})
	if err != nil {
		return roomMeta{}, false, errors.Wrap(err, "badger room store: decode room meta")
	}
	return meta, true, nil
}

func putRoomMeta(txn *badger.Txn, id rooms.ID, meta roomMeta) error {
	b, err := json.Marshal(meta)
	if err != nil {
		return errors.Wrap(err, "badger room store: encode room meta")
	}
	return txn.Set(badgerRoomKey(id), b)
}

func readMessages(txn *badger.Txn, id rooms.ID) ([]rooms.Message, error) {
	prefix := badgerMsgPrefix(id)
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	out := []rooms.Message{}
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		var msg rooms.Message
		err := it.Item().Value(func(v []byte) error {
			m, err := decodeMessage(v)
			msg = m
			return err
		})
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}
