// Package roomstore holds the persistent rooms.Store backends (SQLite, Redis, Badger) and the
// factory that picks one from settings.
package roomstore

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/go-go-golems/chatrooms/pkg/rooms"
)

// messageRecord is the serialized form of one transcript entry in key/value backends.
type messageRecord struct {
	Role        rooms.Role `json:"role"`
	Content     string     `json:"content"`
	CreatedAtMs int64      `json:"created_at_ms"`
}

func encodeMessage(msg rooms.Message, at time.Time) ([]byte, error) {
	b, err := json.Marshal(messageRecord{Role: msg.Role, Content: msg.Content, CreatedAtMs: at.UnixMilli()})
	if err != nil {
		return nil, errors.Wrap(err, "encode message record")
	}
	return b, nil
}

func decodeMessage(b []byte) (rooms.Message, error) {
	var rec messageRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return rooms.Message{}, errors.Wrap(err, "decode message record")
	}
	msg := rooms.Message{Role: rec.Role, Content: rec.Content}
	if err := msg.Validate(); err != nil {
		return rooms.Message{}, errors.Wrap(err, "decode message record")
	}
	return msg, nil
}

func encodeSeed(seed []rooms.Message, at time.Time) ([][]byte, error) {
	out := make([][]byte, 0, len(seed))
	for _, m := range seed {
		b, err := encodeMessage(m, at)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}
