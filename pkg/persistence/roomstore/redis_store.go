package roomstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/go-go-golems/chatrooms/pkg/rooms"
)

const defaultRedisKeyPrefix = "chatrooms"

// Each operation is one Lua script, so Redis executes it atomically. Rooms live in a sorted
// set scored by creation sequence; each room's transcript is a list of JSON records.
var (
	getOrCreateScript = redis.NewScript(`
local index, seqKey, listKey = KEYS[1], KEYS[2], KEYS[3]
local id = ARGV[1]
if not redis.call('ZSCORE', index, id) then
  local seq = redis.call('INCR', seqKey)
  redis.call('ZADD', index, seq, id)
  for i = 2, #ARGV do
    redis.call('RPUSH', listKey, ARGV[i])
  end
end
return redis.call('LRANGE', listKey, 0, -1)
`)

	appendScript = redis.NewScript(`
if not redis.call('ZSCORE', KEYS[1], ARGV[1]) then
  return -1
end
return redis.call('RPUSH', KEYS[2], ARGV[2])
`)

	listAllScript = redis.NewScript(`
local ids = redis.call('ZRANGE', KEYS[1], 0, -1)
local out = {}
for i, id in ipairs(ids) do
  out[i] = {id, redis.call('LRANGE', ARGV[1] .. id, 0, -1)}
end
return out
`)
)

// RedisStore keeps rooms in Redis so several server processes can share them.
type RedisStore struct {
	client    redis.UniversalClient
	prefix    string
	seed      []rooms.Message
	ownClient bool
}

var _ rooms.Store = &RedisStore{}

type RedisConfig struct {
	Addr      string
	KeyPrefix string
	// Client overrides Addr when set. The store does not close a client it did not create.
	Client redis.UniversalClient
}

func NewRedisStore(ctx context.Context, cfg RedisConfig, opts rooms.Options) (*RedisStore, error) {
	s := &RedisStore{
		client: cfg.Client,
		prefix: strings.TrimSpace(cfg.KeyPrefix),
		seed:   rooms.SeedMessages(opts.SeedSystemPrompt),
	}
	if s.prefix == "" {
		s.prefix = defaultRedisKeyPrefix
	}
	if s.client == nil {
		if strings.TrimSpace(cfg.Addr) == "" {
			return nil, errors.New("redis room store: empty addr")
		}
		s.client = redis.NewClient(&redis.Options{Addr: cfg.Addr})
		s.ownClient = true
	}
	if err := s.client.Ping(ctx).Err(); err != nil {
		_ = s.Close()
		return nil, errors.Wrap(err, "redis room store: ping")
	}
	return s, nil
}

func (s *RedisStore) Close() error {
	if s == nil || s.client == nil || !s.ownClient {
		return nil
	}
	return s.client.Close()
}

func (s *RedisStore) indexKey() string { return s.prefix + ":rooms" }
func (s *RedisStore) seqKey() string   { return s.prefix + ":seq" }
func (s *RedisStore) listPrefix() string {
	return s.prefix + ":room:"
}
func (s *RedisStore) listKey(id rooms.ID) string {
	return fmt.Sprintf("%s%d", s.listPrefix(), int64(id))
}

func (s *RedisStore) GetOrCreate(ctx context.Context, id rooms.ID) (rooms.ChatRoom, error) {
	if s == nil || s.client == nil {
		return rooms.ChatRoom{}, errors.New("redis room store: nil client")
	}
	if err := id.Validate(); err != nil {
		return rooms.ChatRoom{}, err
	}
	seed, err := encodeSeed(s.seed, time.Now())
	if err != nil {
		return rooms.ChatRoom{}, err
	}
	args := make([]any, 0, len(seed)+1)
	args = append(args, strconv.FormatInt(int64(id), 10))
	for _, b := range seed {
		args = append(args, string(b))
	}

	raw, err := getOrCreateScript.Run(ctx, s.client, []string{s.indexKey(), s.seqKey(), s.listKey(id)}, args...).StringSlice()
	if err != nil {
		return rooms.ChatRoom{}, errors.Wrapf(err, "redis room store: get or create room %d", int64(id))
	}
	msgs, err := decodeAll(raw)
	if err != nil {
		return rooms.ChatRoom{}, err
	}
	return rooms.ChatRoom{RoomID: id, Messages: msgs}, nil
}

func (s *RedisStore) Append(ctx context.Context, id rooms.ID, msg rooms.Message) error {
	if s == nil || s.client == nil {
		return errors.New("redis room store: nil client")
	}
	if err := id.Validate(); err != nil {
		return err
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	b, err := encodeMessage(msg, time.Now())
	if err != nil {
		return err
	}
	n, err := appendScript.Run(ctx, s.client,
		[]string{s.indexKey(), s.listKey(id)},
		strconv.FormatInt(int64(id), 10), string(b),
	).Int64()
	if err != nil {
		return errors.Wrapf(err, "redis room store: append to room %d", int64(id))
	}
	if n < 0 {
		return rooms.NotFound(id)
	}
	return nil
}

func (s *RedisStore) ListAll(ctx context.Context) ([]rooms.ChatRoom, error) {
	if s == nil || s.client == nil {
		return nil, errors.New("redis room store: nil client")
	}
	res, err := listAllScript.Run(ctx, s.client, []string{s.indexKey()}, s.listPrefix()).Slice()
	if err != nil {
		return nil, errors.Wrap(err, "redis room store: list rooms")
	}
	out := make([]rooms.ChatRoom, 0, len(res))
	for _, item := range res {
		pair, ok := item.([]any)
		if !ok || len(pair) != 2 {
			return nil, errors.Errorf("redis room store: unexpected list entry %T", item)
		}
		idStr, _ := pair[0].(string)
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "redis room store: bad room id %q", idStr)
		}
		entries, _ := pair[1].([]any)
		raw := make([]string, 0, len(entries))
		for _, e := range entries {
			str, ok := e.(string)
			if !ok {
				return nil, errors.Errorf("redis room store: unexpected message entry %T", e)
			}
			raw = append(raw, str)
		}
		msgs, err := decodeAll(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, rooms.ChatRoom{RoomID: rooms.ID(id), Messages: msgs})
	}
	return out, nil
}

func decodeAll(raw []string) ([]rooms.Message, error) {
	out := make([]rooms.Message, 0, len(raw))
	for _, r := range raw {
		m, err := decodeMessage([]byte(r))
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}
