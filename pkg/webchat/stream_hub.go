package webchat

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatrooms/pkg/chat"
	"github.com/go-go-golems/chatrooms/pkg/rooms"
)

type StreamHubConfig struct {
	Subscriber message.Subscriber
	Topic      string
	// IdleTimeout drops a room's pool this long after its last connection left.
	IdleTimeout time.Duration
}

// StreamHub consumes room events from the bus and fans them out to the websocket connections
// watching each room.
type StreamHub struct {
	sub         message.Subscriber
	topic       string
	idleTimeout time.Duration

	ready     chan struct{}
	readyOnce sync.Once

	mu    sync.Mutex
	pools map[rooms.ID]*ConnectionPool
}

func NewStreamHub(cfg StreamHubConfig) (*StreamHub, error) {
	if cfg.Subscriber == nil {
		return nil, errors.New("stream hub subscriber is nil")
	}
	topic := strings.TrimSpace(cfg.Topic)
	if topic == "" {
		topic = chat.DefaultEventsTopic
	}
	idle := cfg.IdleTimeout
	if idle <= 0 {
		idle = time.Minute
	}
	return &StreamHub{
		sub:         cfg.Subscriber,
		topic:       topic,
		idleTimeout: idle,
		pools:       map[rooms.ID]*ConnectionPool{},
		ready:       make(chan struct{}),
	}, nil
}

// Ready is closed once Run has subscribed to the event topic.
func (h *StreamHub) Ready() <-chan struct{} { return h.ready }

// Run consumes the event topic until ctx ends, then closes every connection.
func (h *StreamHub) Run(ctx context.Context) error {
	if h == nil || h.sub == nil {
		return errors.New("stream hub is not initialized")
	}
	msgs, err := h.sub.Subscribe(ctx, h.topic)
	if err != nil {
		return errors.Wrapf(err, "subscribe to %s", h.topic)
	}
	h.readyOnce.Do(func() { close(h.ready) })
	log.Info().Str("component", "webchat").Str("topic", h.topic).Msg("stream hub started")
	defer h.closeAll()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("component", "webchat").Msg("stream hub stopped")
			return nil
		case m, ok := <-msgs:
			if !ok {
				return nil
			}
			h.dispatch(m)
			m.Ack()
		}
	}
}

func (h *StreamHub) dispatch(m *message.Message) {
	ev, err := chat.DecodeRoomEvent(m.Payload)
	if err != nil {
		log.Warn().Err(err).Str("component", "webchat").Str("msg_uuid", m.UUID).Msg("dropping undecodable room event")
		return
	}
	pool := h.lookup(ev.RoomID)
	if pool == nil {
		return
	}
	pool.Broadcast(m.Payload)
}

// Attach registers conn as a watcher of roomID and starts its read loop. The connection is
// detached when the client goes away.
func (h *StreamHub) Attach(roomID rooms.ID, conn *websocket.Conn) error {
	if h == nil {
		return errors.New("stream hub is not initialized")
	}
	if conn == nil {
		return errors.New("websocket connection is nil")
	}
	if err := roomID.Validate(); err != nil {
		return err
	}

	pool := h.addConn(roomID, conn)
	wsLog := log.With().
		Str("component", "webchat").
		Str("remote", conn.RemoteAddr().String()).
		Int64("room_id", int64(roomID)).
		Logger()
	wsLog.Info().Msg("ws connected")

	if b, err := controlFrame("ws.hello", roomID); err == nil {
		pool.SendToOne(conn, b)
	}

	go func() {
		defer pool.Remove(conn)
		defer wsLog.Info().Msg("ws disconnected")
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				wsLog.Debug().Err(err).Msg("ws read loop end")
				return
			}
			if msgType == websocket.TextMessage && isPing(data) {
				if b, err := controlFrame("ws.pong", roomID); err == nil {
					pool.SendToOne(conn, b)
				}
			}
		}
	}()
	return nil
}

// Connections returns how many websockets currently watch roomID.
func (h *StreamHub) Connections(roomID rooms.ID) int {
	return h.lookup(roomID).Count()
}

func (h *StreamHub) lookup(roomID rooms.ID) *ConnectionPool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pools[roomID]
}

// addConn finds or creates the room's pool and adds conn while holding the hub lock, so an
// idle pool cannot be dropped between lookup and add.
func (h *StreamHub) addConn(roomID rooms.ID, conn wsConn) *ConnectionPool {
	h.mu.Lock()
	defer h.mu.Unlock()
	p := h.pools[roomID]
	if p == nil {
		var created *ConnectionPool
		created = NewConnectionPool(roomID, h.idleTimeout, func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if h.pools[roomID] == created && created.IsEmpty() {
				delete(h.pools, roomID)
			}
		})
		h.pools[roomID] = created
		p = created
	}
	p.Add(conn)
	return p
}

func (h *StreamHub) closeAll() {
	h.mu.Lock()
	pools := h.pools
	h.pools = map[rooms.ID]*ConnectionPool{}
	h.mu.Unlock()
	for _, p := range pools {
		p.CloseAll()
	}
}

type controlMessage struct {
	Type       string   `json:"type"`
	RoomID     rooms.ID `json:"roomId"`
	ServerTime int64    `json:"serverTime"`
}

func controlFrame(typ string, roomID rooms.ID) ([]byte, error) {
	return json.Marshal(controlMessage{Type: typ, RoomID: roomID, ServerTime: time.Now().UnixMilli()})
}

// isPing accepts a bare "ping" or a JSON object with type "ws.ping".
func isPing(data []byte) bool {
	text := strings.TrimSpace(strings.ToLower(string(data)))
	if text == "ping" {
		return true
	}
	var v struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return false
	}
	return strings.EqualFold(v.Type, "ws.ping")
}
