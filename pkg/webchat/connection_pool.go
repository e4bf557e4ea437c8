package webchat

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatrooms/pkg/rooms"
)

const (
	defaultSendBuffer   = 64
	defaultWriteTimeout = 10 * time.Second
)

// wsConn is the write side of a websocket connection.
type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// ConnectionPool holds the websocket connections watching one room. Each connection gets its
// own buffered writer goroutine; a connection whose buffer is full or whose write fails is
// dropped so one slow client never stalls the others.
type ConnectionPool struct {
	roomID       rooms.ID
	mu           sync.Mutex
	conns        map[wsConn]*connWriter
	idleTimer    *time.Timer
	idleTimeout  time.Duration
	onIdle       func()
	sendBuffer   int
	writeTimeout time.Duration
}

type connWriter struct {
	conn      wsConn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (w *connWriter) close() {
	w.closeOnce.Do(func() {
		close(w.done)
		_ = w.conn.Close()
	})
}

func NewConnectionPool(roomID rooms.ID, idleTimeout time.Duration, onIdle func()) *ConnectionPool {
	return &ConnectionPool{
		roomID:       roomID,
		conns:        map[wsConn]*connWriter{},
		idleTimeout:  idleTimeout,
		onIdle:       onIdle,
		sendBuffer:   defaultSendBuffer,
		writeTimeout: defaultWriteTimeout,
	}
}

func (cp *ConnectionPool) Add(conn wsConn) {
	if cp == nil || conn == nil {
		return
	}
	buf := cp.sendBuffer
	if buf <= 0 {
		buf = 1
	}
	w := &connWriter{conn: conn, send: make(chan []byte, buf), done: make(chan struct{})}
	cp.mu.Lock()
	if old, ok := cp.conns[conn]; ok {
		old.close()
	}
	cp.conns[conn] = w
	cp.stopIdleTimerLocked()
	cp.mu.Unlock()
	go cp.writeLoop(w)
}

func (cp *ConnectionPool) Remove(conn wsConn) {
	if cp == nil || conn == nil {
		return
	}
	cp.mu.Lock()
	cp.removeLocked(conn)
	cp.mu.Unlock()
}

// Broadcast queues data for every connection without blocking.
func (cp *ConnectionPool) Broadcast(data []byte) {
	if cp == nil || len(data) == 0 {
		return
	}
	cp.mu.Lock()
	defer cp.mu.Unlock()
	for conn, w := range cp.conns {
		select {
		case w.send <- data:
		default:
			log.Warn().Str("component", "webchat").Int64("room_id", int64(cp.roomID)).Msg("ws send buffer full, dropping connection")
			cp.removeLocked(conn)
		}
	}
}

func (cp *ConnectionPool) SendToOne(conn wsConn, data []byte) {
	if cp == nil || conn == nil || len(data) == 0 {
		return
	}
	cp.mu.Lock()
	defer cp.mu.Unlock()
	w, ok := cp.conns[conn]
	if !ok {
		return
	}
	select {
	case w.send <- data:
	default:
		log.Warn().Str("component", "webchat").Int64("room_id", int64(cp.roomID)).Msg("ws send buffer full, dropping connection")
		cp.removeLocked(conn)
	}
}

func (cp *ConnectionPool) Count() int {
	if cp == nil {
		return 0
	}
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return len(cp.conns)
}

func (cp *ConnectionPool) IsEmpty() bool {
	return cp.Count() == 0
}

func (cp *ConnectionPool) CloseAll() {
	if cp == nil {
		return
	}
	cp.mu.Lock()
	for conn, w := range cp.conns {
		w.close()
		delete(cp.conns, conn)
	}
	cp.stopIdleTimerLocked()
	cp.mu.Unlock()
}

func (cp *ConnectionPool) writeLoop(w *connWriter) {
	for {
		select {
		case <-w.done:
			return
		case data := <-w.send:
			if cp.writeTimeout > 0 {
				_ = w.conn.SetWriteDeadline(time.Now().Add(cp.writeTimeout))
			}
			if err := w.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("component", "webchat").Int64("room_id", int64(cp.roomID)).Msg("ws write failed, dropping connection")
				cp.mu.Lock()
				if cur, ok := cp.conns[w.conn]; ok && cur == w {
					cp.removeLocked(w.conn)
				}
				cp.mu.Unlock()
				w.close()
				return
			}
		}
	}
}

func (cp *ConnectionPool) removeLocked(conn wsConn) {
	w, ok := cp.conns[conn]
	if !ok {
		return
	}
	delete(cp.conns, conn)
	w.close()
	cp.scheduleIdleTimerLocked()
}

func (cp *ConnectionPool) stopIdleTimerLocked() {
	if cp.idleTimer != nil {
		cp.idleTimer.Stop()
		cp.idleTimer = nil
	}
}

func (cp *ConnectionPool) scheduleIdleTimerLocked() {
	cp.stopIdleTimerLocked()
	if len(cp.conns) != 0 || cp.idleTimeout <= 0 || cp.onIdle == nil {
		return
	}
	cp.idleTimer = time.AfterFunc(cp.idleTimeout, cp.triggerIdle)
}

func (cp *ConnectionPool) triggerIdle() {
	var callback func()
	cp.mu.Lock()
	if len(cp.conns) == 0 {
		callback = cp.onIdle
	}
	cp.idleTimer = nil
	cp.mu.Unlock()
	if callback != nil {
		callback()
	}
}
