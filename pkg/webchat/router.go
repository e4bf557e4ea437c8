package webchat

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatrooms/pkg/chat"
	"github.com/go-go-golems/chatrooms/pkg/rooms"
)

// ChatService is the chat surface the HTTP handlers need.
type ChatService interface {
	DoChat(ctx context.Context, roomID rooms.ID, userPrompt string) (string, error)
	GetChatRoomList(ctx context.Context) ([]rooms.ChatRoom, error)
}

var _ ChatService = (*chat.Service)(nil)

type RouterConfig struct {
	Chat ChatService
	// Hub is optional; without it /ws answers 404.
	Hub            *StreamHub
	AllowedOrigins []string
}

// Router owns the HTTP routes:
//
//	POST /{roomId}/chat?userPrompt=...   plain-text reply
//	GET  /rooms                          every room with its transcript
//	POST /api/rooms/{roomId}/chat        JSON {"prompt"} -> {"roomId","reply"}
//	GET  /api/rooms                      same as /rooms
//	GET  /ws?roomId=N                    websocket feed of room events
//	GET  /healthz
type Router struct {
	chat     ChatService
	hub      *StreamHub
	origins  []string
	mux      *http.ServeMux
	upgrader websocket.Upgrader
}

func NewRouter(cfg RouterConfig) (*Router, error) {
	if cfg.Chat == nil {
		return nil, errors.New("router chat service is nil")
	}
	r := &Router{
		chat:    cfg.Chat,
		hub:     cfg.Hub,
		origins: append([]string(nil), cfg.AllowedOrigins...),
		mux:     http.NewServeMux(),
	}
	r.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(req *http.Request) bool {
			return originAllowed(r.origins, req.Header.Get("Origin"))
		},
	}
	r.registerHandlers()
	return r, nil
}

func (r *Router) registerHandlers() {
	r.mux.HandleFunc("POST /{roomId}/chat", r.handlePlainChat)
	r.mux.HandleFunc("GET /rooms", r.handleListRooms)
	r.mux.HandleFunc("POST /api/rooms/{roomId}/chat", r.handleJSONChat)
	r.mux.HandleFunc("GET /api/rooms", r.handleListRooms)
	r.mux.HandleFunc("GET /ws", r.handleWS)
	r.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}

// Handler returns the routes wrapped in CORS and request logging.
func (r *Router) Handler() http.Handler {
	return withRequestLog(withCORS(r.origins, r.mux))
}

func (r *Router) handlePlainChat(w http.ResponseWriter, req *http.Request) {
	roomID, err := parseRoomID(req.PathValue("roomId"))
	if err != nil {
		writeError(w, req, err)
		return
	}
	// FormValue covers both the query string and an urlencoded body.
	reply, err := r.chat.DoChat(req.Context(), roomID, req.FormValue("userPrompt"))
	if err != nil {
		writeError(w, req, err)
		return
	}
	writeText(w, http.StatusOK, reply)
}

type chatRequest struct {
	Prompt string `json:"prompt"`
}

type chatResponse struct {
	RoomID rooms.ID `json:"roomId"`
	Reply  string   `json:"reply"`
}

func (r *Router) handleJSONChat(w http.ResponseWriter, req *http.Request) {
	roomID, err := parseRoomID(req.PathValue("roomId"))
	if err != nil {
		writeError(w, req, err)
		return
	}
	var body chatRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, req.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeError(w, req, errors.Wrapf(chat.ErrInvalidArgument, "invalid request body: %v", err))
		return
	}
	reply, err := r.chat.DoChat(req.Context(), roomID, body.Prompt)
	if err != nil {
		writeError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{RoomID: roomID, Reply: reply})
}

func (r *Router) handleListRooms(w http.ResponseWriter, req *http.Request) {
	list, err := r.chat.GetChatRoomList(req.Context())
	if err != nil {
		writeError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (r *Router) handleWS(w http.ResponseWriter, req *http.Request) {
	if r.hub == nil {
		http.NotFound(w, req)
		return
	}
	roomID, err := parseRoomID(req.URL.Query().Get("roomId"))
	if err != nil {
		writeError(w, req, err)
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		// Upgrade already answered the client.
		log.Debug().Err(err).Str("component", "webchat").Msg("ws upgrade failed")
		return
	}
	if err := r.hub.Attach(roomID, conn); err != nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"error","error":"failed to attach websocket"}`))
		_ = conn.Close()
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Hijack passes through so websocket upgrades work behind the logger.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	s.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

func withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, req)
		ev := log.Debug()
		if rec.status >= 500 {
			ev = log.Warn()
		}
		ev.Str("component", "webchat").
			Str("method", req.Method).
			Str("path", strings.TrimSpace(req.URL.Path)).
			Int("status", rec.status).
			Dur("elapsed", time.Since(start)).
			Msg("http request")
	})
}
