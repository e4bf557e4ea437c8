package webchat

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatrooms/pkg/chat"
	"github.com/go-go-golems/chatrooms/pkg/rooms"
)

// StatusClientClosedRequest is the non-standard status used when the caller went away
// before the turn finished.
const StatusClientClosedRequest = 499

type errorResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

// StatusForError maps the chat error taxonomy onto HTTP statuses.
func StatusForError(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, chat.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, chat.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, chat.ErrProvider):
		return http.StatusBadGateway
	case errors.Is(err, chat.ErrCancelled):
		return StatusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusForError(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("component", "webchat").Str("path", r.URL.Path).Msg("request failed")
		msg = "internal error"
	}
	writeJSON(w, status, errorResponse{Status: "error", Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Str("component", "webchat").Msg("response write failed")
	}
}

func writeText(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if _, err := w.Write([]byte(text)); err != nil {
		log.Warn().Err(err).Str("component", "webchat").Msg("response write failed")
	}
}

func parseRoomID(raw string) (rooms.ID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, errors.Wrap(chat.ErrInvalidArgument, "missing room id")
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(chat.ErrInvalidArgument, "room id %q is not an integer", raw)
	}
	id := rooms.ID(n)
	if err := id.Validate(); err != nil {
		return 0, err
	}
	return id, nil
}
