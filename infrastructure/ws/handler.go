package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"

	"chat-rooms/domain/chat"
	"chat-rooms/runtime"
)

// joinRequest carries the out-of-band handshake parameters. The colon is
// excluded from room ids because it separates storage key segments.
type joinRequest struct {
	RoomID   string `validate:"required,excludesall=0x3A"`
	Username string `validate:"required"`
}

// Handler owns the HTTP surface of the chat server: the websocket join
// endpoint and the read-only introspection routes.
type Handler struct {
	log      *slog.Logger
	registry *runtime.Registry
	validate *validator.Validate
	upgrader websocket.Upgrader

	// censor is optional; nil disables moderation.
	censor func(string) string

	writeTimeout time.Duration
	pongTimeout  time.Duration
}

func NewHandler(log *slog.Logger, registry *runtime.Registry, censor func(string) string,
	writeTimeout, pongTimeout time.Duration) *Handler {
	return &Handler{
		log:      log,
		registry: registry,
		validate: validator.New(),
		censor:   censor,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		writeTimeout: writeTimeout,
		pongTimeout:  pongTimeout,
	}
}

// Routes wires all handlers into a ServeMux.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/joinroom", h.JoinRoom)
	mux.HandleFunc("/users", h.Users)
	mux.HandleFunc("/rooms", h.Rooms)
	return mux
}

// JoinRoom validates the handshake parameters, upgrades the request and
// attaches the caller to the requested room. Invalid parameters are rejected
// before any room or connection state exists.
func (h *Handler) JoinRoom(w http.ResponseWriter, r *http.Request) {
	req := joinRequest{
		RoomID:   r.URL.Query().Get("room_id"),
		Username: r.URL.Query().Get("username"),
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, "valid room_id and username query parameters are required", http.StatusBadRequest)
		return
	}

	socket, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("WebSocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	transport := NewConn(socket, h.censor, h.writeTimeout, h.pongTimeout)
	conn, err := h.registry.JoinOrCreate(chat.RoomID(req.RoomID), req.Username, transport)
	if err != nil {
		h.log.Error("Join failed", "room_id", req.RoomID, "username", req.Username, "error", err)
		_ = transport.Close()
		return
	}
	conn.Start()
	h.log.Info("Connection established",
		"room_id", req.RoomID, "username", req.Username, "connection_id", conn.ID())
}

// Users returns a point-in-time room -> usernames listing. Diagnostics only;
// it trails the live registry by at most one reaper sweep.
func (h *Handler) Users(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, h.registry.Snapshot())
}

// Rooms returns the identifiers of the currently active rooms.
func (h *Handler) Rooms(w http.ResponseWriter, _ *http.Request) {
	ids := h.registry.RoomIDs()
	sort.Strings(ids)
	h.writeJSON(w, ids)
}

func (h *Handler) writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.log.Warn("Introspection response failed", "error", err)
	}
}
