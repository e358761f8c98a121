package ws

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"chat-rooms/domain/chat"
	"chat-rooms/runtime"
)

type memoryGateway struct {
	mu      sync.Mutex
	history map[chat.RoomID][]chat.Message
}

func (g *memoryGateway) Load(roomID chat.RoomID) ([]chat.Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]chat.Message(nil), g.history[roomID]...), nil
}

func (g *memoryGateway) Append(roomID chat.RoomID, msgs []chat.Message) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.history[roomID] = append(g.history[roomID], msgs...)
	return nil
}

func setupServer(t *testing.T, censor func(string) string) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gateway := &memoryGateway{history: make(map[chat.RoomID][]chat.Message)}
	registry := runtime.NewRegistry(gateway, logger, 100, 100, time.Hour)
	handler := NewHandler(logger, registry, censor, 10*time.Second, time.Minute)
	server := httptest.NewServer(handler.Routes())
	t.Cleanup(func() {
		registry.Shutdown()
		server.Close()
	})
	return server
}

func dialRoom(t *testing.T, server *httptest.Server, roomID, username string) *websocket.Conn {
	t.Helper()
	target := "ws" + strings.TrimPrefix(server.URL, "http") +
		"/ws/joinroom?room_id=" + roomID + "&username=" + username
	socket, _, err := websocket.DefaultDialer.Dial(target, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = socket.Close() })
	return socket
}

func readFrame(t *testing.T, socket *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, socket.SetReadDeadline(time.Now().Add(time.Second)))
	var frame Frame
	require.NoError(t, socket.ReadJSON(&frame))
	return frame
}

func Test_JoinRoom_Rejects_Bad_Handshake_Parameters(t *testing.T) {
	req := require.New(t)
	server := setupServer(t, nil)

	for _, query := range []string{
		"",
		"?room_id=r1",
		"?username=alice",
		"?room_id=a:b&username=alice",
	} {
		resp, err := http.Get(server.URL + "/ws/joinroom" + query)
		req.NoError(err)
		req.NoError(resp.Body.Close())
		req.Equal(http.StatusBadRequest, resp.StatusCode, "query %q", query)
	}
}

func Test_JoinRoom_Roundtrips_A_Message_Between_Two_Members(t *testing.T) {
	req := require.New(t)
	server := setupServer(t, nil)

	alice := dialRoom(t, server, "r1", "alice")
	bob := dialRoom(t, server, "r1", "bob")

	// When alice speaks
	req.NoError(alice.WriteMessage(websocket.TextMessage, []byte("hello")))

	// Then both members receive the same frame
	for _, socket := range []*websocket.Conn{alice, bob} {
		frame := readFrame(t, socket)
		req.Equal("alice", frame.Sender)
		req.Equal("hello", frame.Content)
		req.Equal("r1", frame.RoomID)
		req.NotEmpty(frame.ID)
	}
}

func Test_Late_Joiner_Receives_The_Backlog_First(t *testing.T) {
	req := require.New(t)
	server := setupServer(t, nil)

	alice := dialRoom(t, server, "r1", "alice")
	req.NoError(alice.WriteMessage(websocket.TextMessage, []byte("first")))
	req.NoError(alice.WriteMessage(websocket.TextMessage, []byte("second")))
	req.Equal("first", readFrame(t, alice).Content)
	req.Equal("second", readFrame(t, alice).Content)

	// A member joining now gets the full history before anything live
	bob := dialRoom(t, server, "r1", "bob")
	req.Equal("first", readFrame(t, bob).Content)
	req.Equal("second", readFrame(t, bob).Content)
}

func Test_JoinRoom_Applies_Moderation_To_Inbound_Text(t *testing.T) {
	req := require.New(t)
	censor := func(text string) string { return strings.ReplaceAll(text, "badger", "******") }
	server := setupServer(t, censor)

	alice := dialRoom(t, server, "r1", "alice")
	req.NoError(alice.WriteMessage(websocket.TextMessage, []byte("a badger bites")))

	frame := readFrame(t, alice)
	req.Equal("a ****** bites", frame.Content)
}

func Test_Introspection_Routes_List_Rooms_And_Users(t *testing.T) {
	req := require.New(t)
	server := setupServer(t, nil)

	dialRoom(t, server, "r1", "alice")
	dialRoom(t, server, "r2", "bob")

	resp, err := http.Get(server.URL + "/rooms")
	req.NoError(err)
	var rooms []string
	req.NoError(json.NewDecoder(resp.Body).Decode(&rooms))
	req.NoError(resp.Body.Close())
	req.Equal([]string{"r1", "r2"}, rooms)

	resp, err = http.Get(server.URL + "/users")
	req.NoError(err)
	var users map[string][]string
	req.NoError(json.NewDecoder(resp.Body).Decode(&users))
	req.NoError(resp.Body.Close())
	req.Equal([]string{"alice"}, users["r1"])
	req.Equal([]string{"bob"}, users["r2"])
}
