package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/suite"

	"chat-rooms/infrastructure/ws"
	"chat-rooms/repositories"
	"chat-rooms/runtime"
	"chat-rooms/runtime/workers"
)

type BaseWsSuite struct {
	suite.Suite
	Config  Config
	baseURL string

	// In-process stack, only populated when SERVER_ADDR is empty.
	db       *badger.DB
	registry *runtime.Registry
	sup      *workers.Supervisor
	server   *httptest.Server
	cancel   context.CancelFunc
	supDone  chan struct{}
}

// SetupSuite loads the environment configuration and, unless an external
// server address is given, boots the whole stack in-process.
func (s *BaseWsSuite) SetupSuite() {
	var err error
	s.Config, err = LoadConfig()
	s.Require().NoError(err)

	if s.Config.ServerAddr != "" {
		s.baseURL = "http://" + s.Config.ServerAddr
		return
	}
	s.startInProcess()
}

func (s *BaseWsSuite) startInProcess() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	s.Require().NoError(err)
	s.db = db

	repository := repositories.NewMessageRepository(db, logger)
	s.registry = runtime.NewRegistry(repository, logger, 100, 100, time.Hour)

	// A fast reaper keeps the closed-room turnaround visible to the scenario.
	s.sup = workers.NewSupervisor(logger, 100*time.Millisecond).
		Add(runtime.NewReaper(s.registry, 20*time.Millisecond, logger))
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.supDone = make(chan struct{})
	go func() {
		s.sup.Run(ctx)
		close(s.supDone)
	}()

	handler := ws.NewHandler(logger, s.registry, nil, 10*time.Second, time.Minute)
	s.server = httptest.NewServer(handler.Routes())
	s.baseURL = s.server.URL
}

func (s *BaseWsSuite) TearDownSuite() {
	if s.server == nil {
		return
	}
	s.server.Close()
	s.registry.Shutdown()
	s.registry.AwaitIdle(time.Second)
	s.sup.Stop()
	<-s.supDone
	s.cancel()
	s.Require().NoError(s.db.Close())
}

// StepHeader prints a colorized header for the step in logs
func (s *BaseWsSuite) StepHeader(name string) {
	header := fmt.Sprintf("  ====== %s ======", name)
	if s.Config.Colours {
		header = color.New(color.BgBlack, color.FgGreen).Render(header)
	}
	s.T().Log(header)
}

// DialRoom opens a websocket session into the given room.
func (s *BaseWsSuite) DialRoom(name, roomID, username string) *websocket.Conn {
	s.StepHeader(name)
	target := "ws" + strings.TrimPrefix(s.baseURL, "http") +
		"/ws/joinroom?room_id=" + roomID + "&username=" + username
	socket, _, err := websocket.DefaultDialer.Dial(target, nil)
	s.Require().NoError(err, "Failed to connect to chat server at "+target)
	return socket
}

// SendText submits one utterance on the session.
func (s *BaseWsSuite) SendText(socket *websocket.Conn, text string) {
	s.Require().NoError(socket.WriteMessage(websocket.TextMessage, []byte(text)))
}

// ReadFrame blocks for the next broadcast frame, with a bounded wait.
func (s *BaseWsSuite) ReadFrame(socket *websocket.Conn) ws.Frame {
	s.Require().NoError(socket.SetReadDeadline(time.Now().Add(2 * time.Second)))
	var frame ws.Frame
	s.Require().NoError(socket.ReadJSON(&frame))

	// Log full JSON frames if E2E_DEBUG_JSON is enabled
	if s.Config.DebugJSON {
		payload, err := json.MarshalIndent(frame, "", "  ")
		s.Require().NoError(err)
		s.T().Log("FRAME:\n" + string(payload))
	}
	return frame
}

// GetJSON fetches an introspection route into out.
func (s *BaseWsSuite) GetJSON(path string, out any) {
	resp, err := http.Get(s.baseURL + path)
	s.Require().NoError(err)
	defer resp.Body.Close()
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(out))
}
