package runtime

import (
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"chat-rooms/domain/chat"
)

// fakeTransport is an in-memory stand-in for a websocket: inbound lines are
// fed through a channel and writes are captured for inspection.
type fakeTransport struct {
	inbound   chan string
	written   chan chat.Message
	closed    chan struct{}
	closeOnce sync.Once

	mu        sync.Mutex
	failWrite bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbound: make(chan string, 16),
		written: make(chan chat.Message, 16),
		closed:  make(chan struct{}),
	}
}

func (t *fakeTransport) ReadText() (string, error) {
	select {
	case line := <-t.inbound:
		return line, nil
	case <-t.closed:
		return "", net.ErrClosed
	}
}

func (t *fakeTransport) WriteMessage(msg chat.Message) error {
	t.mu.Lock()
	failing := t.failWrite
	t.mu.Unlock()
	if failing {
		return fmt.Errorf("broken pipe")
	}
	t.written <- msg
	return nil
}

func (t *fakeTransport) Ping() error { return nil }

func (t *fakeTransport) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })
	return nil
}

func (t *fakeTransport) breakWrites() {
	t.mu.Lock()
	t.failWrite = true
	t.mu.Unlock()
}

func receiveWritten(t *testing.T, transport *fakeTransport) chat.Message {
	t.Helper()
	select {
	case msg := <-transport.written:
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message reached the transport in time")
		return chat.Message{}
	}
}

func TestConnection_Relays_Inbound_Text_Back_Through_The_Room(t *testing.T) {
	req := require.New(t)
	room := SpawnRoom("r1", nil, newStubGateway(), testLogger(), 100)
	transport := newFakeTransport()
	conn := newConnection(uuid.New(), "alice", room, transport, testLogger(), 16, time.Hour)
	req.NoError(room.Join(conn.ID(), conn.Username(), conn))

	// When the peer sends a line of text
	conn.Start()
	transport.inbound <- "hello"

	// Then the broadcast comes back out on the same transport
	msg := receiveWritten(t, transport)
	req.Equal("alice", msg.Sender)
	req.Equal("hello", msg.Content)
	req.Equal(chat.RoomID("r1"), msg.RoomID)

	// And a transport failure unwinds the whole connection
	req.NoError(transport.Close())
	req.Eventually(conn.Disconnected, time.Second, 5*time.Millisecond)
	req.Eventually(room.Closed, time.Second, 5*time.Millisecond)
}

func TestConnection_Shutdown_Is_Idempotent(t *testing.T) {
	req := require.New(t)
	room := SpawnRoom("r1", nil, newStubGateway(), testLogger(), 100)
	transport := newFakeTransport()
	conn := newConnection(uuid.New(), "alice", room, transport, testLogger(), 16, time.Hour)
	req.NoError(room.Join(conn.ID(), conn.Username(), conn))
	conn.Start()

	// When shutdown races itself
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn.Shutdown()
		}()
	}
	wg.Wait()

	// Then both duties exit and the single leave closed the room
	req.Eventually(conn.Disconnected, time.Second, 5*time.Millisecond)
	req.Eventually(room.Closed, time.Second, 5*time.Millisecond)
}

func TestConnection_Write_Failure_Also_Stops_The_Reader(t *testing.T) {
	req := require.New(t)
	room := SpawnRoom("r1", nil, newStubGateway(), testLogger(), 100)
	transport := newFakeTransport()
	transport.breakWrites()
	conn := newConnection(uuid.New(), "alice", room, transport, testLogger(), 16, time.Hour)
	req.NoError(room.Join(conn.ID(), conn.Username(), conn))
	conn.Start()

	// When the writer hits a dead transport
	req.NoError(room.Broadcast("alice", "hello"))

	// Then the reader is unblocked too and the connection fully terminates
	req.Eventually(conn.Disconnected, time.Second, 5*time.Millisecond)
	req.Eventually(room.Closed, time.Second, 5*time.Millisecond)
}

func TestConnection_Push_Never_Blocks(t *testing.T) {
	req := require.New(t)
	room := SpawnRoom("r1", nil, newStubGateway(), testLogger(), 100)
	transport := newFakeTransport()
	conn := newConnection(uuid.New(), "alice", room, transport, testLogger(), 1, time.Hour)

	// Given a full queue, the overflow is reported, not waited out
	req.True(conn.Push(chat.NewMessage("r1", "bob", "one")))
	req.False(conn.Push(chat.NewMessage("r1", "bob", "two")))

	// And a torn-down connection accepts nothing
	conn.Shutdown()
	req.False(conn.Push(chat.NewMessage("r1", "bob", "three")))
}
