package runtime

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"

	"chat-rooms/domain/chat"
	"chat-rooms/errors"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// queueOutbound is a member fake backed by a bounded channel, like the real
// connection queue.
type queueOutbound struct {
	ch chan chat.Message
}

func newQueueOutbound(size int) *queueOutbound {
	return &queueOutbound{ch: make(chan chat.Message, size)}
}

func (q *queueOutbound) Push(msg chat.Message) bool {
	select {
	case q.ch <- msg:
		return true
	default:
		return false
	}
}

func (q *queueOutbound) drain() []chat.Message {
	var msgs []chat.Message
	for {
		select {
		case msg := <-q.ch:
			msgs = append(msgs, msg)
		default:
			return msgs
		}
	}
}

// stubGateway records appends and serves canned history.
type stubGateway struct {
	mu        sync.Mutex
	history   map[chat.RoomID][]chat.Message
	loadErr   error
	appendErr error
}

func newStubGateway() *stubGateway {
	return &stubGateway{history: make(map[chat.RoomID][]chat.Message)}
}

func (g *stubGateway) Load(roomID chat.RoomID) ([]chat.Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.loadErr != nil {
		return nil, g.loadErr
	}
	return append([]chat.Message(nil), g.history[roomID]...), nil
}

func (g *stubGateway) Append(roomID chat.RoomID, msgs []chat.Message) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.appendErr != nil {
		return g.appendErr
	}
	g.history[roomID] = append(g.history[roomID], msgs...)
	return nil
}

func (g *stubGateway) stored(roomID chat.RoomID) []chat.Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]chat.Message(nil), g.history[roomID]...)
}

func TestRoom_Broadcast_Delivers_Identical_Order_To_Every_Member(t *testing.T) {
	req := require.New(t)
	room := SpawnRoom("r1", nil, newStubGateway(), testLogger(), 100)

	// Given two members with room for the full traffic
	alice := newQueueOutbound(256)
	bob := newQueueOutbound(256)
	req.NoError(room.Join(uuid.New(), "alice", alice))
	req.NoError(room.Join(uuid.New(), "bob", bob))

	// When several producers broadcast concurrently
	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				req.NoError(room.Broadcast("alice", "hello"))
			}
		}()
	}
	wg.Wait()

	// A trailing join serializes behind every pending broadcast, so its
	// backlog is the authoritative order.
	probe := newQueueOutbound(256)
	req.NoError(room.Join(uuid.New(), "probe", probe))

	// Then all members saw the same sequence
	reference := probe.drain()
	req.Len(reference, 100)
	ids := func(msgs []chat.Message) []uuid.UUID {
		return lo.Map(msgs, func(m chat.Message, _ int) uuid.UUID { return m.ID })
	}
	req.Equal(ids(reference), ids(alice.drain()))
	req.Equal(ids(reference), ids(bob.drain()))
}

func TestRoom_Join_Delivers_Backlog_Then_Live_Traffic(t *testing.T) {
	req := require.New(t)
	backlog := []chat.Message{
		chat.NewMessage("r1", "alice", "hi"),
		chat.NewMessage("r1", "bob", "yo"),
	}
	room := SpawnRoom("r1", backlog, newStubGateway(), testLogger(), 100)

	// When a member joins a room with history
	member := newQueueOutbound(16)
	req.NoError(room.Join(uuid.New(), "carol", member))

	// Then the exact backlog is already queued, in order
	got := member.drain()
	req.Len(got, 2)
	req.Equal(backlog[0].ID, got[0].ID)
	req.Equal(backlog[1].ID, got[1].ID)

	// And live traffic follows with no duplicate
	req.NoError(room.Broadcast("carol", "made it"))
	probe := newQueueOutbound(16)
	req.NoError(room.Join(uuid.New(), "probe", probe))
	live := member.drain()
	req.Len(live, 1)
	req.Equal("made it", live[0].Content)
}

func TestRoom_Closes_And_Flushes_When_Last_Member_Leaves(t *testing.T) {
	req := require.New(t)
	gateway := newStubGateway()
	seeded := chat.NewMessage("r1", "alice", "old")
	room := SpawnRoom("r1", []chat.Message{seeded}, gateway, testLogger(), 100)

	connectionID := uuid.New()
	req.NoError(room.Join(connectionID, "alice", newQueueOutbound(16)))
	req.NoError(room.Broadcast("alice", "new"))

	// When the only member leaves
	room.Leave(connectionID)

	// Then the room reaches its terminal state
	req.Eventually(room.Closed, time.Second, 5*time.Millisecond)

	// And only the fresh tail was flushed, never the seeded backlog
	stored := gateway.stored("r1")
	req.Len(stored, 1)
	req.Equal("new", stored[0].Content)
}

func TestRoom_Leave_For_Unknown_Connection_Is_A_Noop(t *testing.T) {
	req := require.New(t)
	room := SpawnRoom("r1", nil, newStubGateway(), testLogger(), 100)

	connectionID := uuid.New()
	member := newQueueOutbound(16)
	req.NoError(room.Join(connectionID, "alice", member))

	// When a leave arrives for a connection that is not a member
	room.Leave(uuid.New())
	room.Leave(uuid.New())

	// Then the room stays open and keeps delivering
	req.NoError(room.Broadcast("alice", "still here"))
	probe := newQueueOutbound(16)
	req.NoError(room.Join(uuid.New(), "probe", probe))
	req.False(room.Closed())
	req.Len(member.drain(), 1)
}

func TestRoom_Join_After_Closure_Is_Rejected(t *testing.T) {
	req := require.New(t)
	room := SpawnRoom("r1", nil, newStubGateway(), testLogger(), 100)

	connectionID := uuid.New()
	req.NoError(room.Join(connectionID, "alice", newQueueOutbound(16)))
	room.Leave(connectionID)
	req.Eventually(room.Closed, time.Second, 5*time.Millisecond)

	// A closed instance never reopens
	err := room.Join(uuid.New(), "bob", newQueueOutbound(16))
	req.ErrorIs(err, errors.ErrRoomClosed)
	req.Error(room.Broadcast("bob", "anyone?"))
}

func TestRoom_Closes_Even_When_The_Flush_Fails(t *testing.T) {
	req := require.New(t)
	gateway := newStubGateway()
	gateway.appendErr = fmt.Errorf("store unavailable")
	room := SpawnRoom("r1", nil, gateway, testLogger(), 100)

	connectionID := uuid.New()
	req.NoError(room.Join(connectionID, "alice", newQueueOutbound(16)))
	req.NoError(room.Broadcast("alice", "doomed"))

	// When the flush on closure fails
	room.Leave(connectionID)

	// Then closure still completes, durability is best effort
	req.Eventually(room.Closed, time.Second, 5*time.Millisecond)
	req.Empty(gateway.stored("r1"))
}

func TestRoom_Slow_Member_Never_Blocks_The_Others(t *testing.T) {
	req := require.New(t)
	room := SpawnRoom("r1", nil, newStubGateway(), testLogger(), 100)

	// Given one member whose queue holds a single message
	slow := newQueueOutbound(1)
	fast := newQueueOutbound(16)
	req.NoError(room.Join(uuid.New(), "slow", slow))
	req.NoError(room.Join(uuid.New(), "fast", fast))

	// When more traffic arrives than the slow queue can hold
	for i := 0; i < 3; i++ {
		req.NoError(room.Broadcast("fast", "burst"))
	}
	probe := newQueueOutbound(16)
	req.NoError(room.Join(uuid.New(), "probe", probe))

	// Then the fast member got everything and the overflow was dropped
	req.Len(fast.drain(), 3)
	req.Len(slow.drain(), 1)
}
