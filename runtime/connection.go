package runtime

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"chat-rooms/contract"
	"chat-rooms/domain/chat"
)

// Connection bridges one transport to one room with two duties: the reader
// turns inbound frames into broadcasts, the writer drains the outbound queue
// back to the transport. Both share a single cancellation signal and converge
// on exactly one Leave, whichever side fails first.
type Connection struct {
	id        uuid.UUID
	username  string
	room      *Room
	transport contract.Transport
	log       *slog.Logger

	outbound     chan chat.Message
	pingInterval time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	leaveOnce    sync.Once
	wg           sync.WaitGroup
	disconnected atomic.Bool
}

func newConnection(id uuid.UUID, username string, room *Room, transport contract.Transport,
	log *slog.Logger, queueSize int, pingInterval time.Duration) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		id:           id,
		username:     username,
		room:         room,
		transport:    transport,
		log:          log,
		outbound:     make(chan chat.Message, queueSize),
		pingInterval: pingInterval,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// ID returns the registry-unique connection identifier.
func (c *Connection) ID() uuid.UUID { return c.id }

// Username returns the name messages from this connection are attributed to.
func (c *Connection) Username() string { return c.username }

// Disconnected reports whether both duties have exited. Only then may the
// reaper drop this connection from the index.
func (c *Connection) Disconnected() bool { return c.disconnected.Load() }

// Push implements chat.Outbound. It never blocks the calling room actor:
// a full or cancelled queue just loses this one delivery.
func (c *Connection) Push(msg chat.Message) bool {
	if c.ctx.Err() != nil {
		return false
	}
	select {
	case c.outbound <- msg:
		return true
	default:
		return false
	}
}

// Start launches both duties. It returns immediately; teardown is driven by
// the transport or by Shutdown.
func (c *Connection) Start() {
	c.wg.Add(2)
	go c.readLoop()
	go c.writeLoop()
	go func() {
		c.wg.Wait()
		c.disconnected.Store(true)
		c.log.Debug("Connection terminated", "connection_id", c.id, "username", c.username)
	}()
}

// Shutdown tears the connection down from the server side. Safe to call more
// than once and concurrently with a transport-driven teardown.
func (c *Connection) Shutdown() {
	c.leave()
}

// leave issues the single Leave for this connection and unwinds both duties.
func (c *Connection) leave() {
	c.leaveOnce.Do(func() {
		c.room.Leave(c.id)
		c.cancel()
		_ = c.transport.Close()
	})
}

// readLoop consumes inbound frames one at a time and submits each as a
// broadcast. Any read failure, a cancelled context or a closed room ends the
// duty; the deferred leave fires exactly once either way.
func (c *Connection) readLoop() {
	defer c.wg.Done()
	defer c.leave()
	for {
		text, err := c.transport.ReadText()
		if err != nil {
			c.log.Debug("Transport read ended", "connection_id", c.id, "error", err)
			return
		}
		if c.ctx.Err() != nil {
			return
		}
		if err := c.room.Broadcast(c.username, text); err != nil {
			c.log.Warn("Room refused broadcast", "connection_id", c.id, "room_id", c.room.ID(), "error", err)
			return
		}
	}
}

// writeLoop drains the outbound queue to the transport in arrival order and
// keeps the link alive with pings. A write failure cancels the shared
// context and closes the transport so the reader unwinds at its next read.
func (c *Connection) writeLoop() {
	defer c.wg.Done()
	defer func() {
		c.cancel()
		_ = c.transport.Close()
	}()
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case msg := <-c.outbound:
			if err := c.transport.WriteMessage(msg); err != nil {
				c.log.Warn("Transport write failed", "connection_id", c.id, "error", err)
				return
			}
		case <-ticker.C:
			if err := c.transport.Ping(); err != nil {
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}
