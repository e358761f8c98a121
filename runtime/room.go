// Package runtime hosts the room/connection engine: one actor goroutine per
// open room, two duty goroutines per connection, a shared registry and a
// periodic reaper. It coordinates delivery and lifecycle without containing
// domain rules.
package runtime

import (
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"

	"chat-rooms/contract"
	"chat-rooms/domain/chat"
	"chat-rooms/errors"
)

// Mailbox requests. The actor goroutine is the only consumer, which makes it
// the sole serialization point for membership, the message log and closure.
type joinReq struct {
	connectionID uuid.UUID
	username     string
	outbound     chat.Outbound
	reply        chan error
}

type broadcastReq struct {
	sender  string
	content string
}

type leaveReq struct {
	connectionID uuid.UUID
}

// Room is a per-room actor. External callers only ever talk to it through
// Join, Broadcast and Leave, which enqueue requests on the mailbox; the
// fields below the mailbox are owned by the actor goroutine alone.
type Room struct {
	id      chat.RoomID
	log     *slog.Logger
	gateway contract.Gateway

	mailbox chan any
	done    chan struct{}
	closed  atomic.Bool

	// Actor-owned state. Never touched outside run().
	members   map[uuid.UUID]chat.Outbound
	messages  []chat.Message
	persisted int
}

// SpawnRoom builds a room seeded with the given backlog and starts its actor
// goroutine. The backlog counts as already durable: only messages appended
// after the spawn are flushed on closure.
func SpawnRoom(id chat.RoomID, backlog []chat.Message, gateway contract.Gateway, log *slog.Logger, mailboxSize int) *Room {
	r := &Room{
		id:        id,
		log:       log,
		gateway:   gateway,
		mailbox:   make(chan any, mailboxSize),
		done:      make(chan struct{}),
		members:   make(map[uuid.UUID]chat.Outbound),
		messages:  append([]chat.Message(nil), backlog...),
		persisted: len(backlog),
	}
	go r.run()
	return r
}

// ID returns the room identifier.
func (r *Room) ID() chat.RoomID { return r.id }

// Closed reports whether the actor reached its terminal state. A closed room
// instance is never reopened; a later join for the same id gets a fresh one.
func (r *Room) Closed() bool { return r.closed.Load() }

// Join registers a member and returns once the actor has pushed the entire
// current backlog onto its outbound queue, so the member sees the exact
// history followed by live traffic with no gap and no duplicate.
// ErrRoomClosed means the caller raced the room's closure and must attach to
// a fresh instance instead.
func (r *Room) Join(connectionID uuid.UUID, username string, outbound chat.Outbound) error {
	req := joinReq{
		connectionID: connectionID,
		username:     username,
		outbound:     outbound,
		reply:        make(chan error, 1),
	}
	select {
	case r.mailbox <- req:
	case <-r.done:
		return errors.ErrRoomClosed
	}
	select {
	case err := <-req.reply:
		return err
	case <-r.done:
		// The actor exited. Either it already served us (the reply is
		// buffered and visible now) or the request is stuck in a dead
		// mailbox and will never be picked up.
		select {
		case err := <-req.reply:
			return err
		default:
			return errors.ErrRoomClosed
		}
	}
}

// Broadcast submits one utterance for ordered append and fan-out. The call
// blocks while the mailbox is full, which is the accepted backpressure on a
// single producer; it fails only once the room is closed.
func (r *Room) Broadcast(sender, content string) error {
	select {
	case r.mailbox <- broadcastReq{sender: sender, content: content}:
		return nil
	case <-r.done:
		return errors.ErrRoomClosed
	}
}

// Leave removes a member. A duplicate leave for an absent connection id is a
// no-op, and a leave aimed at an already closed room is silently dropped.
func (r *Room) Leave(connectionID uuid.UUID) {
	select {
	case r.mailbox <- leaveReq{connectionID: connectionID}:
	case <-r.done:
	}
}

func (r *Room) run() {
	defer r.terminate()
	for {
		switch req := (<-r.mailbox).(type) {
		case joinReq:
			r.handleJoin(req)
		case broadcastReq:
			r.handleBroadcast(req)
		case leaveReq:
			if r.handleLeave(req) {
				return
			}
		}
	}
}

// terminate marks the room closed and answers any join still parked in the
// mailbox. It also runs on a panicking actor, so an unexpected termination
// degrades to fail-stop: the reaper sees a closed room and removes it.
func (r *Room) terminate() {
	if rec := recover(); rec != nil {
		r.log.Error("Room actor terminated unexpectedly", "room_id", r.id, "panic", rec)
	}
	r.closed.Store(true)
	close(r.done)
	for {
		select {
		case req := <-r.mailbox:
			if join, ok := req.(joinReq); ok {
				join.reply <- errors.ErrRoomClosed
			}
		default:
			return
		}
	}
}

func (r *Room) handleJoin(req joinReq) {
	r.members[req.connectionID] = req.outbound
	for _, msg := range r.messages {
		if !req.outbound.Push(msg) {
			r.log.Warn("Backlog message dropped for new member",
				"room_id", r.id, "connection_id", req.connectionID, "message_id", msg.ID)
		}
	}
	req.reply <- nil
	r.log.Info("Member joined", "room_id", r.id, "username", req.username, "members", len(r.members))
}

func (r *Room) handleBroadcast(req broadcastReq) {
	msg := chat.NewMessage(r.id, req.sender, req.content)
	r.messages = append(r.messages, msg)
	for connectionID, outbound := range r.members {
		if !outbound.Push(msg) {
			// One slow or dead consumer never blocks the others.
			r.log.Warn("Member queue full, skipping delivery",
				"room_id", r.id, "connection_id", connectionID, "message_id", msg.ID)
		}
	}
}

// handleLeave removes the member and reports whether the room just emptied,
// which is the single Open -> Closed transition.
func (r *Room) handleLeave(req leaveReq) bool {
	if _, ok := r.members[req.connectionID]; !ok {
		return false
	}
	delete(r.members, req.connectionID)
	r.log.Info("Member left", "room_id", r.id, "connection_id", req.connectionID, "members", len(r.members))
	if len(r.members) > 0 {
		return false
	}
	r.flush()
	return true
}

// flush writes the not-yet-durable tail of the log to the gateway. Durability
// is best effort: a failed flush is logged and the closure proceeds anyway.
func (r *Room) flush() {
	unflushed := r.messages[r.persisted:]
	if len(unflushed) > 0 {
		if err := r.gateway.Append(r.id, unflushed); err != nil {
			r.log.Error("History flush failed, closing room anyway",
				"room_id", r.id, "dropped", len(unflushed), "error", err)
		}
	}
	r.persisted = len(r.messages)
	r.log.Info("Room closing", "room_id", r.id, "history", len(r.messages))
}
