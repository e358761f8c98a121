package runtime

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"chat-rooms/contract"
	"chat-rooms/domain/chat"
	"chat-rooms/errors"
)

// joinAttempts bounds how often a join retries after losing the race against
// a room that closed between lookup and attach. Each retry spawns a fresh
// instance, so one retry is normally enough.
const joinAttempts = 3

// Registry is the process-wide directory of room actors plus the connection
// index the reaper sweeps. Its mutex guards map operations only; history
// loads and joins always happen outside the critical section.
type Registry struct {
	mu    sync.Mutex
	rooms map[chat.RoomID]*Room
	index map[chat.RoomID][]*Connection
	ids   map[uuid.UUID]struct{}

	gateway contract.Gateway
	log     *slog.Logger

	mailboxSize  int
	outboundSize int
	pingInterval time.Duration
}

func NewRegistry(gateway contract.Gateway, log *slog.Logger,
	mailboxSize, outboundSize int, pingInterval time.Duration) *Registry {
	return &Registry{
		rooms:        make(map[chat.RoomID]*Room),
		index:        make(map[chat.RoomID][]*Connection),
		ids:          make(map[uuid.UUID]struct{}),
		gateway:      gateway,
		log:          log,
		mailboxSize:  mailboxSize,
		outboundSize: outboundSize,
		pingInterval: pingInterval,
	}
}

// JoinOrCreate resolves the room (creating and seeding it if absent),
// allocates a registry-unique connection id, attaches a new connection as a
// member and records it in the index. The caller starts the duties against
// the transport afterwards.
func (r *Registry) JoinOrCreate(roomID chat.RoomID, username string, transport contract.Transport) (*Connection, error) {
	for attempt := 0; attempt < joinAttempts; attempt++ {
		room := r.resolve(roomID)
		conn := newConnection(r.allocateID(), username, room, transport,
			r.log, r.outboundSize, r.pingInterval)
		if err := room.Join(conn.id, username, conn); err != nil {
			// The room closed underneath us. Drop the dead entry so the
			// next attempt spawns a fresh instance.
			r.evict(roomID, room)
			r.releaseID(conn.id)
			continue
		}
		r.record(roomID, conn)
		return conn, nil
	}
	return nil, errors.ErrRoomClosed
}

// resolve returns the open room for the id, spawning one seeded from the
// gateway when absent. The double check keeps the gateway read outside the
// mutex while still guaranteeing a single live actor per room id.
func (r *Registry) resolve(roomID chat.RoomID) *Room {
	r.mu.Lock()
	if room, ok := r.rooms[roomID]; ok && !room.Closed() {
		r.mu.Unlock()
		return room
	}
	r.mu.Unlock()

	backlog, err := r.gateway.Load(roomID)
	if err != nil {
		r.log.Error("History load failed, seeding empty backlog", "room_id", roomID, "error", err)
		backlog = nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if room, ok := r.rooms[roomID]; ok && !room.Closed() {
		// Lost the creation race; attach to the winner.
		return room
	}
	room := SpawnRoom(roomID, backlog, r.gateway, r.log, r.mailboxSize)
	r.rooms[roomID] = room
	r.log.Info("Opening room", "room_id", roomID, "backlog", len(backlog))
	return room
}

// allocateID draws connection ids until one is registry-unique. The random
// source is not trusted to be collision free.
func (r *Registry) allocateID() uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	for {
		id := uuid.New()
		if _, taken := r.ids[id]; !taken {
			r.ids[id] = struct{}{}
			return id
		}
	}
}

func (r *Registry) releaseID(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.ids, id)
}

func (r *Registry) record(roomID chat.RoomID, conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.index[roomID] = append(r.index[roomID], conn)
}

// evict removes a registry entry, but only while it still points at the given
// instance: a newer room under the same id must survive.
func (r *Registry) evict(roomID chat.RoomID, room *Room) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.rooms[roomID]; ok && current == room {
		delete(r.rooms, roomID)
	}
}

// SweepRooms removes every closed room from the directory and reports how
// many were dropped. The reaper never closes a room itself.
func (r *Registry) SweepRooms() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for roomID, room := range r.rooms {
		if room.Closed() {
			delete(r.rooms, roomID)
			removed++
			r.log.Info("Dropping room", "room_id", roomID)
		}
	}
	return removed
}

// SweepConnections drops fully terminated connections from the index,
// releases their ids and removes emptied room entries.
func (r *Registry) SweepConnections() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for roomID, conns := range r.index {
		gone := lo.Filter(conns, func(c *Connection, _ int) bool { return c.Disconnected() })
		for _, conn := range gone {
			delete(r.ids, conn.id)
		}
		removed += len(gone)
		kept := lo.Filter(conns, func(c *Connection, _ int) bool { return !c.Disconnected() })
		if len(kept) == 0 {
			delete(r.index, roomID)
			continue
		}
		r.index[roomID] = kept
	}
	return removed
}

// Snapshot returns a point-in-time room -> usernames listing for diagnostics.
// It is eventually consistent with the live registry.
func (r *Registry) Snapshot() map[string][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot := make(map[string][]string, len(r.index))
	for roomID, conns := range r.index {
		snapshot[string(roomID)] = lo.Map(conns, func(c *Connection, _ int) string { return c.username })
	}
	return snapshot
}

// RoomIDs lists the identifiers of the currently registered rooms.
func (r *Registry) RoomIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return lo.Map(lo.Keys(r.rooms), func(id chat.RoomID, _ int) string { return string(id) })
}

// Counts reports how many rooms and connections are currently registered.
func (r *Registry) Counts() (rooms, connections int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, conns := range r.index {
		connections += len(conns)
	}
	return len(r.rooms), connections
}

// Shutdown tears down every live connection. Rooms then close themselves as
// their memberships drain.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	conns := lo.Flatten(lo.Values(r.index))
	r.mu.Unlock()
	for _, conn := range conns {
		conn.Shutdown()
	}
}

// AwaitIdle blocks until every registered room has closed or the timeout
// elapses, so that final history flushes reach the store before it closes.
func (r *Registry) AwaitIdle(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if r.allClosed() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func (r *Registry) allClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, room := range r.rooms {
		if !room.Closed() {
			return false
		}
	}
	return true
}
