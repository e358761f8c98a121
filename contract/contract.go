package contract

import (
	"context"
	"reflect"

	"chat-rooms/domain/chat"
)

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// Gateway is the durable message store a room consults when it is created
// and flushes to when it closes. Load returns an empty history for an
// unknown room. Append failures are logged by the caller and never abort
// the room lifecycle.
type Gateway interface {
	Load(roomID chat.RoomID) ([]chat.Message, error)
	Append(roomID chat.RoomID, messages []chat.Message) error
}

// Transport is one client's duplex text channel. ReadText blocks until the
// next inbound text frame arrives or the channel dies. Close unblocks any
// pending read so both connection duties can unwind.
type Transport interface {
	ReadText() (string, error)
	WriteMessage(chat.Message) error
	Ping() error
	Close() error
}
