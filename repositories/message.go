// Package repositories persists room history in BadgerDB. It is the durable
// side of the room lifecycle: consulted once when a room is created and
// appended to when it closes.
package repositories

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"chat-rooms/domain/chat"
)

type MessageRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewMessageRepository(db *badger.DB, log *slog.Logger) MessageRepository {
	return MessageRepository{db: db, log: log}
}

// Keys are formatted as "msg:{room_id}:{seq_padded}:{uuid}" so that:
//  1. A plain prefix scan yields one room's history in log order, using
//     19-digit zero padding for lexicographic ordering.
//  2. The sequence continues across room instances: a reopened room appends
//     strictly after the history its predecessor flushed.
//  3. The UUID keeps keys unique even if a sequence were ever reused.
func messageKey(roomID chat.RoomID, seq uint64, id uuid.UUID) []byte {
	return []byte(fmt.Sprintf("msg:%s:%019d:%s", roomID, seq, id))
}

func roomPrefix(roomID chat.RoomID) []byte {
	return []byte(fmt.Sprintf("msg:%s:", roomID))
}

// Load returns the full stored history of a room in log order. An unknown
// room yields an empty history, not an error.
func (m MessageRepository) Load(roomID chat.RoomID) ([]chat.Message, error) {
	var messages []chat.Message
	err := m.db.View(func(txn *badger.Txn) error {
		prefix := roomPrefix(roomID)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var msg chat.Message
				if err := json.Unmarshal(val, &msg); err != nil {
					return fmt.Errorf("corrupt message at %s: %w", it.Item().Key(), err)
				}
				messages = append(messages, msg)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.log.Debug("History loaded", "room_id", roomID, "messages", len(messages))
	return messages, nil
}

// Append stores an ordered batch of messages after the room's current
// history. The whole batch commits atomically.
func (m MessageRepository) Append(roomID chat.RoomID, messages []chat.Message) error {
	if len(messages) == 0 {
		return nil
	}
	return m.db.Update(func(txn *badger.Txn) error {
		seq, err := m.nextSeq(txn, roomID)
		if err != nil {
			return err
		}
		for i, msg := range messages {
			payload, err := json.Marshal(msg)
			if err != nil {
				return err
			}
			if err := txn.Set(messageKey(roomID, seq+uint64(i), msg.ID), payload); err != nil {
				return err
			}
		}
		return nil
	})
}

// nextSeq locates the highest stored sequence for the room with a reverse
// scan and returns its follower.
func (m MessageRepository) nextSeq(txn *badger.Txn, roomID chat.RoomID) (uint64, error) {
	prefix := roomPrefix(roomID)
	options := badger.DefaultIteratorOptions
	options.Reverse = true
	options.PrefetchValues = false
	it := txn.NewIterator(options)
	defer it.Close()

	// Seek past every possible sequence for this room.
	it.Seek(append(append([]byte{}, prefix...), []byte("9999999999999999999")...))
	if !it.ValidForPrefix(prefix) {
		return 0, nil
	}
	rest := it.Item().Key()[len(prefix):]
	end := bytes.IndexByte(rest, ':')
	if end < 0 {
		return 0, fmt.Errorf("malformed message key %q", it.Item().Key())
	}
	seq, err := strconv.ParseUint(string(rest[:end]), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed message key %q: %w", it.Item().Key(), err)
	}
	return seq + 1, nil
}
