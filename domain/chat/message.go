// Package chat contains the core concepts of the room chat system.
// This file defines immutable Message values and room identifiers.
// No runtime, network, or UI logic should be added here.
package chat

import (
	"github.com/google/uuid"
)

// RoomID identifies one ordered broadcast domain.
type RoomID string

// Message represents one immutable chat utterance. A room constructs it
// once and then shares it by reference between its own log and every
// member queue, so it must never be mutated after creation.
type Message struct {
	ID      uuid.UUID `json:"id"`
	RoomID  RoomID    `json:"room_id"`
	Sender  string    `json:"sender"`
	Content string    `json:"content"`
}

// NewMessage builds a message attributed to sender inside roomID.
func NewMessage(roomID RoomID, sender, content string) Message {
	return Message{
		ID:      uuid.New(),
		RoomID:  roomID,
		Sender:  sender,
		Content: content,
	}
}
