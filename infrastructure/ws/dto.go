package ws

import "chat-rooms/domain/chat"

// Frame is the server -> client wire format: one JSON object per message.
// Clients only rely on sender and content; id and room_id travel along for
// diagnostics.
type Frame struct {
	ID      string `json:"id"`
	RoomID  string `json:"room_id"`
	Sender  string `json:"sender"`
	Content string `json:"content"`
}

func toFrame(msg chat.Message) Frame {
	return Frame{
		ID:      msg.ID.String(),
		RoomID:  string(msg.RoomID),
		Sender:  msg.Sender,
		Content: msg.Content,
	}
}
