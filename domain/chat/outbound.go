package chat

// Outbound is the delivery handle a room keeps for one member.
// Push must never block: it reports false when the member queue cannot
// accept the message, and the room simply skips that recipient.
type Outbound interface {
	Push(Message) bool
}
