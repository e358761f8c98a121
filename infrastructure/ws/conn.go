// Package ws adapts gorilla/websocket sessions to the engine's transport
// contract and exposes the join and introspection HTTP handlers.
package ws

import (
	"time"

	"github.com/gorilla/websocket"

	"chat-rooms/domain/chat"
)

// Conn wraps one upgraded websocket session. Reads happen from the
// connection's reader duty, writes and pings from its writer duty, so the
// underlying socket never sees concurrent writers.
type Conn struct {
	socket       *websocket.Conn
	censor       func(string) string
	writeTimeout time.Duration
	pongTimeout  time.Duration
}

// NewConn wraps an upgraded socket. A non-nil censor is applied to every
// inbound payload, so moderated content is what gets logged and stored.
func NewConn(socket *websocket.Conn, censor func(string) string, writeTimeout, pongTimeout time.Duration) *Conn {
	_ = socket.SetReadDeadline(time.Now().Add(pongTimeout))
	socket.SetPongHandler(func(string) error {
		return socket.SetReadDeadline(time.Now().Add(pongTimeout))
	})
	return &Conn{socket: socket, censor: censor, writeTimeout: writeTimeout, pongTimeout: pongTimeout}
}

// ReadText blocks until the next inbound text frame, skipping every other
// frame type. The payload is the message content.
func (c *Conn) ReadText() (string, error) {
	for {
		frameType, payload, err := c.socket.ReadMessage()
		if err != nil {
			return "", err
		}
		if frameType == websocket.TextMessage {
			text := string(payload)
			if c.censor != nil {
				text = c.censor(text)
			}
			return text, nil
		}
	}
}

// WriteMessage sends one message as its JSON wire frame.
func (c *Conn) WriteMessage(msg chat.Message) error {
	if err := c.socket.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.socket.WriteJSON(toFrame(msg))
}

// Ping keeps the session alive between messages; the pong handler pushes the
// read deadline forward.
func (c *Conn) Ping() error {
	if err := c.socket.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.socket.WriteMessage(websocket.PingMessage, nil)
}

// Close tears the socket down and unblocks any pending read.
func (c *Conn) Close() error {
	return c.socket.Close()
}
