package internal

import (
	"time"
)

// Config gathers every server-side environment knob. Defaults match the
// reference deployment; nothing is required so a bare environment runs.
type Config struct {
	Port           int    `env:"PORT,default=8080"`
	BadgerFilepath string `env:"BADGER_FILEPATH,default=./data/rooms"`
	LogLevel       string `env:"LOG_LEVEL,default=INFO"`

	// RoomBufferSize bounds each room actor's mailbox,
	// OutboundBufferSize each member's delivery queue.
	RoomBufferSize     int `env:"ROOM_BUFFER_SIZE,default=100"`
	OutboundBufferSize int `env:"OUTBOUND_BUFFER_SIZE,default=100"`

	// CensoredWords is a comma-separated moderation dictionary. Empty
	// disables moderation entirely.
	CensoredWords string `env:"CENSORED_WORDS"`

	ReapInterval    time.Duration `env:"REAP_INTERVAL,default=1s"`
	RestartInterval time.Duration `env:"RESTART_INTERVAL,default=200ms"`
	MetricInterval  time.Duration `env:"METRIC_INTERVAL,default=30s"`

	PingInterval    time.Duration `env:"PING_INTERVAL,default=54s"`
	PongTimeout     time.Duration `env:"PONG_TIMEOUT,default=60s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT,default=10s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=5s"`
}
