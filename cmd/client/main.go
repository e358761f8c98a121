package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Netflix/go-env"
	"github.com/gookit/color"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
)

// Exit codes for the client application.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

// Config defines the client-side environment variables.
type Config struct {
	ServerAddress string `env:"CHAT_SERVER_ADDR,default=localhost:8080"`
	RoomID        string `env:"CHAT_ROOM_ID"`
	Username      string `env:"CHAT_USERNAME"`
}

// frame mirrors the message envelope broadcast by the server.
type frame struct {
	Sender  string `json:"sender"`
	Content string `json:"content"`
}

func main() {
	// The main function manages the OS exit code based on run()'s return.
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Client error: %v\n", err)
	}
	os.Exit(code)
}

// run handles the websocket client lifecycle: configuration, connection,
// reception loop and the stdin send loop.
func run() (int, error) {
	// 1. Load configuration, with an optional .env overlay.
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}

	stdin := bufio.NewReader(os.Stdin)

	// 2. Prompt for whatever the environment left blank.
	roomID, err := askIfEmpty(stdin, config.RoomID, "Room id: ")
	if err != nil {
		return exitConfig, err
	}
	username, err := askIfEmpty(stdin, config.Username, "Username: ")
	if err != nil {
		return exitConfig, err
	}

	// 3. Setup context to handle termination signals (Ctrl+C).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Establish the websocket connection to the chat server.
	target := url.URL{
		Scheme:   "ws",
		Host:     config.ServerAddress,
		Path:     "/ws/joinroom",
		RawQuery: url.Values{"room_id": {roomID}, "username": {username}}.Encode(),
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target.String(), nil)
	if err != nil {
		return exitRuntime, fmt.Errorf("could not connect to server at %s: %w", config.ServerAddress, err)
	}
	defer func() { _ = conn.Close() }()

	color.New(color.FgCyan, color.OpBold).Printf(">>> Joined room %q as %q on %s (Ctrl+C to quit)\n",
		roomID, username, config.ServerAddress)

	// 5. Message reception loop, feeding errors back to the main select.
	done := make(chan error, 1)
	go func() {
		done <- receive(conn, username)
	}()

	// 6. Stdin send loop. Reads run on their own goroutine so that a
	// termination signal is never stuck behind a blocking read.
	lines := make(chan string)
	go func() {
		defer close(lines)
		for {
			line, err := stdin.ReadString('\n')
			if err != nil {
				return
			}
			if line = strings.TrimSpace(line); line != "" {
				lines <- line
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			// Best effort: tell the server we are leaving before the
			// deferred close tears the connection down.
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return exitOK, nil
		case err := <-done:
			if ctx.Err() != nil {
				return exitOK, nil
			}
			return exitRuntime, fmt.Errorf("connection lost: %w", err)
		case line, ok := <-lines:
			if !ok {
				return exitOK, nil
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
				return exitRuntime, fmt.Errorf("send failed: %w", err)
			}
		}
	}
}

// receive prints every broadcast frame until the connection breaks.
func receive(conn *websocket.Conn, self string) error {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var f frame
		if err := json.Unmarshal(payload, &f); err != nil {
			continue
		}
		if f.Sender == self {
			color.Cyan.Printf("%s: %s\n", f.Sender, f.Content)
		} else {
			color.Green.Printf("%s: %s\n", f.Sender, f.Content)
		}
	}
}

// askIfEmpty returns value as-is when set, otherwise prompts on stdin.
func askIfEmpty(stdin *bufio.Reader, value, prompt string) (string, error) {
	if value != "" {
		return value, nil
	}
	fmt.Print(prompt)
	line, err := stdin.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("reading input: %w", err)
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", fmt.Errorf("a value is required")
	}
	return line, nil
}
