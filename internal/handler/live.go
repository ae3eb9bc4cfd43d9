package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/campus-shuttle/internal/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const writeWait = 10 * time.Second

// liveFrame is one message pushed to a live client.
type liveFrame struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
	Err  string `json:"error,omitempty"`
}

// stream upgrades the request to a WebSocket and runs produce until it
// returns, the client disconnects or stops answering pings. produce gets a
// context that ends with the connection and a send func that writes one
// frame. Incoming client messages are discarded.
func stream(c echo.Context, ping time.Duration, kind string, produce func(ctx context.Context, send func(any)) error) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already replied with an HTTP error.
		return nil
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	var mu sync.Mutex
	write := func(f liveFrame) error {
		mu.Lock()
		defer mu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(f)
	}

	// Reader: keeps pong deadlines moving and notices the client leaving.
	_ = conn.SetReadDeadline(time.Now().Add(2 * ping))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(2 * ping))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	go func() {
		t := time.NewTicker(ping)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	send := func(v any) {
		if err := write(liveFrame{Type: kind, Data: v}); err != nil {
			cancel()
		}
	}
	if err := produce(ctx, send); err != nil {
		_, msg := statusOf(err)
		_ = write(liveFrame{Type: "error", Err: msg})
		logger.Warn(ctx, "live stream ended", logger.Err(err))
	}
	mu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	mu.Unlock()
	return nil
}
