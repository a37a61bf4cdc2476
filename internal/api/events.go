package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v5"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleRunEvents streams progress events of a run over a WebSocket and
// finishes with the final run record.
func (s *Server) handleRunEvents(c *echo.Context) error {
	id := c.Param("id")
	events, cancel, err := s.store.Subscribe(id)
	if err != nil {
		return writeNotFound(c, fmt.Sprintf("run %q not found", id))
	}
	defer cancel()

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "run", id, "error", err)
		return nil
	}
	defer conn.Close()

	// The client sends nothing; reading detects it going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	if events != nil {
	loop:
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					break loop
				}
				if err := writeMessage(conn, Message{Type: "event", Event: &ev}); err != nil {
					return nil
				}
			case <-gone:
				return nil
			}
		}
	}

	rec, _ := s.store.Get(id)
	if err := writeMessage(conn, Message{Type: "run", Run: &rec}); err != nil {
		return nil
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(rec.Status)),
		time.Now().Add(writeWait))
	return nil
}

func writeMessage(conn *websocket.Conn, msg Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, b)
}
