package server

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"ragline/internal/chat"
)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The server binds locally and carries no credentials; origin
	// checking would only break browser clients on other ports.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsClientFrame is what clients send: currently only questions.
type wsClientFrame struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// wsConn serializes writes to one WebSocket connection.
type wsConn struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) send(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("[server] ws %s: marshal frame: %v", c.id, err)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Printf("[server] ws %s: write: %v", c.id, err)
	}
}

func (c *wsConn) sendError(msg string) {
	c.send(chat.Event{Type: chat.EventError, Err: msg})
}

// handleWS upgrades the connection and answers questions one at a time.
// Questions are handled synchronously in the read loop, which is exactly
// the one-in-flight-per-connection discipline the chat stream wants.
// Server frames mirror chat events verbatim.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[server] ws upgrade: %v", err)
		return
	}
	client := &wsConn{id: uuid.NewString(), conn: conn}
	log.Printf("[server] ws %s connected from %s", client.id, r.RemoteAddr)
	defer func() {
		conn.Close()
		log.Printf("[server] ws %s disconnected", client.id)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("[server] ws %s: read: %v", client.id, err)
			}
			return
		}

		var frame wsClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			client.sendError("invalid frame")
			continue
		}

		switch frame.Type {
		case "question":
			if frame.Text == "" {
				client.sendError("question text is empty")
				continue
			}
			if s.answerer == nil {
				client.sendError("chat is not configured on this server")
				continue
			}
			if err := s.answerer.AnswerStream(r.Context(), frame.Text, func(e chat.Event) {
				client.send(e)
			}); err != nil {
				log.Printf("[server] ws %s: answer: %v", client.id, err)
			}
		default:
			client.sendError("unknown frame type: " + frame.Type)
		}
	}
}
