package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/parleychat/parley/internal/types"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 1024
	sendQueueSize  = 256
)

// Close codes sent when the server drops a connection on purpose.
const (
	CloseSuperseded       = 4000
	CloseHeartbeatTimeout = 4001
)

type Client struct {
	sessionId  string
	conn       *websocket.Conn
	chatServer *ChatServer
	log        *log.Logger
	user       types.User
	send       chan *Event
	ping       chan struct{}
	stop       chan struct{}
	stopOnce   sync.Once
	alive      atomic.Bool
	readWait   time.Duration
}

func NewClient(user types.User, conn *websocket.Conn, cs *ChatServer, l *log.Logger) *Client {
	c := &Client{
		sessionId:  uuid.NewString(),
		conn:       conn,
		chatServer: cs,
		log:        l,
		user:       user,
		send:       make(chan *Event, sendQueueSize),
		ping:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
		readWait:   2 * cs.heartbeatInterval,
	}
	c.alive.Store(true)

	return c
}

func (c *Client) Write() {
	defer func() {
		c.conn.Close()
		c.log.Println("write exiting")
	}()

	for {
		select {
		case ev, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := ev.bytes()
			if err != nil {
				c.log.Println("failed to serialize event:", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.ping:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		case <-c.stop:
			return
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.Println("read exiting")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.readWait))
	c.conn.SetPongHandler(func(appData string) error {
		c.alive.Store(true)
		c.conn.SetReadDeadline(time.Now().Add(c.readWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		// Admission guarantees an identity, so a frame without one is a
		// protocol violation and the connection cannot be kept.
		if c.user.Id == 0 {
			c.log.Printf("event on connection %s with no resolved user", c.sessionId)
			break
		}

		var ev ClientEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			c.log.Println("error parsing event:", err)
			c.queueEvent(ErrInvalidEvent())
			continue
		}

		c.handleEvent(&ev)
	}
}

// handleEvent relays a client frame. Typing is the only event clients
// may originate, everything else flows through the HTTP API.
func (c *Client) handleEvent(ev *ClientEvent) {
	switch ev.Type {
	case EventTyping:
		var p TypingPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			c.queueEvent(NewErrorEvent(http.StatusBadRequest, "invalid typing payload"))
			return
		}

		// Never trust the sender-supplied user id.
		p.UserId = c.user.Id
		out := NewEvent(EventTyping, p)
		out.SkipUserId = c.user.Id
		c.chatServer.Broadcast(out)
	default:
		c.queueEvent(NewErrorEvent(http.StatusBadRequest, fmt.Sprintf("unsupported event type %q", ev.Type)))
	}
}

func (c *Client) queueEvent(ev *Event) bool {
	select {
	case c.send <- ev:
	default:
		c.log.Println("failed to queue event for client, channel is full")
		return false
	}

	return true
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

// schedulePing asks the write pump to emit a ping frame. A ping
// already in flight is good enough, so a full channel is a no-op.
func (c *Client) schedulePing() {
	select {
	case c.ping <- struct{}{}:
	default:
	}
}

// closeWithReason sends a close frame without going through the write
// pump. WriteControl is safe to call concurrently with it.
func (c *Client) closeWithReason(code int, reason string) {
	if c.conn == nil {
		return
	}

	msg := websocket.FormatCloseMessage(code, reason)
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		c.log.Printf("write close frame: %s", err)
	}
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

func (c *Client) cleanup() {
	c.chatServer.DeRegisterClient(c)
	c.stopClient()
}
