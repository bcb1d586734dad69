package server

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hersh/arena/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 16384
	sendBuffer     = 256
)

// conn is one connected client.
type conn struct {
	accountID string
	ws        *websocket.Conn
	codec     protocol.Codec
	sendCh    chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu          sync.Mutex
	roomID      string
	unsubscribe func()
}

func newConn(accountID string, ws *websocket.Conn, codec protocol.Codec) *conn {
	return &conn{
		accountID: accountID,
		ws:        ws,
		codec:     codec,
		sendCh:    make(chan []byte, sendBuffer),
		done:      make(chan struct{}),
	}
}

// room returns the room the client is in, or "".
func (c *conn) room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

// setRoom records the room and its bus subscription and returns the
// previous subscription's cancel func, if any.
func (c *conn) setRoom(roomID string, unsubscribe func()) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.unsubscribe
	c.roomID = roomID
	c.unsubscribe = unsubscribe
	return prev
}

// send encodes a message and queues it. Slow clients lose messages rather
// than stall the sender.
func (c *conn) send(t protocol.MessageType, payload any) {
	data, err := c.codec.Encode(t, payload)
	if err != nil {
		log.Printf("[hub] encode %s for %s: %v", t, c.accountID, err)
		return
	}
	select {
	case <-c.done:
	case c.sendCh <- data:
	default:
		log.Printf("[hub] send buffer full for %s, dropping %s", c.accountID, t)
	}
}

func (c *conn) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// writePump is the only goroutine writing to the socket.
func (c *conn) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	kind := websocket.TextMessage
	if c.codec.Binary() {
		kind = websocket.BinaryMessage
	}

	for {
		select {
		case msg := <-c.sendCh:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(kind, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// readPump decodes frames until the socket fails and hands each one to
// dispatch.
func (c *conn) readPump(dispatch func(*conn, protocol.Frame)) {
	defer c.ws.Close()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[hub] read error for %s: %v", c.accountID, err)
			}
			return
		}
		frame, err := c.codec.Decode(message)
		if err != nil {
			log.Printf("[hub] bad frame from %s: %v", c.accountID, err)
			continue
		}
		dispatch(c, frame)
	}
}
