package netclient

import (
	"errors"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
	"github.com/hersh/arena/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

// ErrClosed is returned by calls made after Close.
var ErrClosed = errors.New("connection closed")

// ConnectedMsg is sent when the server assigns this client its account id.
type ConnectedMsg struct {
	AccountID string
}

// DisconnectedMsg is sent when the WebSocket connection is lost.
type DisconnectedMsg struct {
	Err error
}

// JoinedMsg is sent when a joinRoom call succeeds.
type JoinedMsg struct {
	RoomID string
	Room   protocol.RoomState
}

// RoomErrorMsg is sent when the server rejects a room operation.
type RoomErrorMsg struct {
	Message string
	Full    bool
}

// SnapshotMsg carries a periodic room snapshot.
type SnapshotMsg struct {
	Snapshot protocol.RoomSnapshot
}

// EventMsg carries one validated room broadcast.
type EventMsg struct {
	Event protocol.Event
}

// Client manages the WebSocket connection to the arena server. It
// implements reconcile.Remote: every call is queued and sent by the write
// pump, so none of them block the UI.
type Client struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	codec   protocol.Codec
	sendCh  chan []byte
	program *tea.Program
	done    chan struct{}
	closed  bool
}

// New dials serverURL, asking the server for the given codec.
func New(serverURL string, codec protocol.Codec) (*Client, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	q := u.Query()
	q.Set("codec", codec.Name())
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, err
	}

	return &Client{
		conn:   conn,
		codec:  codec,
		sendCh: make(chan []byte, 256),
		done:   make(chan struct{}),
	}, nil
}

// SetProgram sets the bubbletea program so the client can send messages to it.
func (c *Client) SetProgram(p *tea.Program) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.program = p
}

// Start launches the read and write pumps.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

func (c *Client) call(t protocol.MessageType, payload any) error {
	data, err := c.codec.Encode(t, payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", t, err)
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.sendCh <- data:
		return nil
	default:
		return fmt.Errorf("%s: send buffer full", t)
	}
}

func (c *Client) JoinRoom(req protocol.JoinRoomRequest) error {
	return c.call(protocol.CallJoinRoom, req)
}

func (c *Client) LeaveRoom() error {
	return c.call(protocol.CallLeaveRoom, protocol.LeaveRoomRequest{})
}

func (c *Client) SetPlayerData(patch protocol.PlayerPatch) error {
	return c.call(protocol.CallSetPlayerData, patch)
}

func (c *Client) UpdatePlayerPosition(patch protocol.PlayerPatch) error {
	return c.call(protocol.CallUpdatePlayerPosition, patch)
}

func (c *Client) UpdatePlayerAnimation(req protocol.AnimationRequest) error {
	return c.call(protocol.CallUpdatePlayerAnimation, req)
}

func (c *Client) PlayerAttack(atk protocol.PlayerAttack) error {
	return c.call(protocol.CallPlayerAttack, atk)
}

func (c *Client) PlayerHit(req protocol.PlayerHitRequest) error {
	return c.call(protocol.CallPlayerHit, req)
}

func (c *Client) BroadcastHitSync(hs protocol.HitSync) error {
	return c.call(protocol.CallBroadcastHitSync, hs)
}

func (c *Client) RespawnPlayer(req protocol.RespawnRequest) error {
	return c.call(protocol.CallRespawnPlayer, req)
}

func (c *Client) CollectPowerup(id string) error {
	return c.call(protocol.CallCollectPowerup, protocol.CollectPowerupRequest{ID: id})
}

// Close shuts down the client connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
}

func (c *Client) deliver(msg tea.Msg) {
	c.mu.Lock()
	p := c.program
	c.mu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

// readPump reads messages from the WebSocket and sends them to the bubbletea program.
func (c *Client) readPump() {
	var readErr error
	defer func() {
		c.deliver(DisconnectedMsg{Err: readErr})
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[netclient] read error: %v", err)
				readErr = err
			}
			return
		}

		frame, err := c.codec.Decode(message)
		if err != nil {
			log.Printf("[netclient] bad frame: %v", err)
			continue
		}
		msg, err := c.translate(frame)
		if err != nil {
			log.Printf("[netclient] %v", err)
			continue
		}
		c.deliver(msg)
	}
}

// translate turns a frame into the tea message the UI understands.
func (c *Client) translate(f protocol.Frame) (tea.Msg, error) {
	switch f.Type {
	case protocol.MsgAssignID:
		var p protocol.AssignIDPayload
		if err := c.codec.DecodePayload(f, &p); err != nil {
			return nil, err
		}
		return ConnectedMsg{AccountID: p.AccountID}, nil
	case protocol.MsgRoomJoined:
		var p protocol.RoomJoinedPayload
		if err := c.codec.DecodePayload(f, &p); err != nil {
			return nil, err
		}
		return JoinedMsg{RoomID: p.RoomID, Room: p.Room}, nil
	case protocol.MsgRoomError:
		var p protocol.RoomErrorPayload
		if err := c.codec.DecodePayload(f, &p); err != nil {
			return nil, err
		}
		return RoomErrorMsg{Message: p.Message, Full: p.Full}, nil
	case protocol.MsgRoomSnapshot:
		var p protocol.RoomSnapshot
		if err := c.codec.DecodePayload(f, &p); err != nil {
			return nil, err
		}
		return SnapshotMsg{Snapshot: p}, nil
	}
	ev, err := protocol.DecodeEvent(c.codec, f)
	if err != nil {
		return nil, err
	}
	return EventMsg{Event: ev}, nil
}

// writePump writes messages from sendCh to the WebSocket.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	kind := websocket.TextMessage
	if c.codec.Binary() {
		kind = websocket.BinaryMessage
	}

	for {
		select {
		case msg := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(kind, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.drain(kind)
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// drain flushes queued calls, such as a final leaveRoom, before closing.
func (c *Client) drain(kind int) {
	for {
		select {
		case msg := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(kind, msg); err != nil {
				return
			}
		default:
			return
		}
	}
}
