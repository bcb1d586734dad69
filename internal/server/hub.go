package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/hersh/arena/internal/protocol"
	"github.com/hersh/arena/internal/roomsvc"
)

const (
	DefaultTickInterval     = 100 * time.Millisecond
	DefaultSnapshotInterval = 100 * time.Millisecond
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub exposes a Handler over websockets. Each client gets an account id on
// connect, sends remote calls as envelopes and receives the broadcast
// events and periodic snapshots of the room it joined.
type Hub struct {
	svc     roomsvc.Service
	handler *Handler

	tickInterval     time.Duration
	snapshotInterval time.Duration

	mu    sync.RWMutex
	conns map[string]*conn
}

func NewHub(svc roomsvc.Service, handler *Handler, tick, snapshot time.Duration) *Hub {
	if tick <= 0 {
		tick = DefaultTickInterval
	}
	if snapshot <= 0 {
		snapshot = DefaultSnapshotInterval
	}
	return &Hub{
		svc:              svc,
		handler:          handler,
		tickInterval:     tick,
		snapshotInterval: snapshot,
		conns:            make(map[string]*conn),
	}
}

// Routes returns the http handler serving /ws, /health and /rooms.
func (h *Hub) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.serveWS)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/rooms", h.serveRooms)
	return mux
}

func (h *Hub) serveRooms(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := protocol.ListRoomsResponse{Rooms: []protocol.RoomInfo{}}
	for _, id := range h.svc.Rooms(ctx) {
		n, err := h.svc.CountMembers(ctx, id)
		if err != nil || n == 0 {
			continue
		}
		resp.Rooms = append(resp.Rooms, protocol.RoomInfo{
			RoomID:      id,
			PlayerCount: n,
			MaxPlayers:  h.handler.MaxMembers(),
		})
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request) {
	codec, err := protocol.CodecByName(r.URL.Query().Get("codec"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[hub] upgrade error: %v", err)
		return
	}

	c := newConn(uuid.NewString(), ws, codec)
	h.mu.Lock()
	h.conns[c.accountID] = c
	h.mu.Unlock()
	log.Printf("[hub] %s connected (%s)", c.accountID, codec.Name())

	c.send(protocol.MsgAssignID, protocol.AssignIDPayload{AccountID: c.accountID})
	go c.writePump()

	c.readPump(h.dispatch)

	h.disconnect(c)
}

func (h *Hub) disconnect(c *conn) {
	h.leave(context.Background(), c)
	h.mu.Lock()
	delete(h.conns, c.accountID)
	h.mu.Unlock()
	c.close()
	log.Printf("[hub] %s disconnected", c.accountID)
}

// leave drops the client's subscription and membership, if any.
func (h *Hub) leave(ctx context.Context, c *conn) {
	roomID := c.room()
	if unsubscribe := c.setRoom("", nil); unsubscribe != nil {
		unsubscribe()
	}
	if roomID == "" {
		return
	}
	res := h.handler.LeaveRoom(ctx, Sender{AccountID: c.accountID, RoomID: roomID})
	if !res.Success {
		log.Printf("[hub] leave of %s from %s did not complete", c.accountID, roomID)
	}
}

func (h *Hub) dispatch(c *conn, f protocol.Frame) {
	ctx := context.Background()

	if f.Type == protocol.CallJoinRoom {
		var req protocol.JoinRoomRequest
		if err := c.codec.DecodePayload(f, &req); err != nil {
			log.Printf("[hub] bad %s from %s: %v", f.Type, c.accountID, err)
			return
		}
		h.join(ctx, c, req)
		return
	}

	roomID := c.room()
	if roomID == "" {
		c.send(protocol.MsgRoomError, protocol.RoomErrorPayload{Message: fmt.Sprintf("%s: not in a room", f.Type)})
		return
	}
	s := Sender{AccountID: c.accountID, RoomID: roomID}
	if err := h.call(ctx, c, s, f); err != nil {
		log.Printf("[hub] %s from %s: %v", f.Type, c.accountID, err)
	}
}

func (h *Hub) join(ctx context.Context, c *conn, req protocol.JoinRoomRequest) {
	if c.room() != "" {
		h.leave(ctx, c)
	}

	roomID, err := h.handler.JoinRoom(ctx, c.accountID, req)
	if err != nil {
		log.Printf("[hub] join for %s failed: %v", c.accountID, err)
		c.send(protocol.MsgRoomError, protocol.RoomErrorPayload{Message: err.Error(), Full: IsRoomFull(err)})
		return
	}

	unsubscribe := h.svc.Subscribe(roomID, func(ev protocol.Event) {
		c.send(ev.Kind(), ev)
	})
	c.setRoom(roomID, unsubscribe)

	room, _, err := h.svc.RoomDoc(ctx, roomID)
	if err != nil {
		log.Printf("[hub] read room %s: %v", roomID, err)
	}
	c.send(protocol.MsgRoomJoined, protocol.RoomJoinedPayload{RoomID: roomID, Room: room})
	if snap, err := h.snapshot(ctx, roomID); err == nil {
		c.send(protocol.MsgRoomSnapshot, snap)
	}
}

// call decodes and runs one remote call made from inside a room.
func (h *Hub) call(ctx context.Context, c *conn, s Sender, f protocol.Frame) error {
	decode := func(v any) error {
		if err := c.codec.DecodePayload(f, v); err != nil {
			return fmt.Errorf("decode: %w", err)
		}
		return nil
	}

	switch f.Type {
	case protocol.CallLeaveRoom:
		h.leave(ctx, c)
		return nil

	case protocol.CallSetPlayerData, protocol.CallUpdatePlayerPosition:
		var patch protocol.PlayerPatch
		if err := decode(&patch); err != nil {
			return err
		}
		if f.Type == protocol.CallUpdatePlayerPosition {
			return h.handler.UpdatePlayerPosition(ctx, s, patch)
		}
		return h.handler.SetPlayerData(ctx, s, patch)

	case protocol.CallUpdatePlayerAnimation:
		var req protocol.AnimationRequest
		if err := decode(&req); err != nil {
			return err
		}
		return h.handler.UpdatePlayerAnimation(ctx, s, req)

	case protocol.CallPlayerAttack:
		var atk protocol.PlayerAttack
		if err := decode(&atk); err != nil {
			return err
		}
		return h.handler.PlayerAttack(ctx, s, atk)

	case protocol.CallPlayerHit:
		var req protocol.PlayerHitRequest
		if err := decode(&req); err != nil {
			return err
		}
		_, err := h.handler.ApplyHit(ctx, s, req)
		return err

	case protocol.CallBroadcastHitSync:
		var hs protocol.HitSync
		if err := decode(&hs); err != nil {
			return err
		}
		return h.handler.BroadcastHitSync(ctx, s, hs)

	case protocol.CallRespawnPlayer:
		var req protocol.RespawnRequest
		if err := decode(&req); err != nil {
			return err
		}
		_, err := h.handler.Respawn(ctx, s, req)
		return err

	case protocol.CallCollectPowerup:
		var req protocol.CollectPowerupRequest
		if err := decode(&req); err != nil {
			return err
		}
		return h.handler.CollectPowerup(ctx, s, req.ID)
	}
	return fmt.Errorf("%w: %s", protocol.ErrUnknownType, f.Type)
}

func (h *Hub) snapshot(ctx context.Context, roomID string) (protocol.RoomSnapshot, error) {
	room, _, err := h.svc.RoomDoc(ctx, roomID)
	if err != nil {
		return protocol.RoomSnapshot{}, err
	}
	players, err := h.svc.UserDocs(ctx, roomID)
	if err != nil {
		return protocol.RoomSnapshot{}, err
	}
	if players == nil {
		players = []protocol.PlayerState{}
	}
	return protocol.RoomSnapshot{Room: room, Players: players, TimestampMs: h.handler.nowMs()}, nil
}

// activeRooms lists rooms that currently have members.
func (h *Hub) activeRooms(ctx context.Context) []string {
	var out []string
	for _, id := range h.svc.Rooms(ctx) {
		if n, err := h.svc.CountMembers(ctx, id); err == nil && n > 0 {
			out = append(out, id)
		}
	}
	return out
}

func (h *Hub) tickRooms(ctx context.Context) {
	for _, id := range h.activeRooms(ctx) {
		if err := h.handler.Tick(ctx, id, h.tickInterval); err != nil {
			log.Printf("[hub] %v", err)
		}
	}
}

func (h *Hub) pushSnapshots(ctx context.Context) {
	h.mu.RLock()
	byRoom := make(map[string][]*conn)
	for _, c := range h.conns {
		if id := c.room(); id != "" {
			byRoom[id] = append(byRoom[id], c)
		}
	}
	h.mu.RUnlock()

	for id, conns := range byRoom {
		snap, err := h.snapshot(ctx, id)
		if err != nil {
			log.Printf("[hub] snapshot %s: %v", id, err)
			continue
		}
		for _, c := range conns {
			c.send(protocol.MsgRoomSnapshot, snap)
		}
	}
}

// Run drives the room ticks and snapshot pushes until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	tick := time.NewTicker(h.tickInterval)
	snap := time.NewTicker(h.snapshotInterval)
	defer tick.Stop()
	defer snap.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			h.tickRooms(ctx)
		case <-snap.C:
			h.pushSnapshots(ctx)
		}
	}
}

// Connections returns the number of connected clients.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}
