package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/hersh/arena/internal/protocol"
	"github.com/hersh/arena/internal/roomsvc"
)

const (
	MaxRoomMembers = 8
	DefaultRoomID  = "battle-arena"
)

// Sender identifies the caller of a remote call.
type Sender struct {
	AccountID string
	RoomID    string
}

// Handler is the authoritative side of the arena. Every method is a self
// contained unit of work against the room service; there is no state shared
// between calls other than the dedupe and announce bookkeeping below.
type Handler struct {
	svc   roomsvc.Service
	now   func() time.Time
	sched *Scheduler

	randMu sync.Mutex
	rng    *rand.Rand

	maxMembers     int
	obstacleCount  int
	defaultRoom    string
	reminderDelays []time.Duration

	mu           sync.Mutex
	lastAnnounce map[string]time.Time
	recentHits   map[string]map[string]time.Time
}

// Option configures a Handler.
type Option func(*Handler)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// WithRand sets the random source used for obstacles and powerups.
func WithRand(rng *rand.Rand) Option {
	return func(h *Handler) { h.rng = rng }
}

// WithReminderDelays overrides the respawn reminder schedule.
func WithReminderDelays(d ...time.Duration) Option {
	return func(h *Handler) { h.reminderDelays = d }
}

// WithDefaultRoom sets the room joined when no id is requested.
func WithDefaultRoom(id string) Option {
	return func(h *Handler) {
		if id != "" {
			h.defaultRoom = id
		}
	}
}

// WithMaxMembers overrides the room capacity.
func WithMaxMembers(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxMembers = n
		}
	}
}

// WithObstacleCount sets how many obstacles a new room is seeded with.
func WithObstacleCount(n int) Option {
	return func(h *Handler) {
		if n >= 0 {
			h.obstacleCount = n
		}
	}
}

func NewHandler(svc roomsvc.Service, opts ...Option) *Handler {
	h := &Handler{
		svc:            svc,
		now:            time.Now,
		rng:            rand.New(rand.NewSource(time.Now().UnixNano())),
		maxMembers:     MaxRoomMembers,
		obstacleCount:  DefaultObstacles,
		defaultRoom:    DefaultRoomID,
		reminderDelays: []time.Duration{500 * time.Millisecond, 1500 * time.Millisecond, 3000 * time.Millisecond},
		lastAnnounce:   make(map[string]time.Time),
		recentHits:     make(map[string]map[string]time.Time),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.sched = NewScheduler()
	return h
}

// Close cancels any respawn reminders still pending.
func (h *Handler) Close() {
	h.sched.Close()
}

// DefaultRoom returns the room id used for empty join requests.
func (h *Handler) DefaultRoom() string {
	return h.defaultRoom
}

// MaxMembers returns the room capacity.
func (h *Handler) MaxMembers() int {
	return h.maxMembers
}

func (h *Handler) nowMs() int64 {
	return h.now().UnixMilli()
}

func (h *Handler) withRand(fn func(rng *rand.Rand)) {
	h.randMu.Lock()
	defer h.randMu.Unlock()
	fn(h.rng)
}

// broadcast sends ev and logs a failure instead of returning it.
func (h *Handler) broadcast(ctx context.Context, roomID string, ev protocol.Event) {
	if err := h.svc.Broadcast(ctx, roomID, ev); err != nil {
		log.Printf("[handler] %v", &RemoteCallFailure{Op: "broadcast " + string(ev.Kind()), Err: err})
	}
}

// JoinRoom adds accountID to the requested room (or the default room),
// seeds the room document on first use and resets the caller's document.
func (h *Handler) JoinRoom(ctx context.Context, accountID string, req protocol.JoinRoomRequest) (string, error) {
	roomID := req.RoomID
	if roomID == "" {
		roomID = h.defaultRoom
	}

	members, err := h.svc.JoinLimited(ctx, roomID, accountID, h.maxMembers)
	if errors.Is(err, roomsvc.ErrRoomFull) {
		return "", &RoomFullError{RoomID: roomID, Members: members}
	}
	if err != nil {
		return "", fmt.Errorf("join %s: %w", roomID, err)
	}
	_, err = h.svc.MutateRoomDoc(ctx, roomID, func(doc *protocol.RoomState) bool {
		if len(doc.Obstacles) > 0 {
			return false
		}
		h.withRand(func(rng *rand.Rand) {
			doc.Obstacles = GenerateObstacles(rng, h.obstacleCount)
		})
		doc.Status = protocol.RoomStatusReady
		doc.Powerups = []protocol.Powerup{}
		doc.GameTimeMs = 0
		log.Printf("[handler] seeded room %s with %d obstacles", roomID, len(doc.Obstacles))
		return true
	})
	if err != nil {
		return "", fmt.Errorf("seed room %s: %w", roomID, err)
	}

	now := h.nowMs()
	_, err = h.svc.MutateUserDoc(ctx, roomID, accountID, func(doc *protocol.PlayerState, _ bool) bool {
		if req.Name != "" {
			doc.Name = req.Name
		}
		doc.Score = 0
		doc.Health = protocol.MaxHealth
		doc.IsDead = false
		doc.IsRespawned = false
		doc.IsDisconnected = false
		doc.ForceRemoveFromDeadPlayers = false
		doc.LastUpdateMs = now
		return true
	})
	if err != nil {
		return "", fmt.Errorf("init player %s: %w", accountID, err)
	}

	log.Printf("[handler] %s roomID %s (%d/%d)", accountID, roomID, members, h.maxMembers)
	return roomID, nil
}

// LeaveRoom marks the caller dead and disconnected, announces the death,
// then releases its membership. Failures are logged and reported, never
// returned.
func (h *Handler) LeaveRoom(ctx context.Context, s Sender) protocol.LeaveRoomResult {
	now := h.nowMs()
	var marked bool
	_, err := h.svc.MutateUserDoc(ctx, s.RoomID, s.AccountID, func(doc *protocol.PlayerState, exists bool) bool {
		if !exists {
			return false
		}
		marked = true
		doc.Health = 0
		doc.IsDead = true
		doc.IsDisconnected = true
		doc.LastUpdateMs = now
		return true
	})
	if err == nil && marked {
		// Leave drops the document, so the death is only visible if sent now.
		h.broadcast(ctx, s.RoomID, protocol.PlayerDied{PlayerID: s.AccountID})
	}
	if err == nil {
		err = h.svc.Leave(ctx, s.RoomID, s.AccountID)
	}
	if err != nil {
		log.Printf("[handler] %v", &RemoteCallFailure{Op: "leave " + s.RoomID + " for " + s.AccountID, Err: err})
		return protocol.LeaveRoomResult{Success: false}
	}

	if n, _ := h.svc.CountMembers(ctx, s.RoomID); n == 0 {
		h.forgetRoom(s.RoomID)
	}
	log.Printf("[handler] %s left %s", s.AccountID, s.RoomID)
	return protocol.LeaveRoomResult{Success: true}
}

func (h *Handler) forgetRoom(roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.lastAnnounce, roomID)
	delete(h.recentHits, roomID)
}

// SetPlayerData writes an owner patch to the caller's document. Fields the
// server owns (score, respawn and disconnect flags) are dropped, and a dead
// player cannot revive itself this way: only Respawn does that.
func (h *Handler) SetPlayerData(ctx context.Context, s Sender, patch protocol.PlayerPatch) error {
	patch.Score = nil
	patch.IsRespawned = nil
	patch.RespawnTimeMs = nil
	patch.IsDisconnected = nil
	patch.ForceRemoveFromDeadPlayers = nil
	patch.NormalizeDeath()
	patch.LastUpdateMs = protocol.Ptr(h.nowMs())

	_, err := h.svc.MutateUserDoc(ctx, s.RoomID, s.AccountID, func(doc *protocol.PlayerState, _ bool) bool {
		if doc.IsDead || doc.Health <= 0 {
			patch.Health = nil
			patch.IsDead = nil
		}
		patch.Apply(doc)
		return true
	})
	if err != nil {
		return fmt.Errorf("set player data for %s: %w", s.AccountID, err)
	}
	return nil
}

// UpdatePlayerPosition is the throttled movement flavour of SetPlayerData.
func (h *Handler) UpdatePlayerPosition(ctx context.Context, s Sender, patch protocol.PlayerPatch) error {
	return h.SetPlayerData(ctx, s, patch)
}

// UpdatePlayerAnimation broadcasts the caller's animation change.
func (h *Handler) UpdatePlayerAnimation(ctx context.Context, s Sender, req protocol.AnimationRequest) error {
	ev := protocol.PlayerAnimation{
		PlayerID:  s.AccountID,
		Animation: req.Animation,
		FlipX:     req.FlipX,
	}
	if err := ev.Validate(); err != nil {
		return err
	}
	return h.svc.Broadcast(ctx, s.RoomID, ev)
}

// PlayerAttack re-broadcasts an attack with the caller as owner.
func (h *Handler) PlayerAttack(ctx context.Context, s Sender, atk protocol.PlayerAttack) error {
	atk.OwnerID = s.AccountID
	if err := atk.Validate(); err != nil {
		return err
	}
	return h.svc.Broadcast(ctx, s.RoomID, atk)
}

// IsRoomFull reports whether err is a RoomFullError.
func IsRoomFull(err error) bool {
	var full *RoomFullError
	return errors.As(err, &full)
}
