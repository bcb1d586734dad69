package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrMissingField = errors.New("missing required field")
	ErrUnknownType  = errors.New("unknown message type")
)

func missing(kind MessageType, field string) error {
	return fmt.Errorf("%s: %w %q", kind, ErrMissingField, field)
}

// Event is one member of the closed set of room broadcast messages.
type Event interface {
	Kind() MessageType
	Validate() error
}

// PlayerAnimation announces an animation change.
type PlayerAnimation struct {
	PlayerID    string    `json:"playerId"`
	Animation   Animation `json:"animation"`
	FlipX       bool      `json:"flipX"`
	ForceRemove bool      `json:"forceRemoveFromDeadPlayers,omitempty"`
}

func (PlayerAnimation) Kind() MessageType { return MsgPlayerAnimation }

func (e PlayerAnimation) Validate() error {
	if e.PlayerID == "" {
		return missing(e.Kind(), "playerId")
	}
	if !e.Animation.Valid() {
		return fmt.Errorf("%s: invalid animation %q", e.Kind(), e.Animation)
	}
	return nil
}

// PlayerAttack announces a melee swing or a fired projectile.
type PlayerAttack struct {
	Type        string  `json:"type,omitempty"` // "projectile" or empty for melee
	ID          string  `json:"id,omitempty"`
	OwnerID     string  `json:"ownerId"`
	OwnerName   string  `json:"ownerName,omitempty"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	TargetX     float64 `json:"targetX,omitempty"`
	TargetY     float64 `json:"targetY,omitempty"`
	Direction   int     `json:"direction"`
	ForceRemove bool    `json:"forceRemoveFromDeadPlayers,omitempty"`
}

// AttackProjectile marks a PlayerAttack that spawns a projectile.
const AttackProjectile = "projectile"

func (PlayerAttack) Kind() MessageType { return MsgPlayerAttack }

func (e PlayerAttack) Validate() error {
	if e.OwnerID == "" {
		return missing(e.Kind(), "ownerId")
	}
	if e.Type == AttackProjectile && e.ID == "" {
		return missing(e.Kind(), "id")
	}
	return nil
}

// HitSync carries the absolute health of a target after a hit. Receivers
// apply NewHealth, never Damage, so duplicate deliveries are harmless.
type HitSync struct {
	TargetID    string `json:"targetId"`
	AttackerID  string `json:"attackerId"`
	Damage      int    `json:"damage"`
	NewHealth   int    `json:"newHealth"`
	TimestampMs int64  `json:"timestamp"`
	IsDead      bool   `json:"isDead"`
	ForceRemove bool   `json:"forceRemoveFromDeadPlayers,omitempty"`
}

func (HitSync) Kind() MessageType { return MsgPlayerHitSync }

func (e HitSync) Validate() error {
	if e.TargetID == "" {
		return missing(e.Kind(), "targetId")
	}
	if e.NewHealth < 0 || e.NewHealth > MaxHealth {
		return fmt.Errorf("%s: newHealth %d out of range", e.Kind(), e.NewHealth)
	}
	return nil
}

// Dead reports whether the sync describes a dead target.
func (e HitSync) Dead() bool {
	return e.IsDead || e.NewHealth <= 0
}

// PlayerDied announces a death. KillerID is empty for environmental deaths.
type PlayerDied struct {
	PlayerID string `json:"playerId"`
	KillerID string `json:"killerId,omitempty"`
}

func (PlayerDied) Kind() MessageType { return MsgPlayerDied }

func (e PlayerDied) Validate() error {
	if e.PlayerID == "" {
		return missing(e.Kind(), "playerId")
	}
	return nil
}

// PlayerRespawned carries the full fresh document of a respawned player.
type PlayerRespawned struct {
	PlayerID string `json:"playerId"`
	PlayerState
}

func (PlayerRespawned) Kind() MessageType { return MsgPlayerRespawned }

func (e PlayerRespawned) Validate() error {
	if e.PlayerID == "" {
		return missing(e.Kind(), "playerId")
	}
	return nil
}

// RespawnReminder re-announces a respawn; Sequence is 1, 2 or 3.
type RespawnReminder struct {
	PlayerID    string      `json:"playerId"`
	PlayerState PlayerState `json:"playerState"`
	Sequence    int         `json:"sequence"`
	ForceRemove bool        `json:"forceRemoveFromDeadPlayers"`
	TimestampMs int64       `json:"timestamp"`
}

func (RespawnReminder) Kind() MessageType { return MsgPlayerRespawnReminder }

func (e RespawnReminder) Validate() error {
	if e.PlayerID == "" {
		return missing(e.Kind(), "playerId")
	}
	if e.Sequence < 1 || e.Sequence > 3 {
		return fmt.Errorf("%s: sequence %d out of range", e.Kind(), e.Sequence)
	}
	return nil
}

// ForceStateUpdate is a full snapshot used to repair clients that missed
// events.
type ForceStateUpdate struct {
	States            []PlayerState `json:"states"`
	RespawnedPlayerID string        `json:"respawnedPlayerId,omitempty"`
	ForceRemove       bool          `json:"forceRemoveFromDeadPlayers"`
	TimestampMs       int64         `json:"timestamp"`
}

func (ForceStateUpdate) Kind() MessageType { return MsgForceStateUpdate }

func (e ForceStateUpdate) Validate() error {
	if e.States == nil {
		return missing(e.Kind(), "states")
	}
	return nil
}

// RespawnedPlayer is one entry of a RespawnedPlayersBatch.
type RespawnedPlayer struct {
	PlayerID      string    `json:"playerId"`
	Name          string    `json:"name,omitempty"`
	X             float64   `json:"x"`
	Y             float64   `json:"y"`
	Health        int       `json:"health"`
	Animation     Animation `json:"animation"`
	FlipX         bool      `json:"flipX"`
	RespawnTimeMs int64     `json:"respawnTime"`
	Score         int       `json:"score"`
	ForceRemove   bool      `json:"forceRemoveFromDeadPlayers"`
	TimestampMs   int64     `json:"timestamp"`
}

// RespawnedPlayersBatch periodically re-announces recently respawned players.
type RespawnedPlayersBatch struct {
	Players     []RespawnedPlayer `json:"players"`
	TimestampMs int64             `json:"timestamp"`
}

func (RespawnedPlayersBatch) Kind() MessageType { return MsgRespawnedPlayersBatch }

func (e RespawnedPlayersBatch) Validate() error {
	for i, p := range e.Players {
		if p.PlayerID == "" {
			return missing(e.Kind(), fmt.Sprintf("players[%d].playerId", i))
		}
	}
	return nil
}

// PowerupSpawned announces a new powerup.
type PowerupSpawned struct {
	Powerup
}

func (PowerupSpawned) Kind() MessageType { return MsgPowerupSpawned }

func (e PowerupSpawned) Validate() error {
	if e.ID == "" {
		return missing(e.Kind(), "id")
	}
	if e.Powerup.Kind != PowerupHealth && e.Powerup.Kind != PowerupSpeed {
		return fmt.Errorf("%s: invalid powerup type %q", e.Kind(), e.Powerup.Kind)
	}
	return nil
}

// IsEvent reports whether t names a broadcast event.
func IsEvent(t MessageType) bool {
	_, ok := newEvent(t)
	return ok
}

func newEvent(t MessageType) (Event, bool) {
	switch t {
	case MsgPlayerAnimation:
		return &PlayerAnimation{}, true
	case MsgPlayerAttack:
		return &PlayerAttack{}, true
	case MsgPlayerHitSync:
		return &HitSync{}, true
	case MsgPlayerDied:
		return &PlayerDied{}, true
	case MsgPlayerRespawned:
		return &PlayerRespawned{}, true
	case MsgPlayerRespawnReminder:
		return &RespawnReminder{}, true
	case MsgForceStateUpdate:
		return &ForceStateUpdate{}, true
	case MsgRespawnedPlayersBatch:
		return &RespawnedPlayersBatch{}, true
	case MsgPowerupSpawned:
		return &PowerupSpawned{}, true
	}
	return nil, false
}

// DecodeEvent turns a frame into a validated Event value.
func DecodeEvent(c Codec, f Frame) (Event, error) {
	ptr, ok := newEvent(f.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, f.Type)
	}
	if err := c.DecodePayload(f, ptr); err != nil {
		return nil, fmt.Errorf("decode %s: %w", f.Type, err)
	}
	ev := deref(ptr)
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return ev, nil
}

// deref hands out values so receivers never share decoder memory.
func deref(e Event) Event {
	switch v := e.(type) {
	case *PlayerAnimation:
		return *v
	case *PlayerAttack:
		return *v
	case *HitSync:
		return *v
	case *PlayerDied:
		return *v
	case *PlayerRespawned:
		return *v
	case *RespawnReminder:
		return *v
	case *ForceStateUpdate:
		return *v
	case *RespawnedPlayersBatch:
		return *v
	case *PowerupSpawned:
		return *v
	}
	return e
}
