package protocol

// Animation is the avatar animation clip a player is showing.
type Animation string

const (
	AnimIdle   Animation = "idle"
	AnimWalk   Animation = "walk"
	AnimAttack Animation = "attack"
)

// Valid reports whether a is one of the known clips.
func (a Animation) Valid() bool {
	switch a {
	case AnimIdle, AnimWalk, AnimAttack:
		return true
	}
	return false
}

// PowerupKind selects the effect of a powerup.
type PowerupKind string

const (
	PowerupHealth PowerupKind = "health"
	PowerupSpeed  PowerupKind = "speed"
)

const (
	MaxHealth = 100

	// WorldSize is the side of the square arena in world units.
	WorldSize = 2000

	// RoomStatusReady is written when a room is first seeded.
	RoomStatusReady = "READY"
)

// Point is a position in world units.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Powerup is a collectible lying in the arena.
type Powerup struct {
	ID   string      `json:"id"`
	Kind PowerupKind `json:"type"`
	X    float64     `json:"x"`
	Y    float64     `json:"y"`
}

// RoomState is the room-wide shared document.
type RoomState struct {
	Status     string    `json:"status,omitempty"`
	Obstacles  []Point   `json:"obstacles,omitempty"`
	Powerups   []Powerup `json:"powerups"`
	GameTimeMs int64     `json:"gameTime"`
}

// Clone returns a deep copy so callers never alias store memory.
func (r RoomState) Clone() RoomState {
	out := r
	if r.Obstacles != nil {
		out.Obstacles = append([]Point(nil), r.Obstacles...)
	}
	if r.Powerups != nil {
		out.Powerups = append([]Powerup(nil), r.Powerups...)
	}
	return out
}

// PlayerState is the per-member document. The owner writes it, but any
// attacker may write health and death fields of its target.
type PlayerState struct {
	AccountID      string    `json:"account"`
	Name           string    `json:"name,omitempty"`
	X              float64   `json:"x"`
	Y              float64   `json:"y"`
	Health         int       `json:"health"`
	IsDead         bool      `json:"isDead"`
	IsDisconnected bool      `json:"isDisconnected,omitempty"`
	IsRespawned    bool      `json:"isRespawned,omitempty"`
	RespawnTimeMs  int64     `json:"respawnTime,omitempty"`
	Animation      Animation `json:"animation,omitempty"`
	FlipX          bool      `json:"flipX"`
	Score          int       `json:"score"`
	LastUpdateMs   int64     `json:"lastUpdate,omitempty"`

	ForceRemoveFromDeadPlayers bool `json:"forceRemoveFromDeadPlayers,omitempty"`
}

// DefaultPlayerState is what a missing document reads as.
func DefaultPlayerState(accountID string) PlayerState {
	return PlayerState{
		AccountID: accountID,
		Health:    MaxHealth,
		Animation: AnimIdle,
	}
}

// PlayerPatch is a partial update of a PlayerState. Nil fields are left
// untouched.
type PlayerPatch struct {
	Name           *string    `json:"name,omitempty"`
	X              *float64   `json:"x,omitempty"`
	Y              *float64   `json:"y,omitempty"`
	Health         *int       `json:"health,omitempty"`
	IsDead         *bool      `json:"isDead,omitempty"`
	IsDisconnected *bool      `json:"isDisconnected,omitempty"`
	IsRespawned    *bool      `json:"isRespawned,omitempty"`
	RespawnTimeMs  *int64     `json:"respawnTime,omitempty"`
	Animation      *Animation `json:"animation,omitempty"`
	FlipX          *bool      `json:"flipX,omitempty"`
	Score          *int       `json:"score,omitempty"`
	LastUpdateMs   *int64     `json:"lastUpdate,omitempty"`

	ForceRemoveFromDeadPlayers *bool `json:"forceRemoveFromDeadPlayers,omitempty"`
}

// Apply writes the non-nil fields of p into s.
func (p PlayerPatch) Apply(s *PlayerState) {
	if p.Name != nil {
		s.Name = *p.Name
	}
	if p.X != nil {
		s.X = *p.X
	}
	if p.Y != nil {
		s.Y = *p.Y
	}
	if p.Health != nil {
		s.Health = *p.Health
	}
	if p.IsDead != nil {
		s.IsDead = *p.IsDead
	}
	if p.IsDisconnected != nil {
		s.IsDisconnected = *p.IsDisconnected
	}
	if p.IsRespawned != nil {
		s.IsRespawned = *p.IsRespawned
	}
	if p.RespawnTimeMs != nil {
		s.RespawnTimeMs = *p.RespawnTimeMs
	}
	if p.Animation != nil {
		s.Animation = *p.Animation
	}
	if p.FlipX != nil {
		s.FlipX = *p.FlipX
	}
	if p.Score != nil {
		s.Score = *p.Score
	}
	if p.LastUpdateMs != nil {
		s.LastUpdateMs = *p.LastUpdateMs
	}
	if p.ForceRemoveFromDeadPlayers != nil {
		s.ForceRemoveFromDeadPlayers = *p.ForceRemoveFromDeadPlayers
	}
}

// NormalizeDeath makes the patch keep health<=0 and isDead in agreement.
// Health wins when both are present and disagree.
func (p *PlayerPatch) NormalizeDeath() {
	if p.Health == nil {
		return
	}
	dead := *p.Health <= 0
	p.IsDead = &dead
}

// RoomPatch is a partial update of a RoomState.
type RoomPatch struct {
	Status     *string   `json:"status,omitempty"`
	Obstacles  []Point   `json:"obstacles,omitempty"`
	Powerups   []Powerup `json:"powerups,omitempty"`
	GameTimeMs *int64    `json:"gameTime,omitempty"`

	// ResetPowerups distinguishes "set to empty" from "leave alone".
	ResetPowerups bool `json:"-"`
}

// Apply writes the set fields of p into r.
func (p RoomPatch) Apply(r *RoomState) {
	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.Obstacles != nil {
		r.Obstacles = append([]Point(nil), p.Obstacles...)
	}
	if p.Powerups != nil || p.ResetPowerups {
		r.Powerups = append([]Powerup{}, p.Powerups...)
	}
	if p.GameTimeMs != nil {
		r.GameTimeMs = *p.GameTimeMs
	}
}

// Ptr returns a pointer to v; handy for building patches.
func Ptr[T any](v T) *T {
	return &v
}
