package reconcile

import "github.com/hersh/arena/internal/protocol"

// Player is the reconciled view of one room member.
type Player struct {
	ID            string
	Name          string
	X, Y          float64
	Health        int
	Dead          bool
	Disconnected  bool
	Animation     protocol.Animation
	FlipX         bool
	Score         int
	Color         int
	RespawnTimeMs int64
	Self          bool
}

// damageRecord is the last health this client predicted for a remote
// player and when.
type damageRecord struct {
	health int
	at     int64
}

// Session is everything a client tracks while it is in a room. It is
// created on join and dropped on leave; nothing outlives it.
type Session struct {
	RoomID string

	players map[string]*Player
	records map[string]damageRecord
	// dead maps an account to the respawn time known when it died. Only a
	// respawn newer than that revives it through the isRespawned path.
	dead   map[string]int64
	colors *colorPool

	obstacles []protocol.Point
	powerups  []protocol.Powerup
	collected map[string]bool

	// localRespawnAt is when the local player last respawned, in local ms.
	localRespawnAt int64
	gameTimeMs     int64
}

func newSession(roomID, selfID, selfName string, room protocol.RoomState) *Session {
	s := &Session{
		RoomID:    roomID,
		players:   make(map[string]*Player),
		records:   make(map[string]damageRecord),
		dead:      make(map[string]int64),
		colors:    newColorPool(),
		collected: make(map[string]bool),
	}
	s.players[selfID] = &Player{
		ID:        selfID,
		Name:      selfName,
		Health:    protocol.MaxHealth,
		Animation: protocol.AnimIdle,
		Color:     SelfColor,
		Self:      true,
	}
	s.applyRoom(room)
	return s
}

// applyRoom takes obstacles once and mirrors the powerup list, hiding
// the ones collected locally that the room has not dropped yet.
func (s *Session) applyRoom(room protocol.RoomState) {
	if len(s.obstacles) == 0 && len(room.Obstacles) > 0 {
		s.obstacles = append([]protocol.Point(nil), room.Obstacles...)
	}
	s.gameTimeMs = room.GameTimeMs

	live := make(map[string]bool, len(room.Powerups))
	s.powerups = s.powerups[:0]
	for _, p := range room.Powerups {
		live[p.ID] = true
		if !s.collected[p.ID] {
			s.powerups = append(s.powerups, p)
		}
	}
	for id := range s.collected {
		if !live[id] {
			delete(s.collected, id)
		}
	}
}

func (s *Session) addPowerup(p protocol.Powerup) {
	if s.collected[p.ID] {
		return
	}
	for _, q := range s.powerups {
		if q.ID == p.ID {
			return
		}
	}
	s.powerups = append(s.powerups, p)
}

// takePowerup hides a powerup locally and reports what it was.
func (s *Session) takePowerup(id string) (protocol.Powerup, bool) {
	for i, p := range s.powerups {
		if p.ID == id {
			s.powerups = append(s.powerups[:i], s.powerups[i+1:]...)
			s.collected[id] = true
			return p, true
		}
	}
	return protocol.Powerup{}, false
}

func (s *Session) isDead(id string) bool {
	_, ok := s.dead[id]
	return ok
}

func (s *Session) markDead(p *Player) {
	if _, ok := s.dead[p.ID]; !ok {
		s.dead[p.ID] = p.RespawnTimeMs
	}
	p.Dead = true
	p.Health = 0
}

func (s *Session) revive(p *Player, health int) {
	delete(s.dead, p.ID)
	delete(s.records, p.ID)
	if health <= 0 {
		health = protocol.MaxHealth
	}
	p.Dead = false
	p.Health = health
}

// forget drops every trace of a departed member.
func (s *Session) forget(id string) {
	delete(s.players, id)
	delete(s.records, id)
	delete(s.dead, id)
	s.colors.release(id)
}
