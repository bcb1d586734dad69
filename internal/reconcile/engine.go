// Package reconcile merges locally predicted combat with the room's
// broadcasts and snapshots into one consistent view per client.
//
// The engine is single threaded: every method must be called from the same
// goroutine (the UI loop).
package reconcile

import (
	"log"
	"sort"
	"time"

	"github.com/hersh/arena/internal/protocol"
)

// ArbitrationWindow is how long a local damage prediction outranks older
// server values for the same player.
const ArbitrationWindow = 2 * time.Second

// Remote is the set of remote calls the engine makes. Calls are fire and
// forget: a returned error is logged and local state is never rolled back.
type Remote interface {
	SetPlayerData(patch protocol.PlayerPatch) error
	UpdatePlayerPosition(patch protocol.PlayerPatch) error
	UpdatePlayerAnimation(req protocol.AnimationRequest) error
	PlayerAttack(atk protocol.PlayerAttack) error
	PlayerHit(req protocol.PlayerHitRequest) error
	BroadcastHitSync(hs protocol.HitSync) error
	RespawnPlayer(req protocol.RespawnRequest) error
	CollectPowerup(id string) error
	LeaveRoom() error
}

type Option func(*Engine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

type Engine struct {
	selfID   string
	selfName string
	remote   Remote
	now      func() time.Time

	sess    *Session
	attacks []protocol.PlayerAttack
	dirty   bool
}

func NewEngine(selfID, selfName string, remote Remote, opts ...Option) *Engine {
	e := &Engine{
		selfID:   selfID,
		selfName: selfName,
		remote:   remote,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) nowMs() int64 {
	return e.now().UnixMilli()
}

func (e *Engine) logErr(op string, err error) {
	if err != nil {
		log.Printf("[reconcile] %s failed: %v", op, err)
	}
}

// Join starts a fresh session for roomID.
func (e *Engine) Join(roomID string, room protocol.RoomState) {
	e.sess = newSession(roomID, e.selfID, e.selfName, room)
	e.attacks = nil
	log.Printf("[reconcile] joined %s", roomID)
}

// Joined reports whether a session is active.
func (e *Engine) Joined() bool {
	return e.sess != nil
}

// RoomID returns the current room, or "".
func (e *Engine) RoomID() string {
	if e.sess == nil {
		return ""
	}
	return e.sess.RoomID
}

// Close leaves the room and drops the session.
func (e *Engine) Close() {
	if e.sess == nil {
		return
	}
	e.logErr("leaveRoom", e.remote.LeaveRoom())
	e.sess = nil
	e.attacks = nil
}

// Self returns the local player.
func (e *Engine) Self() Player {
	if e.sess == nil {
		return Player{ID: e.selfID, Name: e.selfName, Health: protocol.MaxHealth, Self: true}
	}
	return *e.sess.players[e.selfID]
}

func (e *Engine) self() *Player {
	return e.sess.players[e.selfID]
}

// Player returns the view of id.
func (e *Engine) Player(id string) (Player, bool) {
	if e.sess == nil {
		return Player{}, false
	}
	p, ok := e.sess.players[id]
	if !ok {
		return Player{}, false
	}
	return *p, true
}

// Players returns every tracked player, local one included, by id.
func (e *Engine) Players() []Player {
	if e.sess == nil {
		return nil
	}
	out := make([]Player, 0, len(e.sess.players))
	for _, p := range e.sess.players {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IsDead reports whether id is rendered dead.
func (e *Engine) IsDead(id string) bool {
	return e.sess != nil && e.sess.isDead(id)
}

func (e *Engine) Obstacles() []protocol.Point {
	if e.sess == nil {
		return nil
	}
	return e.sess.obstacles
}

func (e *Engine) Powerups() []protocol.Powerup {
	if e.sess == nil {
		return nil
	}
	return append([]protocol.Powerup(nil), e.sess.powerups...)
}

// GameTime is the room clock from the last snapshot.
func (e *Engine) GameTime() time.Duration {
	if e.sess == nil {
		return 0
	}
	return time.Duration(e.sess.gameTimeMs) * time.Millisecond
}

// TakeAttacks returns and clears the attacks announced by other players.
func (e *Engine) TakeAttacks() []protocol.PlayerAttack {
	out := e.attacks
	e.attacks = nil
	return out
}

// LocalHit applies a hit the local player landed on targetID before the
// server confirms it, then reports it both to the handler and straight to
// the room. It returns the predicted health and false when the hit was
// ignored (unknown, local or already dead target).
func (e *Engine) LocalHit(targetID string, damage int, projectileID string) (int, bool) {
	if e.sess == nil || targetID == e.selfID || e.self().Dead {
		return 0, false
	}
	p, ok := e.sess.players[targetID]
	if !ok || e.sess.isDead(targetID) {
		return 0, false
	}

	now := e.nowMs()
	health := p.Health - damage
	if health < 0 {
		health = 0
	}
	p.Health = health
	e.sess.records[targetID] = damageRecord{health: health, at: now}
	if health <= 0 {
		e.sess.markDead(p)
	}

	e.logErr("playerHit", e.remote.PlayerHit(protocol.PlayerHitRequest{
		TargetID:     targetID,
		AttackerID:   e.selfID,
		Damage:       damage,
		TimestampMs:  now,
		ProjectileID: projectileID,
	}))
	e.logErr("broadcastHitSync", e.remote.BroadcastHitSync(protocol.HitSync{
		TargetID:    targetID,
		AttackerID:  e.selfID,
		Damage:      damage,
		NewHealth:   health,
		TimestampMs: now,
		IsDead:      health <= 0,
	}))
	return health, true
}

// LocalDamage hurts the local player without an attacker, for instance
// from the environment. No kill is credited.
func (e *Engine) LocalDamage(damage int) {
	if e.sess == nil {
		return
	}
	me := e.self()
	if me.Dead {
		return
	}
	me.Health -= damage
	if me.Health <= 0 {
		e.sess.markDead(me)
	}
	e.logErr("setPlayerData", e.remote.SetPlayerData(protocol.PlayerPatch{Health: protocol.Ptr(me.Health)}))
}

// Heal restores up to amount health to a living local player.
func (e *Engine) Heal(amount int) {
	if e.sess == nil {
		return
	}
	me := e.self()
	if me.Dead {
		return
	}
	me.Health += amount
	if me.Health > protocol.MaxHealth {
		me.Health = protocol.MaxHealth
	}
	e.logErr("setPlayerData", e.remote.SetPlayerData(protocol.PlayerPatch{Health: protocol.Ptr(me.Health)}))
}

// LocalRespawn revives a dead local player at x,y and asks the server to
// do the same. It reports false when the local player is alive.
func (e *Engine) LocalRespawn(x, y float64) bool {
	if e.sess == nil {
		return false
	}
	me := e.self()
	if !me.Dead {
		return false
	}
	now := e.nowMs()
	e.sess.revive(me, protocol.MaxHealth)
	e.sess.localRespawnAt = now
	me.X, me.Y = x, y
	me.Animation = protocol.AnimIdle
	me.RespawnTimeMs = now
	e.logErr("respawnPlayer", e.remote.RespawnPlayer(protocol.RespawnRequest{X: x, Y: y}))
	return true
}

// UpdateSelf records the local avatar. Animation changes go out at once;
// position waits for FlushPosition.
func (e *Engine) UpdateSelf(x, y float64, anim protocol.Animation, flipX bool) {
	if e.sess == nil {
		return
	}
	me := e.self()
	if me.X != x || me.Y != y || me.FlipX != flipX {
		e.dirty = true
	}
	me.X, me.Y = x, y
	if me.Animation != anim || me.FlipX != flipX {
		me.Animation, me.FlipX = anim, flipX
		e.dirty = true
		e.logErr("updatePlayerAnimation", e.remote.UpdatePlayerAnimation(protocol.AnimationRequest{Animation: anim, FlipX: flipX}))
	}
}

// FlushPosition pushes the local position if it changed since the last
// flush. Callers run it on a fixed period.
func (e *Engine) FlushPosition() {
	if e.sess == nil || !e.dirty {
		return
	}
	e.dirty = false
	me := e.self()
	e.logErr("updatePlayerPosition", e.remote.UpdatePlayerPosition(protocol.PlayerPatch{
		X:         protocol.Ptr(me.X),
		Y:         protocol.Ptr(me.Y),
		Animation: protocol.Ptr(me.Animation),
		FlipX:     protocol.Ptr(me.FlipX),
	}))
}

// Attack announces a local attack to the room.
func (e *Engine) Attack(atk protocol.PlayerAttack) {
	if e.sess == nil || e.self().Dead {
		return
	}
	atk.OwnerID = e.selfID
	atk.OwnerName = e.selfName
	e.logErr("playerAttack", e.remote.PlayerAttack(atk))
}

// CollectPowerup hides the powerup at once and tells the room. The caller
// applies the effect.
func (e *Engine) CollectPowerup(id string) (protocol.Powerup, bool) {
	if e.sess == nil || e.self().Dead {
		return protocol.Powerup{}, false
	}
	p, ok := e.sess.takePowerup(id)
	if !ok {
		return protocol.Powerup{}, false
	}
	e.logErr("collectPowerup", e.remote.CollectPowerup(id))
	return p, true
}
