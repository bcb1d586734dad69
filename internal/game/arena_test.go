package game

import (
	"math/rand"
	"testing"
	"time"

	"github.com/hersh/arena/internal/protocol"
	"github.com/hersh/arena/internal/reconcile"
)

type nopRemote struct {
	hits      []protocol.PlayerHitRequest
	attacks   []protocol.PlayerAttack
	collected []string
	respawns  []protocol.RespawnRequest
}

func (r *nopRemote) SetPlayerData(protocol.PlayerPatch) error             { return nil }
func (r *nopRemote) UpdatePlayerPosition(protocol.PlayerPatch) error      { return nil }
func (r *nopRemote) UpdatePlayerAnimation(protocol.AnimationRequest) error { return nil }
func (r *nopRemote) BroadcastHitSync(protocol.HitSync) error              { return nil }
func (r *nopRemote) LeaveRoom() error                                     { return nil }

func (r *nopRemote) PlayerAttack(atk protocol.PlayerAttack) error {
	r.attacks = append(r.attacks, atk)
	return nil
}

func (r *nopRemote) PlayerHit(req protocol.PlayerHitRequest) error {
	r.hits = append(r.hits, req)
	return nil
}

func (r *nopRemote) RespawnPlayer(req protocol.RespawnRequest) error {
	r.respawns = append(r.respawns, req)
	return nil
}

func (r *nopRemote) CollectPowerup(id string) error {
	r.collected = append(r.collected, id)
	return nil
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

const frame = 125 * time.Millisecond

// newTestArena joins a room with the given obstacles and places the local
// player at x,y.
func newTestArena(t *testing.T, x, y float64, obstacles ...protocol.Point) (*Arena, *reconcile.Engine, *nopRemote, *clock) {
	t.Helper()
	c := &clock{t: time.UnixMilli(1_000_000)}
	r := &nopRemote{}
	e := reconcile.NewEngine("me", "Me", r, reconcile.WithClock(c.now))
	e.Join("room", protocol.RoomState{Obstacles: obstacles})
	a := NewArena(e, rand.New(rand.NewSource(1)), c.now)
	a.build()
	if !a.built {
		t.Fatal("arena not built after join")
	}
	e.UpdateSelf(x, y, protocol.AnimIdle, false)
	return a, e, r, c
}

// addPlayers replaces the remote members with living players at the given
// positions.
func addPlayers(e *reconcile.Engine, at map[string]protocol.Point) {
	snap := protocol.RoomSnapshot{}
	for id, p := range at {
		snap.Players = append(snap.Players, protocol.PlayerState{
			AccountID: id, Name: id, X: p.X, Y: p.Y, Health: protocol.MaxHealth,
		})
	}
	e.ApplySnapshot(snap)
}

func TestMoveStopsAtObstacle(t *testing.T) {
	a, e, _, _ := newTestArena(t, 900, 1000, protocol.Point{X: 1000, Y: 1000})

	a.Step(Input{DX: 1}, time.Second)

	// Obstacle's left edge is at 970; a 30 wide avatar touches it at 955.
	if got := e.Self().X; got != 955 {
		t.Fatalf("x = %v, want 955", got)
	}
	if e.Self().Animation != protocol.AnimWalk {
		t.Errorf("animation = %s, want walk", e.Self().Animation)
	}
}

func TestMoveUsesSpeedAndFacing(t *testing.T) {
	a, e, _, _ := newTestArena(t, 1000, 1000)

	a.Step(Input{DX: -1}, frame)
	me := e.Self()
	if me.X != 1000-MoveSpeed*frame.Seconds() {
		t.Fatalf("x = %v", me.X)
	}
	if !me.FlipX {
		t.Error("moving left should face left")
	}

	a.Step(Input{}, frame)
	if e.Self().Animation != protocol.AnimIdle || !e.Self().FlipX {
		t.Errorf("idle keeps facing: %+v", e.Self())
	}
}

func TestMoveClampsToWorld(t *testing.T) {
	a, e, _, _ := newTestArena(t, 20, 20)

	a.Step(Input{DX: -1, DY: -1}, time.Second)

	me := e.Self()
	if me.X != PlayerSize/2 || me.Y != PlayerSize/2 {
		t.Fatalf("position = %v,%v, want the world corner", me.X, me.Y)
	}
}

func TestProjectileHitsRemotePlayer(t *testing.T) {
	a, e, r, c := newTestArena(t, 1000, 500)
	addPlayers(e, map[string]protocol.Point{"bob": {X: 1100, Y: 500}})

	a.Step(Input{Fire: true}, frame)
	if len(r.attacks) != 1 || r.attacks[0].Type != protocol.AttackProjectile || r.attacks[0].Direction != 1 {
		t.Fatalf("attacks = %+v", r.attacks)
	}
	for i := 0; i < 5 && len(r.hits) == 0; i++ {
		c.advance(frame)
		a.Step(Input{}, frame)
	}

	if len(r.hits) != 1 {
		t.Fatalf("hits = %+v, want 1", r.hits)
	}
	hit := r.hits[0]
	if hit.TargetID != "bob" || hit.Damage != ProjectileDamage || hit.ProjectileID != r.attacks[0].ID {
		t.Errorf("hit = %+v", hit)
	}
	if bob, _ := e.Player("bob"); bob.Health != protocol.MaxHealth-ProjectileDamage {
		t.Errorf("bob health = %d", bob.Health)
	}
	if n := len(a.Projectiles()); n != 0 {
		t.Errorf("%d projectiles left after the hit", n)
	}
}

func TestFireCooldown(t *testing.T) {
	a, _, r, c := newTestArena(t, 1000, 500)

	a.Step(Input{Fire: true}, frame)
	c.advance(AttackCooldown / 2)
	a.Step(Input{Fire: true}, frame)
	if len(r.attacks) != 1 {
		t.Fatalf("fired %d times inside the cooldown", len(r.attacks))
	}
	c.advance(AttackCooldown)
	a.Step(Input{Fire: true}, frame)
	if len(r.attacks) != 2 {
		t.Fatalf("attacks = %d after the cooldown, want 2", len(r.attacks))
	}
}

func TestProjectileStopsAtObstacle(t *testing.T) {
	a, e, r, c := newTestArena(t, 900, 1000, protocol.Point{X: 1000, Y: 1000})
	addPlayers(e, map[string]protocol.Point{"bob": {X: 1100, Y: 1000}})

	a.Step(Input{Fire: true}, frame)
	for i := 0; i < 10; i++ {
		c.advance(frame)
		a.Step(Input{}, frame)
	}
	if len(r.hits) != 0 {
		t.Fatalf("shot passed through an obstacle: %+v", r.hits)
	}
	if n := len(a.Projectiles()); n != 0 {
		t.Fatalf("%d projectiles left", n)
	}
}

func TestProjectileExpires(t *testing.T) {
	a, _, _, c := newTestArena(t, 1000, 100)

	a.Step(Input{Fire: true}, time.Millisecond)
	if len(a.Projectiles()) != 1 {
		t.Fatal("no projectile fired")
	}
	c.advance(ProjectileLife)
	a.Step(Input{}, time.Millisecond)
	if n := len(a.Projectiles()); n != 0 {
		t.Fatalf("%d projectiles outlived their lifetime", n)
	}
}

func TestRemoteProjectileNeverReportsHits(t *testing.T) {
	a, e, r, c := newTestArena(t, 100, 100)
	addPlayers(e, map[string]protocol.Point{
		"bob":   {X: 1000, Y: 500},
		"carol": {X: 1100, Y: 500},
	})

	e.HandleEvent(protocol.PlayerAttack{
		Type:      protocol.AttackProjectile,
		ID:        "bob_1",
		OwnerID:   "bob",
		X:         1000,
		Y:         500,
		Direction: 1,
	})
	a.Step(Input{}, frame)
	shots := a.Projectiles()
	if len(shots) != 1 || !shots[0].Remote {
		t.Fatalf("projectiles = %+v", shots)
	}
	for i := 0; i < 5; i++ {
		c.advance(frame)
		a.Step(Input{}, frame)
	}
	if len(r.hits) != 0 {
		t.Fatalf("remote projectile reported hits: %+v", r.hits)
	}
	if carol, _ := e.Player("carol"); carol.Health != protocol.MaxHealth {
		t.Errorf("carol health = %d", carol.Health)
	}
}

func TestHealthPowerup(t *testing.T) {
	a, e, r, _ := newTestArena(t, 500, 500)
	e.LocalDamage(50)
	e.ApplySnapshot(protocol.RoomSnapshot{Room: protocol.RoomState{
		Powerups: []protocol.Powerup{{ID: "p1", Kind: protocol.PowerupHealth, X: 510, Y: 500}},
	}})

	a.Step(Input{}, frame)

	if got := e.Self().Health; got != 50+HealAmount {
		t.Fatalf("health = %d, want %d", got, 50+HealAmount)
	}
	if len(r.collected) != 1 || r.collected[0] != "p1" {
		t.Fatalf("collected = %v", r.collected)
	}
	if len(e.Powerups()) != 0 {
		t.Error("collected powerup still visible")
	}
}

func TestSpeedPowerup(t *testing.T) {
	a, e, _, c := newTestArena(t, 500, 500)
	e.ApplySnapshot(protocol.RoomSnapshot{Room: protocol.RoomState{
		Powerups: []protocol.Powerup{{ID: "s1", Kind: protocol.PowerupSpeed, X: 500, Y: 500}},
	}})

	a.Step(Input{}, frame)
	if !a.Boosted() {
		t.Fatal("speed boost not active")
	}
	a.Step(Input{DX: 1}, frame)
	if got := e.Self().X; got != 500+BoostedSpeed*frame.Seconds() {
		t.Fatalf("boosted x = %v", got)
	}

	c.advance(SpeedBoost)
	if a.Boosted() {
		t.Fatal("boost outlived its duration")
	}
}

func TestDeadPlayerCannotActAndRespawns(t *testing.T) {
	a, e, r, _ := newTestArena(t, 500, 500)
	e.HandleEvent(protocol.PlayerDied{PlayerID: "me", KillerID: "bob"})
	if !e.Self().Dead {
		t.Fatal("self not dead")
	}

	a.Step(Input{DX: 1, Fire: true}, frame)
	if e.Self().X != 500 || len(r.attacks) != 0 {
		t.Fatalf("dead player acted: x=%v attacks=%d", e.Self().X, len(r.attacks))
	}

	if !a.Respawn() {
		t.Fatal("respawn refused")
	}
	me := e.Self()
	if me.Dead || me.Health != protocol.MaxHealth {
		t.Fatalf("after respawn: %+v", me)
	}
	if len(r.respawns) != 1 || r.respawns[0].X != me.X || r.respawns[0].Y != me.Y {
		t.Fatalf("respawns = %+v, self at %v,%v", r.respawns, me.X, me.Y)
	}
	if a.Respawn() {
		t.Error("respawned a living player")
	}
}

func TestSpawnPointAvoidsObstacles(t *testing.T) {
	var obstacles []protocol.Point
	for x := 150.0; x < protocol.WorldSize; x += 150 {
		for y := 150.0; y < protocol.WorldSize; y += 150 {
			obstacles = append(obstacles, protocol.Point{X: x, Y: y})
		}
	}
	a, _, _, _ := newTestArena(t, 0, 0, obstacles...)

	for i := 0; i < 50; i++ {
		x, y := a.SpawnPoint()
		for _, o := range obstacles {
			if abs(x-o.X) < (PlayerSize+ObstacleSize)/2 && abs(y-o.Y) < (PlayerSize+ObstacleSize)/2 {
				t.Fatalf("spawn %v,%v overlaps obstacle %v", x, y, o)
			}
		}
	}
}
