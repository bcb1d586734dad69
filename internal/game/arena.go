// Package game simulates the local avatar and projectiles on top of a
// reconcile.Engine. Collision uses a resolv space: obstacles block movement
// and projectiles, and only projectiles fired by this client look for hits.
package game

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/hersh/arena/internal/protocol"
	"github.com/hersh/arena/internal/reconcile"
	"github.com/solarlune/resolv"
)

const (
	PlayerSize     = 30
	ObstacleSize   = 60
	ProjectileSize = 8
	PickupRadius   = 30

	MoveSpeed        = 200.0
	BoostedSpeed     = 300.0
	SpeedBoost       = 5 * time.Second
	HealAmount       = 25
	ProjectileSpeed  = 500.0
	ProjectileLife   = 2 * time.Second
	ProjectileDamage = 10
	AttackCooldown   = 500 * time.Millisecond

	cellSize = 16
)

const (
	tagSolid  = "solid"
	tagPlayer = "player"
	tagSelf   = "self"
)

// Input is one frame of player intent.
type Input struct {
	DX, DY int
	Fire   bool
}

// Projectile is a shot in flight. Remote projectiles are drawn but never
// checked for hits.
type Projectile struct {
	ID     string
	X, Y   float64
	VX     float64
	Remote bool

	born time.Time
	obj  *resolv.Object
}

type Arena struct {
	engine *reconcile.Engine
	now    func() time.Time
	rng    *rand.Rand

	space     *resolv.Space
	self      *resolv.Object
	others    map[string]*resolv.Object
	built     bool
	shots     []*Projectile
	lastShot  time.Time
	boostEnds time.Time
	seq       int
}

// NewArena creates an arena driven by engine. now may be nil for time.Now.
func NewArena(engine *reconcile.Engine, rng *rand.Rand, now func() time.Time) *Arena {
	if now == nil {
		now = time.Now
	}
	return &Arena{
		engine: engine,
		now:    now,
		rng:    rng,
		others: make(map[string]*resolv.Object),
	}
}

// Reset drops the collision world, for instance after joining another room.
func (a *Arena) Reset() {
	a.space = nil
	a.self = nil
	a.others = make(map[string]*resolv.Object)
	a.built = false
	a.shots = nil
	a.boostEnds = time.Time{}
}

// build creates the space once the room's obstacles are known and drops
// the local avatar on a free spawn point.
func (a *Arena) build() {
	if a.built || !a.engine.Joined() {
		return
	}
	a.space = resolv.NewSpace(protocol.WorldSize, protocol.WorldSize, cellSize, cellSize)
	for _, o := range a.engine.Obstacles() {
		obj := resolv.NewObject(o.X-ObstacleSize/2, o.Y-ObstacleSize/2, ObstacleSize, ObstacleSize, tagSolid)
		a.space.Add(obj)
	}
	x, y := a.SpawnPoint()
	a.self = resolv.NewObject(x-PlayerSize/2, y-PlayerSize/2, PlayerSize, PlayerSize, tagSelf)
	a.space.Add(a.self)
	a.built = true
	a.engine.UpdateSelf(x, y, protocol.AnimIdle, false)
}

// SpawnPoint picks a random point inside the world margin that does not
// overlap an obstacle.
func (a *Arena) SpawnPoint() (float64, float64) {
	const margin = 100
	span := protocol.WorldSize - 2*margin
	var x, y float64
	for attempt := 0; attempt < 20; attempt++ {
		x = float64(a.rng.Intn(span) + margin)
		y = float64(a.rng.Intn(span) + margin)
		if a.space == nil {
			break
		}
		probe := resolv.NewObject(x-PlayerSize/2, y-PlayerSize/2, PlayerSize, PlayerSize)
		a.space.Add(probe)
		blocked := len(overlapping(probe, 0, 0, probe.Check(0, 0, tagSolid), tagSolid)) > 0
		a.space.Remove(probe)
		if !blocked {
			break
		}
	}
	return x, y
}

// Boosted reports whether the speed powerup is active.
func (a *Arena) Boosted() bool {
	return a.now().Before(a.boostEnds)
}

// Projectiles returns the shots in flight.
func (a *Arena) Projectiles() []Projectile {
	out := make([]Projectile, len(a.shots))
	for i, p := range a.shots {
		out[i] = *p
	}
	return out
}

// Respawn revives the local player at a fresh spawn point.
func (a *Arena) Respawn() bool {
	if !a.built {
		return false
	}
	x, y := a.SpawnPoint()
	if !a.engine.LocalRespawn(x, y) {
		return false
	}
	a.place(x, y)
	a.boostEnds = time.Time{}
	return true
}

func (a *Arena) place(x, y float64) {
	a.self.X, a.self.Y = x-PlayerSize/2, y-PlayerSize/2
	a.self.Update()
}

// Step advances the simulation by dt with the given input.
func (a *Arena) Step(in Input, dt time.Duration) {
	a.build()
	if !a.built {
		return
	}
	a.syncOthers()
	for _, atk := range a.engine.TakeAttacks() {
		if atk.Type == protocol.AttackProjectile {
			a.spawn(atk.ID, atk.X, atk.Y, atk.Direction, true)
		}
	}

	me := a.engine.Self()
	if !me.Dead {
		a.move(me, in, dt)
		a.pickup()
		if in.Fire {
			a.fire()
		}
	}
	a.advance(dt)
}

// syncOthers mirrors living remote players into the space.
func (a *Arena) syncOthers() {
	live := make(map[string]bool)
	for _, p := range a.engine.Players() {
		if p.Self || p.Dead || p.Disconnected {
			continue
		}
		live[p.ID] = true
		obj, ok := a.others[p.ID]
		if !ok {
			obj = resolv.NewObject(0, 0, PlayerSize, PlayerSize, tagPlayer)
			obj.Data = p.ID
			a.space.Add(obj)
			a.others[p.ID] = obj
		}
		obj.X, obj.Y = p.X-PlayerSize/2, p.Y-PlayerSize/2
		obj.Update()
	}
	for id, obj := range a.others {
		if !live[id] {
			a.space.Remove(obj)
			delete(a.others, id)
		}
	}
}

func (a *Arena) move(me reconcile.Player, in Input, dt time.Duration) {
	speed := MoveSpeed
	if a.Boosted() {
		speed = BoostedSpeed
	}
	secs := dt.Seconds()
	a.place(me.X, me.Y)

	if dx := float64(in.DX) * speed * secs; dx != 0 {
		a.slide(clamp(a.self.X+dx, 0, protocol.WorldSize-PlayerSize)-a.self.X, 0)
	}
	if dy := float64(in.DY) * speed * secs; dy != 0 {
		a.slide(0, clamp(a.self.Y+dy, 0, protocol.WorldSize-PlayerSize)-a.self.Y)
	}

	flip := me.FlipX
	switch {
	case in.DX < 0:
		flip = true
	case in.DX > 0:
		flip = false
	}
	anim := protocol.AnimIdle
	if in.DX != 0 || in.DY != 0 {
		anim = protocol.AnimWalk
	}
	a.engine.UpdateSelf(a.self.X+PlayerSize/2, a.self.Y+PlayerSize/2, anim, flip)
}

func (a *Arena) pickup() {
	me := a.engine.Self()
	for _, pu := range a.engine.Powerups() {
		if abs(pu.X-me.X) > PickupRadius || abs(pu.Y-me.Y) > PickupRadius {
			continue
		}
		got, ok := a.engine.CollectPowerup(pu.ID)
		if !ok {
			continue
		}
		switch got.Kind {
		case protocol.PowerupHealth:
			a.engine.Heal(HealAmount)
		case protocol.PowerupSpeed:
			a.boostEnds = a.now().Add(SpeedBoost)
		}
	}
}

func (a *Arena) fire() {
	now := a.now()
	if !a.lastShot.IsZero() && now.Sub(a.lastShot) < AttackCooldown {
		return
	}
	a.lastShot = now
	me := a.engine.Self()
	dir := 1
	if me.FlipX {
		dir = -1
	}
	a.seq++
	id := fmt.Sprintf("%s_%d_%d", me.ID, now.UnixMilli(), a.seq)
	a.spawn(id, me.X, me.Y, dir, false)
	a.engine.UpdateSelf(me.X, me.Y, protocol.AnimAttack, me.FlipX)
	a.engine.Attack(protocol.PlayerAttack{
		Type:      protocol.AttackProjectile,
		ID:        id,
		X:         me.X,
		Y:         me.Y,
		Direction: dir,
	})
}

func (a *Arena) spawn(id string, x, y float64, dir int, remote bool) {
	if dir == 0 {
		dir = 1
	}
	obj := resolv.NewObject(x-ProjectileSize/2, y-ProjectileSize/2, ProjectileSize, ProjectileSize)
	a.space.Add(obj)
	a.shots = append(a.shots, &Projectile{
		ID:     id,
		X:      x,
		Y:      y,
		VX:     float64(dir) * ProjectileSpeed,
		Remote: remote,
		born:   a.now(),
		obj:    obj,
	})
}

// advance moves every projectile, removing the ones that expired, left the
// world or struck something.
func (a *Arena) advance(dt time.Duration) {
	now := a.now()
	kept := a.shots[:0]
	for _, p := range a.shots {
		if a.fly(p, dt, now) {
			kept = append(kept, p)
			continue
		}
		a.space.Remove(p.obj)
	}
	for i := len(kept); i < len(a.shots); i++ {
		a.shots[i] = nil
	}
	a.shots = kept
}

// slide moves the avatar along one axis, stopping flush against the
// first obstacle in the way.
func (a *Arena) slide(dx, dy float64) {
	obj := a.self
	for dx != 0 || dy != 0 {
		sx, sy := clampStep(dx, PlayerSize), clampStep(dy, PlayerSize)
		check := obj.Check(sx, sy, tagSolid)
		if hits := overlapping(obj, sx, sy, check, tagSolid); len(hits) > 0 {
			cx, cy := sx, sy
			for _, h := range hits {
				v := check.ContactWithObject(h)
				if sx != 0 && abs(v.X()) < abs(cx) {
					cx = v.X()
				}
				if sy != 0 && abs(v.Y()) < abs(cy) {
					cy = v.Y()
				}
			}
			obj.X += cx
			obj.Y += cy
			obj.Update()
			return
		}
		obj.X += sx
		obj.Y += sy
		obj.Update()
		dx -= sx
		dy -= sy
	}
}

func (a *Arena) fly(p *Projectile, dt time.Duration, now time.Time) bool {
	if now.Sub(p.born) >= ProjectileLife {
		return false
	}
	for d := p.VX * dt.Seconds(); d != 0; {
		step := clampStep(d, ProjectileSize)
		if len(overlapping(p.obj, step, 0, p.obj.Check(step, 0, tagSolid), tagSolid)) > 0 {
			return false
		}
		if !p.Remote {
			for _, hit := range overlapping(p.obj, step, 0, p.obj.Check(step, 0, tagPlayer), tagPlayer) {
				id, _ := hit.Data.(string)
				if _, ok := a.engine.LocalHit(id, ProjectileDamage, p.ID); ok {
					return false
				}
			}
		}
		p.obj.X += step
		p.obj.Update()
		d -= step
		p.X = p.obj.X + ProjectileSize/2
		if p.X < 0 || p.X > protocol.WorldSize {
			return false
		}
	}
	return true
}

// overlapping narrows a broadphase check to objects tagged tag that the
// box swept by obj moving dx,dy actually touches.
func overlapping(obj *resolv.Object, dx, dy float64, check *resolv.Collision, tag string) []*resolv.Object {
	if check == nil {
		return nil
	}
	x0, x1 := obj.X+min(dx, 0), obj.X+obj.W+max(dx, 0)
	y0, y1 := obj.Y+min(dy, 0), obj.Y+obj.H+max(dy, 0)
	var out []*resolv.Object
	for _, o := range check.ObjectsByTags(tag) {
		if o == obj {
			continue
		}
		if x0 < o.X+o.W && x1 > o.X && y0 < o.Y+o.H && y1 > o.Y {
			out = append(out, o)
		}
	}
	return out
}

// clampStep limits one sub-step to the size of the moving object. The
// broadphase only looks at the cells of the destination box, so a longer
// step could skip over something.
func clampStep(d, limit float64) float64 {
	return clamp(d, -limit, limit)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
