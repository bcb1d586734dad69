package reconcile

import (
	"errors"
	"testing"
	"time"

	"github.com/hersh/arena/internal/protocol"
)

// fakeRemote records every call the engine makes.
type fakeRemote struct {
	hits      []protocol.PlayerHitRequest
	syncs     []protocol.HitSync
	respawns  []protocol.RespawnRequest
	patches   []protocol.PlayerPatch
	positions []protocol.PlayerPatch
	anims     []protocol.AnimationRequest
	attacks   []protocol.PlayerAttack
	collected []string
	leaves    int
	err       error
}

func (f *fakeRemote) SetPlayerData(p protocol.PlayerPatch) error {
	f.patches = append(f.patches, p)
	return f.err
}

func (f *fakeRemote) UpdatePlayerPosition(p protocol.PlayerPatch) error {
	f.positions = append(f.positions, p)
	return f.err
}

func (f *fakeRemote) UpdatePlayerAnimation(r protocol.AnimationRequest) error {
	f.anims = append(f.anims, r)
	return f.err
}

func (f *fakeRemote) PlayerAttack(a protocol.PlayerAttack) error {
	f.attacks = append(f.attacks, a)
	return f.err
}

func (f *fakeRemote) PlayerHit(r protocol.PlayerHitRequest) error {
	f.hits = append(f.hits, r)
	return f.err
}

func (f *fakeRemote) BroadcastHitSync(hs protocol.HitSync) error {
	f.syncs = append(f.syncs, hs)
	return f.err
}

func (f *fakeRemote) RespawnPlayer(r protocol.RespawnRequest) error {
	f.respawns = append(f.respawns, r)
	return f.err
}

func (f *fakeRemote) CollectPowerup(id string) error {
	f.collected = append(f.collected, id)
	return f.err
}

func (f *fakeRemote) LeaveRoom() error {
	f.leaves++
	return f.err
}

type msClock struct{ ms int64 }

func (c *msClock) Now() time.Time { return time.UnixMilli(c.ms) }

func newTestEngine(t *testing.T) (*Engine, *fakeRemote, *msClock) {
	t.Helper()
	remote := &fakeRemote{}
	clock := &msClock{ms: 1_000}
	e := NewEngine("me", "Me", remote, WithClock(clock.Now))
	e.Join("room", protocol.RoomState{Obstacles: []protocol.Point{{X: 500, Y: 500}}})
	return e, remote, clock
}

func alive(id string, health int) protocol.PlayerState {
	return protocol.PlayerState{AccountID: id, Name: id, Health: health, Animation: protocol.AnimIdle}
}

func snapshot(ts int64, players ...protocol.PlayerState) protocol.RoomSnapshot {
	return protocol.RoomSnapshot{Players: players, TimestampMs: ts}
}

func mustPlayer(t *testing.T, e *Engine, id string) Player {
	t.Helper()
	p, ok := e.Player(id)
	if !ok {
		t.Fatalf("player %s not tracked", id)
	}
	return p
}

func TestDeadSetIsSticky(t *testing.T) {
	e, _, clock := newTestEngine(t)
	e.ApplySnapshot(snapshot(clock.ms, alive("p", 100)))
	e.HandleEvent(protocol.PlayerDied{PlayerID: "p", KillerID: "me"})

	clock.ms += 500
	e.ApplySnapshot(snapshot(clock.ms, alive("p", 80)))
	p := mustPlayer(t, e, "p")
	if !p.Dead || !e.IsDead("p") || p.Health != 0 {
		t.Fatalf("plain snapshot revived corpse: %+v", p)
	}

	clock.ms += 500
	forced := alive("p", 80)
	forced.ForceRemoveFromDeadPlayers = true
	e.ApplySnapshot(snapshot(clock.ms, forced))
	p = mustPlayer(t, e, "p")
	if p.Dead || e.IsDead("p") || p.Health != 80 {
		t.Fatalf("forced snapshot did not revive: %+v", p)
	}
}

func TestLocalPredictionPrecedence(t *testing.T) {
	e, _, clock := newTestEngine(t)
	clock.ms = 0
	e.ApplySnapshot(snapshot(0, alive("p", 100)))

	clock.ms = 100
	if health, ok := e.LocalHit("p", 10, "proj-1"); !ok || health != 90 {
		t.Fatalf("local hit = %d, %v", health, ok)
	}

	clock.ms = 120
	e.ApplySnapshot(snapshot(50, alive("p", 100)))
	if got := mustPlayer(t, e, "p").Health; got != 90 {
		t.Fatalf("stale snapshot overwrote prediction: health %d", got)
	}

	e.ApplySnapshot(snapshot(150, alive("p", 80)))
	if got := mustPlayer(t, e, "p").Health; got != 80 {
		t.Fatalf("newer snapshot not adopted: health %d", got)
	}
}

func TestLocalPredictionExpires(t *testing.T) {
	e, _, clock := newTestEngine(t)
	e.ApplySnapshot(snapshot(clock.ms, alive("p", 100)))
	hitAt := clock.ms
	e.LocalHit("p", 10, "")

	clock.ms += ArbitrationWindow.Milliseconds() + 1
	e.ApplySnapshot(snapshot(hitAt-10, alive("p", 100)))
	if got := mustPlayer(t, e, "p").Health; got != 100 {
		t.Fatalf("health = %d, prediction outlived its window", got)
	}
}

func TestLocalHitUsesBothChannels(t *testing.T) {
	e, remote, clock := newTestEngine(t)
	e.ApplySnapshot(snapshot(clock.ms, alive("p", 10)))

	health, ok := e.LocalHit("p", 10, "proj-9")
	if !ok || health != 0 {
		t.Fatalf("local hit = %d, %v", health, ok)
	}
	if !e.IsDead("p") {
		t.Fatal("lethal local hit did not mark target dead")
	}
	if len(remote.hits) != 1 || len(remote.syncs) != 1 {
		t.Fatalf("calls: %d hits, %d syncs", len(remote.hits), len(remote.syncs))
	}
	hit, hs := remote.hits[0], remote.syncs[0]
	if hit.TargetID != "p" || hit.AttackerID != "me" || hit.Damage != 10 || hit.ProjectileID != "proj-9" {
		t.Errorf("hit = %+v", hit)
	}
	if hs.NewHealth != 0 || !hs.IsDead || hs.TimestampMs != hit.TimestampMs {
		t.Errorf("sync = %+v", hs)
	}

	if _, ok := e.LocalHit("p", 10, "proj-10"); ok {
		t.Fatal("hit on a dead target was applied")
	}
	if _, ok := e.LocalHit("me", 10, "proj-11"); ok {
		t.Fatal("self hit was applied")
	}
}

func TestRemoteFailureKeepsPrediction(t *testing.T) {
	e, remote, clock := newTestEngine(t)
	remote.err = errors.New("offline")
	e.ApplySnapshot(snapshot(clock.ms, alive("p", 100)))

	if health, ok := e.LocalHit("p", 30, ""); !ok || health != 70 {
		t.Fatalf("local hit = %d, %v", health, ok)
	}
	if got := mustPlayer(t, e, "p").Health; got != 70 {
		t.Fatalf("health = %d after failed call", got)
	}
}

func TestFirstSightOfDeadPlayer(t *testing.T) {
	e, _, clock := newTestEngine(t)

	dead := alive("d", 0)
	dead.IsDead = true
	e.ApplySnapshot(snapshot(clock.ms, dead))
	if !e.IsDead("d") {
		t.Fatal("dead newcomer not in dead-set")
	}

	e2, _, _ := newTestEngine(t)
	flagged := alive("f", 100)
	flagged.IsDead = true
	flagged.ForceRemoveFromDeadPlayers = true
	e2.ApplySnapshot(snapshot(clock.ms, flagged))
	if e2.IsDead("f") {
		t.Fatal("force flag ignored on first sight")
	}
}

func TestRespawnedEventRevives(t *testing.T) {
	e, _, clock := newTestEngine(t)
	e.ApplySnapshot(snapshot(clock.ms, alive("p", 100)))
	e.HandleEvent(protocol.PlayerDied{PlayerID: "p"})

	clock.ms += 3000
	st := alive("p", 100)
	st.X, st.Y = 700, 800
	st.IsRespawned = true
	st.RespawnTimeMs = clock.ms
	st.ForceRemoveFromDeadPlayers = true
	e.HandleEvent(protocol.PlayerRespawned{PlayerID: "p", PlayerState: st})

	p := mustPlayer(t, e, "p")
	if p.Dead || p.Health != 100 || p.X != 700 || p.Y != 800 {
		t.Fatalf("after respawn = %+v", p)
	}

	// A snapshot taken before the respawn must not kill it again.
	old := alive("p", 0)
	old.IsDead = true
	e.ApplySnapshot(snapshot(clock.ms-100, old))
	if e.IsDead("p") {
		t.Fatal("pre-respawn snapshot killed the player again")
	}
}

func TestIsRespawnedRevivesOnlyNewerRespawn(t *testing.T) {
	e, _, clock := newTestEngine(t)
	st := alive("p", 100)
	st.IsRespawned = true
	st.RespawnTimeMs = 500
	e.ApplySnapshot(snapshot(clock.ms, st))
	e.HandleEvent(protocol.PlayerDied{PlayerID: "p"})

	clock.ms += 100
	e.ApplySnapshot(snapshot(clock.ms, st))
	if !e.IsDead("p") {
		t.Fatal("the respawn that preceded the death revived the player")
	}

	st.RespawnTimeMs = clock.ms
	e.ApplySnapshot(snapshot(clock.ms, st))
	if e.IsDead("p") {
		t.Fatal("a newer respawn did not revive the player")
	}
}

func TestReminderAndForceStateUpdateRevive(t *testing.T) {
	e, _, clock := newTestEngine(t)
	e.ApplySnapshot(snapshot(clock.ms, alive("p", 100), alive("q", 100)))
	e.HandleEvent(protocol.PlayerDied{PlayerID: "p"})
	e.HandleEvent(protocol.PlayerDied{PlayerID: "q"})

	clock.ms += 1000
	e.HandleEvent(protocol.RespawnReminder{
		PlayerID:    "p",
		PlayerState: alive("p", 100),
		Sequence:    1,
		ForceRemove: true,
		TimestampMs: clock.ms,
	})
	if e.IsDead("p") {
		t.Fatal("reminder did not revive p")
	}

	e.HandleEvent(protocol.ForceStateUpdate{
		States:            []protocol.PlayerState{alive("p", 100), alive("q", 100)},
		RespawnedPlayerID: "p",
		ForceRemove:       true,
		TimestampMs:       clock.ms,
	})
	if !e.IsDead("q") {
		t.Fatal("force update for p revived q")
	}

	q := alive("q", 100)
	q.IsRespawned = true
	e.HandleEvent(protocol.ForceStateUpdate{
		States:      []protocol.PlayerState{q},
		ForceRemove: true,
		TimestampMs: clock.ms,
	})
	if e.IsDead("q") {
		t.Fatal("batch force update did not revive respawned q")
	}
}

func TestHitSyncForSelf(t *testing.T) {
	e, _, clock := newTestEngine(t)

	e.HandleEvent(protocol.HitSync{TargetID: "me", AttackerID: "p", Damage: 30, NewHealth: 70, TimestampMs: clock.ms})
	if got := e.Self().Health; got != 70 {
		t.Fatalf("health = %d, want 70", got)
	}

	e.HandleEvent(protocol.HitSync{TargetID: "me", AttackerID: "p", Damage: 70, NewHealth: 0, TimestampMs: clock.ms, IsDead: true})
	if !e.Self().Dead || !e.IsDead("me") {
		t.Fatal("lethal hit sync did not kill local player")
	}

	e.HandleEvent(protocol.HitSync{TargetID: "me", NewHealth: 50, TimestampMs: clock.ms})
	if !e.Self().Dead {
		t.Fatal("hit sync revived local player")
	}

	clock.ms += 5000
	if !e.LocalRespawn(100, 200) {
		t.Fatal("respawn refused")
	}
	e.HandleEvent(protocol.HitSync{TargetID: "me", NewHealth: 0, IsDead: true, TimestampMs: clock.ms - 1000})
	if e.Self().Dead {
		t.Fatal("hit from before the respawn killed the local player")
	}
	e.HandleEvent(protocol.PlayerDied{PlayerID: "me"})
	if e.Self().Dead {
		t.Fatal("death announced right after respawn killed the local player")
	}
}

func TestHitSyncRespectsArbitration(t *testing.T) {
	e, _, clock := newTestEngine(t)
	e.ApplySnapshot(snapshot(clock.ms, alive("p", 100)))
	hitAt := clock.ms
	e.LocalHit("p", 30, "")

	clock.ms += 50
	e.HandleEvent(protocol.HitSync{TargetID: "p", NewHealth: 90, TimestampMs: hitAt - 20})
	if got := mustPlayer(t, e, "p").Health; got != 70 {
		t.Fatalf("older hit sync won: %d", got)
	}
	e.HandleEvent(protocol.HitSync{TargetID: "p", NewHealth: 60, TimestampMs: hitAt + 10})
	if got := mustPlayer(t, e, "p").Health; got != 60 {
		t.Fatalf("newer hit sync lost: %d", got)
	}
	e.HandleEvent(protocol.HitSync{TargetID: "p", NewHealth: 0, IsDead: true, TimestampMs: hitAt + 20})
	if !e.IsDead("p") {
		t.Fatal("lethal hit sync did not kill p")
	}
}

func TestLocalRespawn(t *testing.T) {
	e, remote, _ := newTestEngine(t)
	if e.LocalRespawn(1, 2) {
		t.Fatal("respawned while alive")
	}
	e.LocalDamage(150)
	if !e.Self().Dead {
		t.Fatal("lethal local damage did not kill")
	}
	if !e.LocalRespawn(300, 400) {
		t.Fatal("respawn refused while dead")
	}
	me := e.Self()
	if me.Dead || me.Health != 100 || me.X != 300 || me.Y != 400 {
		t.Fatalf("after respawn = %+v", me)
	}
	if len(remote.respawns) != 1 || remote.respawns[0].X != 300 {
		t.Fatalf("respawn calls = %+v", remote.respawns)
	}
}

func TestHealCapsAtMax(t *testing.T) {
	e, remote, _ := newTestEngine(t)
	e.LocalDamage(10)
	e.Heal(25)
	if got := e.Self().Health; got != 100 {
		t.Fatalf("health = %d, want 100", got)
	}
	if last := remote.patches[len(remote.patches)-1]; last.Health == nil || *last.Health != 100 {
		t.Fatalf("last patch = %+v", last)
	}
}

func TestDepartureCleansUp(t *testing.T) {
	e, _, clock := newTestEngine(t)
	e.ApplySnapshot(snapshot(clock.ms, alive("p", 100), alive("q", 100)))
	e.LocalHit("p", 10, "")
	e.HandleEvent(protocol.PlayerDied{PlayerID: "q"})

	e.ApplySnapshot(snapshot(clock.ms, alive("p", 100)))
	if _, ok := e.Player("q"); ok {
		t.Fatal("departed player still tracked")
	}
	if e.IsDead("q") {
		t.Fatal("departed player still in dead-set")
	}
	if got := e.sess.colors.inUse(); got != 1 {
		t.Fatalf("colours in use = %d, want 1", got)
	}
	if _, ok := e.Player("me"); !ok {
		t.Fatal("local player dropped by snapshot")
	}
}

func TestColorsAreDistinctWhileAvailable(t *testing.T) {
	e, _, clock := newTestEngine(t)
	var states []protocol.PlayerState
	for _, id := range []string{"a", "b", "c"} {
		states = append(states, alive(id, 100))
	}
	e.ApplySnapshot(snapshot(clock.ms, states...))

	seen := map[int]string{}
	for _, p := range e.Players() {
		if p.Self {
			if p.Color != SelfColor {
				t.Errorf("self colour = %d", p.Color)
			}
			continue
		}
		if other, dup := seen[p.Color]; dup {
			t.Fatalf("%s and %s share colour %d", p.ID, other, p.Color)
		}
		seen[p.Color] = p.ID
	}
}

func TestPowerupsMirrorRoom(t *testing.T) {
	e, remote, clock := newTestEngine(t)
	room := protocol.RoomState{Powerups: []protocol.Powerup{
		{ID: "h1", Kind: protocol.PowerupHealth, X: 10, Y: 10},
	}}
	e.ApplySnapshot(protocol.RoomSnapshot{Room: room, TimestampMs: clock.ms})
	e.HandleEvent(protocol.PowerupSpawned{Powerup: protocol.Powerup{ID: "s1", Kind: protocol.PowerupSpeed}})
	if got := len(e.Powerups()); got != 2 {
		t.Fatalf("powerups = %d, want 2", got)
	}

	p, ok := e.CollectPowerup("h1")
	if !ok || p.Kind != protocol.PowerupHealth {
		t.Fatalf("collect = %+v, %v", p, ok)
	}
	if len(remote.collected) != 1 {
		t.Fatalf("collect calls = %v", remote.collected)
	}

	// The room has not dropped h1 yet; it stays hidden.
	e.ApplySnapshot(protocol.RoomSnapshot{Room: room, TimestampMs: clock.ms})
	for _, p := range e.Powerups() {
		if p.ID == "h1" {
			t.Fatal("collected powerup came back")
		}
	}
	if _, ok := e.CollectPowerup("h1"); ok {
		t.Fatal("collected twice")
	}
}

func TestObstaclesTakenOnce(t *testing.T) {
	e, _, clock := newTestEngine(t)
	e.ApplySnapshot(protocol.RoomSnapshot{
		Room:        protocol.RoomState{Obstacles: []protocol.Point{{X: 1, Y: 1}, {X: 2, Y: 2}}},
		TimestampMs: clock.ms,
	})
	if got := len(e.Obstacles()); got != 1 {
		t.Fatalf("obstacles = %d, want the original 1", got)
	}
}

func TestFlushPositionOnlyWhenMoved(t *testing.T) {
	e, remote, _ := newTestEngine(t)
	e.FlushPosition()
	if len(remote.positions) != 0 {
		t.Fatal("flushed without movement")
	}
	e.UpdateSelf(10, 20, protocol.AnimWalk, false)
	e.FlushPosition()
	e.FlushPosition()
	if len(remote.positions) != 1 {
		t.Fatalf("positions = %d, want 1", len(remote.positions))
	}
	if len(remote.anims) != 1 || remote.anims[0].Animation != protocol.AnimWalk {
		t.Fatalf("animations = %+v", remote.anims)
	}
}

func TestAttacksFromOthersAreQueued(t *testing.T) {
	e, _, clock := newTestEngine(t)
	e.ApplySnapshot(snapshot(clock.ms, alive("p", 100)))

	e.HandleEvent(protocol.PlayerAttack{Type: protocol.AttackProjectile, ID: "x", OwnerID: "p", Direction: -1})
	e.HandleEvent(protocol.PlayerAttack{Type: protocol.AttackProjectile, ID: "y", OwnerID: "me", Direction: 1})
	got := e.TakeAttacks()
	if len(got) != 1 || got[0].ID != "x" {
		t.Fatalf("attacks = %+v", got)
	}
	if p := mustPlayer(t, e, "p"); !p.FlipX || p.Animation != protocol.AnimAttack {
		t.Fatalf("attacker view = %+v", p)
	}
	if len(e.TakeAttacks()) != 0 {
		t.Fatal("attacks not cleared")
	}
}

func TestCloseLeavesRoom(t *testing.T) {
	e, remote, _ := newTestEngine(t)
	e.Close()
	e.Close()
	if remote.leaves != 1 {
		t.Fatalf("leaves = %d, want 1", remote.leaves)
	}
	if e.Joined() || e.Players() != nil {
		t.Fatal("session survived close")
	}
}
