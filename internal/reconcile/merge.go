package reconcile

import (
	"log"

	"github.com/hersh/arena/internal/protocol"
)

// ApplySnapshot merges a periodic room snapshot. Members missing from it
// have left and are forgotten.
func (e *Engine) ApplySnapshot(snap protocol.RoomSnapshot) {
	if e.sess == nil {
		return
	}
	e.sess.applyRoom(snap.Room)

	present := map[string]bool{e.selfID: true}
	for _, st := range snap.Players {
		present[st.AccountID] = true
		e.mergeState(st, snap.TimestampMs, st.ForceRemoveFromDeadPlayers)
	}
	for id := range e.sess.players {
		if !present[id] {
			e.sess.forget(id)
		}
	}
}

// HandleEvent merges one room broadcast.
func (e *Engine) HandleEvent(ev protocol.Event) {
	if e.sess == nil {
		return
	}
	switch ev := ev.(type) {
	case protocol.HitSync:
		e.applyHitSync(ev)
	case protocol.PlayerDied:
		e.applyDied(ev)
	case protocol.PlayerRespawned:
		if ev.PlayerID == e.selfID {
			return
		}
		st := ev.PlayerState
		st.AccountID = ev.PlayerID
		e.mergeState(st, st.RespawnTimeMs, true)
	case protocol.RespawnReminder:
		if ev.PlayerID == e.selfID {
			return
		}
		st := ev.PlayerState
		st.AccountID = ev.PlayerID
		e.mergeState(st, ev.TimestampMs, ev.ForceRemove || st.ForceRemoveFromDeadPlayers)
	case protocol.ForceStateUpdate:
		for _, st := range ev.States {
			force := st.ForceRemoveFromDeadPlayers
			if ev.ForceRemove && st.Health > 0 {
				if ev.RespawnedPlayerID != "" {
					force = force || st.AccountID == ev.RespawnedPlayerID
				} else {
					force = force || st.IsRespawned
				}
			}
			e.mergeState(st, ev.TimestampMs, force)
		}
	case protocol.RespawnedPlayersBatch:
		for _, rp := range ev.Players {
			e.mergeState(protocol.PlayerState{
				AccountID:     rp.PlayerID,
				Name:          rp.Name,
				X:             rp.X,
				Y:             rp.Y,
				Health:        rp.Health,
				IsRespawned:   true,
				RespawnTimeMs: rp.RespawnTimeMs,
				Animation:     rp.Animation,
				FlipX:         rp.FlipX,
				Score:         rp.Score,
			}, rp.TimestampMs, rp.ForceRemove)
		}
	case protocol.PlayerAnimation:
		e.applyAnimation(ev)
	case protocol.PlayerAttack:
		e.applyAttack(ev)
	case protocol.PowerupSpawned:
		e.sess.addPowerup(ev.Powerup)
	default:
		log.Printf("[reconcile] ignoring %T", ev)
	}
}

func stateDead(st protocol.PlayerState) bool {
	return st.IsDead || st.Health <= 0
}

// keepLocal reports whether a local prediction for id outranks a server
// value stamped ts.
func (e *Engine) keepLocal(id string, ts int64) bool {
	rec, ok := e.sess.records[id]
	if !ok {
		return false
	}
	return e.nowMs()-rec.at < ArbitrationWindow.Milliseconds() && ts < rec.at
}

// adoptHealth takes the server's health for p and keeps the local record
// in step without refreshing its timestamp.
func (e *Engine) adoptHealth(p *Player, health int) {
	p.Health = health
	if rec, ok := e.sess.records[p.ID]; ok {
		rec.health = health
		e.sess.records[p.ID] = rec
	}
}

// mergeState folds a server copy of a member document, stamped ts, into
// the view. force carries the force-remove flag for this member.
func (e *Engine) mergeState(st protocol.PlayerState, ts int64, force bool) {
	if st.AccountID == "" {
		return
	}
	if st.AccountID == e.selfID {
		me := e.self()
		me.Score = st.Score
		if st.Name != "" {
			me.Name = st.Name
		}
		return
	}

	p, known := e.sess.players[st.AccountID]
	if !known {
		p = &Player{ID: st.AccountID, Color: e.sess.colors.acquire(st.AccountID)}
		e.sess.players[st.AccountID] = p
		copyFields(p, st)
		p.RespawnTimeMs = st.RespawnTimeMs
		p.Health = st.Health
		if stateDead(st) && !(force && st.Health > 0) {
			e.sess.markDead(p)
		}
		return
	}

	// A copy from before a respawn we already know about.
	if st.RespawnTimeMs < p.RespawnTimeMs {
		return
	}
	p.Name = st.Name
	p.Score = st.Score
	p.Disconnected = st.IsDisconnected
	p.X, p.Y = st.X, st.Y

	if diedAt, dead := e.sess.dead[p.ID]; dead {
		newer := st.IsRespawned && st.RespawnTimeMs > diedAt
		if st.Health > 0 && !st.IsDead && (newer || (force && !e.keepLocal(p.ID, ts))) {
			p.RespawnTimeMs = st.RespawnTimeMs
			e.sess.revive(p, st.Health)
			copyFields(p, st)
		}
		return
	}
	p.RespawnTimeMs = st.RespawnTimeMs
	copyFields(p, st)

	if !force && e.keepLocal(p.ID, ts) {
		return
	}
	e.adoptHealth(p, st.Health)
	if stateDead(st) {
		e.sess.markDead(p)
	}
}

func copyFields(p *Player, st protocol.PlayerState) {
	p.Name = st.Name
	p.X, p.Y = st.X, st.Y
	p.Score = st.Score
	p.Disconnected = st.IsDisconnected
	p.FlipX = st.FlipX
	if st.Animation.Valid() {
		p.Animation = st.Animation
	}
}

func (e *Engine) applyHitSync(hs protocol.HitSync) {
	if hs.TargetID == e.selfID {
		me := e.self()
		if me.Dead || hs.TimestampMs < e.sess.localRespawnAt {
			return
		}
		if hs.Dead() {
			e.sess.markDead(me)
			log.Printf("[reconcile] killed by %s", hs.AttackerID)
			return
		}
		me.Health = hs.NewHealth
		return
	}

	p, ok := e.sess.players[hs.TargetID]
	if !ok {
		return
	}
	if e.sess.isDead(p.ID) {
		if hs.ForceRemove && hs.NewHealth > 0 && !e.keepLocal(p.ID, hs.TimestampMs) {
			e.sess.revive(p, hs.NewHealth)
		}
		return
	}
	if !hs.ForceRemove && e.keepLocal(p.ID, hs.TimestampMs) {
		return
	}
	e.adoptHealth(p, hs.NewHealth)
	if hs.Dead() {
		e.sess.markDead(p)
	}
}

func (e *Engine) applyDied(ev protocol.PlayerDied) {
	if ev.PlayerID == e.selfID {
		me := e.self()
		// A death announced just after a local respawn predates it.
		if e.sess.localRespawnAt != 0 && e.nowMs()-e.sess.localRespawnAt < ArbitrationWindow.Milliseconds() {
			return
		}
		e.sess.markDead(me)
		return
	}
	if p, ok := e.sess.players[ev.PlayerID]; ok {
		e.sess.markDead(p)
	}
}

func (e *Engine) applyAnimation(ev protocol.PlayerAnimation) {
	p, ok := e.sess.players[ev.PlayerID]
	if !ok || p.Self {
		return
	}
	if e.sess.isDead(p.ID) {
		if !ev.ForceRemove {
			return
		}
		e.sess.revive(p, p.Health)
	}
	p.Animation = ev.Animation
	p.FlipX = ev.FlipX
}

func (e *Engine) applyAttack(ev protocol.PlayerAttack) {
	if ev.OwnerID == e.selfID {
		return
	}
	p, ok := e.sess.players[ev.OwnerID]
	if !ok {
		return
	}
	if e.sess.isDead(p.ID) {
		if !ev.ForceRemove {
			return
		}
		e.sess.revive(p, p.Health)
	}
	p.X, p.Y = ev.X, ev.Y
	if ev.Direction != 0 {
		p.FlipX = ev.Direction < 0
	}
	p.Animation = protocol.AnimAttack
	e.attacks = append(e.attacks, ev)
}
