package server

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/hersh/arena/internal/protocol"
)

// hitDedupeWindow is how long a projectile id is remembered.
const hitDedupeWindow = 5 * time.Second

// seenHit records projectileID and reports whether it was already seen in
// roomID within hitDedupeWindow. Hits without a projectile id are never
// deduplicated.
func (h *Handler) seenHit(roomID, projectileID string) bool {
	if projectileID == "" {
		return false
	}
	now := h.now()

	h.mu.Lock()
	defer h.mu.Unlock()
	seen, ok := h.recentHits[roomID]
	if !ok {
		seen = make(map[string]time.Time)
		h.recentHits[roomID] = seen
	}
	for id, at := range seen {
		if now.Sub(at) > hitDedupeWindow {
			delete(seen, id)
		}
	}
	if _, dup := seen[projectileID]; dup {
		return true
	}
	seen[projectileID] = now
	return false
}

// ApplyHit subtracts damage from the target's health, floored at zero, and
// broadcasts the resulting HitSync. A hit that kills the target runs
// HandleDeath before returning. Hits on a target that is already dead are
// broadcast but do not credit another kill.
func (h *Handler) ApplyHit(ctx context.Context, s Sender, req protocol.PlayerHitRequest) (protocol.HitSync, error) {
	if req.TargetID == "" {
		return protocol.HitSync{}, fmt.Errorf("player hit: missing target")
	}
	if req.Damage < 0 {
		return protocol.HitSync{}, fmt.Errorf("player hit: negative damage %d", req.Damage)
	}
	if h.seenHit(s.RoomID, req.ProjectileID) {
		log.Printf("[handler] dropping duplicate hit %s on %s", req.ProjectileID, req.TargetID)
		return protocol.HitSync{}, nil
	}

	attacker := req.AttackerID
	if attacker == "" {
		attacker = s.AccountID
	}

	var wasDead bool
	doc, err := h.svc.MutateUserDoc(ctx, s.RoomID, req.TargetID, func(doc *protocol.PlayerState, _ bool) bool {
		wasDead = doc.IsDead || doc.Health <= 0
		doc.Health -= req.Damage
		if doc.Health < 0 {
			doc.Health = 0
		}
		doc.IsDead = doc.Health <= 0
		if doc.IsDead {
			doc.ForceRemoveFromDeadPlayers = false
		}
		return true
	})
	if err != nil {
		return protocol.HitSync{}, fmt.Errorf("apply hit on %s: %w", req.TargetID, err)
	}

	ts := req.TimestampMs
	if ts == 0 {
		ts = h.nowMs()
	}
	out := protocol.HitSync{
		TargetID:    req.TargetID,
		AttackerID:  attacker,
		Damage:      req.Damage,
		NewHealth:   doc.Health,
		TimestampMs: ts,
		IsDead:      doc.IsDead,
	}
	h.broadcast(ctx, s.RoomID, out)

	if doc.IsDead && !wasDead {
		if err := h.HandleDeath(ctx, s.RoomID, req.TargetID, attacker); err != nil {
			return out, err
		}
	}
	return out, nil
}

// HandleDeath credits killerID with one point when it names someone other
// than the victim, marks the victim dead and announces the death.
func (h *Handler) HandleDeath(ctx context.Context, roomID, playerID, killerID string) error {
	if killerID != "" && killerID != playerID {
		_, err := h.svc.MutateUserDoc(ctx, roomID, killerID, func(doc *protocol.PlayerState, _ bool) bool {
			doc.Score++
			return true
		})
		if err != nil {
			return fmt.Errorf("credit kill to %s: %w", killerID, err)
		}
	}

	_, err := h.svc.MutateUserDoc(ctx, roomID, playerID, func(doc *protocol.PlayerState, _ bool) bool {
		doc.Health = 0
		doc.IsDead = true
		doc.IsRespawned = false
		doc.ForceRemoveFromDeadPlayers = false
		return true
	})
	if err != nil {
		return fmt.Errorf("mark %s dead: %w", playerID, err)
	}

	h.broadcast(ctx, roomID, protocol.PlayerDied{PlayerID: playerID, KillerID: killerID})
	log.Printf("[handler] %s died in %s (killer %q)", playerID, roomID, killerID)
	return nil
}

// BroadcastHitSync re-broadcasts a hit predicted by the attacker's client so
// observers converge before the authoritative echo arrives.
func (h *Handler) BroadcastHitSync(ctx context.Context, s Sender, hs protocol.HitSync) error {
	if hs.AttackerID == "" {
		hs.AttackerID = s.AccountID
	}
	hs.IsDead = hs.Dead()
	hs.ForceRemove = false
	if err := hs.Validate(); err != nil {
		return err
	}
	return h.svc.Broadcast(ctx, s.RoomID, hs)
}

// CollectPowerup removes the first powerup with the given id. A miss is not
// an error: someone else got there first.
func (h *Handler) CollectPowerup(ctx context.Context, s Sender, id string) error {
	removed := false
	_, err := h.svc.MutateRoomDoc(ctx, s.RoomID, func(doc *protocol.RoomState) bool {
		for i, p := range doc.Powerups {
			if p.ID == id {
				doc.Powerups = append(doc.Powerups[:i], doc.Powerups[i+1:]...)
				removed = true
				return true
			}
		}
		return false
	})
	if err != nil {
		return fmt.Errorf("collect powerup %s: %w", id, err)
	}
	if removed {
		log.Printf("[handler] %s collected %s", s.AccountID, id)
	}
	return nil
}
