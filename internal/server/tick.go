package server

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/hersh/arena/internal/protocol"
)

const (
	MaxPowerups = 5

	// powerupSpawnPeriod gives one expected spawn per period.
	powerupSpawnPeriod = 10 * time.Second
	healthPowerupShare = 0.7

	RespawnWindow  = 15 * time.Second
	announceWindow = 3 * time.Second
)

// Tick advances the room clock by delta, may spawn a powerup and keeps
// recently respawned players visible. It is driven by the host, never by a
// client. Store failures in the respawn scan are logged, not returned.
func (h *Handler) Tick(ctx context.Context, roomID string, delta time.Duration) error {
	var spawned *protocol.Powerup
	_, err := h.svc.MutateRoomDoc(ctx, roomID, func(doc *protocol.RoomState) bool {
		doc.GameTimeMs += delta.Milliseconds()
		if len(doc.Powerups) < MaxPowerups {
			if p, ok := h.rollPowerup(delta); ok {
				doc.Powerups = append(doc.Powerups, p)
				spawned = &p
			}
		}
		return true
	})
	if err != nil {
		return fmt.Errorf("tick %s: %w", roomID, err)
	}
	if spawned != nil {
		h.broadcast(ctx, roomID, protocol.PowerupSpawned{Powerup: *spawned})
	}

	h.scanRespawned(ctx, roomID)
	return nil
}

// rollPowerup spawns with probability delta/powerupSpawnPeriod.
func (h *Handler) rollPowerup(delta time.Duration) (protocol.Powerup, bool) {
	var (
		p  protocol.Powerup
		ok bool
	)
	h.withRand(func(rng *rand.Rand) {
		if rng.Float64() >= float64(delta)/float64(powerupSpawnPeriod) {
			return
		}
		kind := protocol.PowerupSpeed
		if rng.Float64() < healthPowerupShare {
			kind = protocol.PowerupHealth
		}
		x, y := randomPoint(rng)
		p = protocol.Powerup{
			ID:   fmt.Sprintf("powerup_%d_%d", h.nowMs(), rng.Intn(1000)),
			Kind: kind,
			X:    x,
			Y:    y,
		}
		ok = true
	})
	return p, ok
}

func (h *Handler) scanRespawned(ctx context.Context, roomID string) {
	states, err := h.svc.UserDocs(ctx, roomID)
	if err != nil {
		log.Printf("[handler] %v", &RemoteCallFailure{Op: "scan respawned in " + roomID, Err: err})
		return
	}

	now := h.now()
	nowMs := now.UnixMilli()
	var recent []protocol.RespawnedPlayer
	for _, st := range states {
		if !st.IsRespawned || st.Health <= 0 {
			continue
		}
		if nowMs-st.RespawnTimeMs < RespawnWindow.Milliseconds() {
			recent = append(recent, protocol.RespawnedPlayer{
				PlayerID:      st.AccountID,
				Name:          st.Name,
				X:             st.X,
				Y:             st.Y,
				Health:        st.Health,
				Animation:     st.Animation,
				FlipX:         st.FlipX,
				RespawnTimeMs: st.RespawnTimeMs,
				Score:         st.Score,
				ForceRemove:   true,
				TimestampMs:   nowMs,
			})
			continue
		}
		h.clearRespawned(ctx, roomID, st.AccountID)
	}

	if len(recent) == 0 || !h.dueAnnounce(roomID, now) {
		return
	}
	h.broadcast(ctx, roomID, protocol.RespawnedPlayersBatch{Players: recent, TimestampMs: nowMs})
	h.broadcast(ctx, roomID, protocol.ForceStateUpdate{
		States:      states,
		ForceRemove: true,
		TimestampMs: nowMs,
	})
}

func (h *Handler) clearRespawned(ctx context.Context, roomID, accountID string) {
	_, err := h.svc.MutateUserDoc(ctx, roomID, accountID, func(doc *protocol.PlayerState, exists bool) bool {
		if !exists || !doc.IsRespawned {
			return false
		}
		doc.IsRespawned = false
		doc.ForceRemoveFromDeadPlayers = false
		return true
	})
	if err != nil {
		log.Printf("[handler] %v", &RemoteCallFailure{Op: "clear respawn flag of " + accountID, Err: err})
	}
}

// dueAnnounce reports whether roomID may announce again and records now.
func (h *Handler) dueAnnounce(roomID string, now time.Time) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	last, ok := h.lastAnnounce[roomID]
	if ok && now.Sub(last) < announceWindow {
		return false
	}
	h.lastAnnounce[roomID] = now
	return true
}
