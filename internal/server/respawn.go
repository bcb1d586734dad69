package server

import (
	"context"
	"fmt"
	"log"

	"github.com/hersh/arena/internal/protocol"
)

// Respawn replaces the caller's document with a fresh one at x,y, keeping
// only name and score. The result is announced three ways: a
// PlayerRespawned event, a full ForceStateUpdate and a series of reminders,
// because a single broadcast may be lost.
func (h *Handler) Respawn(ctx context.Context, s Sender, req protocol.RespawnRequest) (protocol.PlayerState, error) {
	prev, _, err := h.svc.UserDoc(ctx, s.RoomID, s.AccountID)
	if err != nil {
		return protocol.PlayerState{}, fmt.Errorf("read %s before respawn: %w", s.AccountID, err)
	}

	now := h.nowMs()
	fresh := protocol.PlayerState{
		AccountID:                  s.AccountID,
		Name:                       prev.Name,
		X:                          req.X,
		Y:                          req.Y,
		Health:                     protocol.MaxHealth,
		IsRespawned:                true,
		RespawnTimeMs:              now,
		Animation:                  protocol.AnimIdle,
		Score:                      prev.Score,
		LastUpdateMs:               now,
		ForceRemoveFromDeadPlayers: true,
	}
	if err := h.svc.ReplaceUserDoc(ctx, s.RoomID, s.AccountID, fresh); err != nil {
		return protocol.PlayerState{}, fmt.Errorf("respawn %s: %w", s.AccountID, err)
	}

	h.broadcast(ctx, s.RoomID, protocol.PlayerRespawned{PlayerID: s.AccountID, PlayerState: fresh})

	if states, err := h.svc.UserDocs(ctx, s.RoomID); err != nil {
		log.Printf("[handler] %v", &RemoteCallFailure{Op: "snapshot after respawn", Err: err})
	} else {
		h.broadcast(ctx, s.RoomID, protocol.ForceStateUpdate{
			States:            states,
			RespawnedPlayerID: s.AccountID,
			ForceRemove:       true,
			TimestampMs:       now,
		})
	}

	h.scheduleReminders(s.RoomID, fresh)
	log.Printf("[handler] %s respawned in %s at (%.0f, %.0f)", s.AccountID, s.RoomID, req.X, req.Y)
	return fresh, nil
}

// scheduleReminders queues one reminder per configured delay. Each reminder
// re-reads the document so a player that died again in the meantime is not
// announced as alive.
func (h *Handler) scheduleReminders(roomID string, state protocol.PlayerState) {
	for i, delay := range h.reminderDelays {
		seq := i + 1
		name := fmt.Sprintf("reminder %d for %s", seq, state.AccountID)
		h.sched.Schedule(delay, name, func(ctx context.Context) error {
			return h.sendReminder(ctx, roomID, state, seq)
		})
	}
}

func (h *Handler) sendReminder(ctx context.Context, roomID string, state protocol.PlayerState, seq int) error {
	cur, ok, err := h.svc.UserDoc(ctx, roomID, state.AccountID)
	if err != nil {
		return &RemoteCallFailure{Op: "read state for reminder", Err: err}
	}
	if !ok || cur.IsDead || cur.RespawnTimeMs != state.RespawnTimeMs {
		return nil
	}
	ev := protocol.RespawnReminder{
		PlayerID:    state.AccountID,
		PlayerState: cur,
		Sequence:    seq,
		ForceRemove: true,
		TimestampMs: h.nowMs(),
	}
	if err := h.svc.Broadcast(ctx, roomID, ev); err != nil {
		return &RemoteCallFailure{Op: "broadcast reminder", Err: err}
	}
	return nil
}

// PendingReminders returns how many reminders are still queued.
func (h *Handler) PendingReminders() int {
	return h.sched.Pending()
}
