package protocol

// MessageType identifies the kind of message sent over the wire.
type MessageType string

const (
	// Server -> Client messages
	MsgAssignID     MessageType = "assign_id"
	MsgRoomJoined   MessageType = "room_joined"
	MsgRoomError    MessageType = "room_error"
	MsgRoomSnapshot MessageType = "room_snapshot"

	// Broadcast events (server -> every room member)
	MsgPlayerAnimation       MessageType = "playerAnimation"
	MsgPlayerAttack          MessageType = "playerAttack"
	MsgPlayerHitSync         MessageType = "playerHitSync"
	MsgPlayerDied            MessageType = "playerDied"
	MsgPlayerRespawned       MessageType = "playerRespawned"
	MsgPlayerRespawnReminder MessageType = "playerRespawnReminder"
	MsgForceStateUpdate      MessageType = "forceStateUpdate"
	MsgRespawnedPlayersBatch MessageType = "respawnedPlayersBatch"
	MsgPowerupSpawned        MessageType = "powerupSpawned"

	// Client -> Server remote calls
	CallJoinRoom              MessageType = "joinRoom"
	CallLeaveRoom             MessageType = "leaveRoom"
	CallSetPlayerData         MessageType = "setPlayerData"
	CallUpdatePlayerPosition  MessageType = "updatePlayerPosition"
	CallUpdatePlayerAnimation MessageType = "updatePlayerAnimation"
	CallPlayerAttack          MessageType = "playerAttack"
	CallPlayerHit             MessageType = "playerHit"
	CallBroadcastHitSync      MessageType = "broadcastHitSync"
	CallRespawnPlayer         MessageType = "respawnPlayer"
	CallCollectPowerup        MessageType = "collectPowerup"
)

// Envelope is the top-level wire format for all messages.
type Envelope struct {
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload"`
}

// --- Server -> Client payloads ---

// AssignIDPayload is sent when a client first connects.
type AssignIDPayload struct {
	AccountID string `json:"account_id"`
}

// RoomJoinedPayload is sent when a joinRoom call succeeds.
type RoomJoinedPayload struct {
	RoomID string    `json:"room_id"`
	Room   RoomState `json:"room"`
}

// RoomErrorPayload is sent when a room operation fails.
type RoomErrorPayload struct {
	Message string `json:"message"`
	Full    bool   `json:"full,omitempty"`
}

// RoomSnapshot is the periodic push of every member document plus the room
// document. It plays the role of the room service's state subscription.
type RoomSnapshot struct {
	Room        RoomState     `json:"room"`
	Players     []PlayerState `json:"players"`
	TimestampMs int64         `json:"timestamp"`
}

// --- Client -> Server payloads ---

// JoinRoomRequest asks to join (or create) a room. An empty RoomID selects
// the default room.
type JoinRoomRequest struct {
	RoomID string `json:"roomId,omitempty"`
	Name   string `json:"name,omitempty"`
}

// LeaveRoomRequest carries no fields.
type LeaveRoomRequest struct{}

// LeaveRoomResult reports whether a best-effort leave succeeded.
type LeaveRoomResult struct {
	Success bool `json:"success"`
}

// AnimationRequest is the payload of updatePlayerAnimation.
type AnimationRequest struct {
	Animation Animation `json:"animation"`
	FlipX     bool      `json:"flipX"`
}

// PlayerHitRequest reports a hit detected by the attacker's client.
type PlayerHitRequest struct {
	TargetID     string `json:"targetId"`
	AttackerID   string `json:"attackerId"`
	Damage       int    `json:"damage"`
	TimestampMs  int64  `json:"timestamp"`
	ProjectileID string `json:"projectileId,omitempty"`
}

// RespawnRequest asks the server to respawn the caller at X,Y.
type RespawnRequest struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// CollectPowerupRequest removes a powerup from the room.
type CollectPowerupRequest struct {
	ID string `json:"id"`
}

// --- HTTP types ---

// RoomInfo describes a room in the list-rooms response.
type RoomInfo struct {
	RoomID      string `json:"room_id"`
	PlayerCount int    `json:"player_count"`
	MaxPlayers  int    `json:"max_players"`
}

// ListRoomsResponse is returned by GET /rooms.
type ListRoomsResponse struct {
	Rooms []RoomInfo `json:"rooms"`
}
