// Package roomsvc defines the room service the arena core depends on: a
// per-room shared document, one document per member, and a broadcast bus.
// Memory is the in-process implementation used by the server and tests.
package roomsvc

import (
	"context"
	"errors"

	"github.com/hersh/arena/internal/protocol"
)

var (
	ErrNoRoom    = errors.New("room does not exist")
	ErrNotJoined = errors.New("account is not a member of the room")
	ErrRoomFull  = errors.New("room is full")
)

// Store holds room and member documents. Individual calls are atomic;
// there is no cross-call transaction.
type Store interface {
	CountMembers(ctx context.Context, roomID string) (int, error)
	Join(ctx context.Context, roomID, accountID string) (string, error)
	// JoinLimited checks capacity and adds the member in one step. A
	// current member may always rejoin. It returns the member count after
	// the join, or the current count with ErrRoomFull.
	JoinLimited(ctx context.Context, roomID, accountID string, max int) (int, error)
	Leave(ctx context.Context, roomID, accountID string) error
	Members(ctx context.Context, roomID string) ([]string, error)
	Rooms(ctx context.Context) []string

	RoomDoc(ctx context.Context, roomID string) (protocol.RoomState, bool, error)
	PatchRoomDoc(ctx context.Context, roomID string, patch protocol.RoomPatch) error
	// MutateRoomDoc runs fn under the store lock. fn reports whether it
	// changed the document.
	MutateRoomDoc(ctx context.Context, roomID string, fn func(doc *protocol.RoomState) bool) (protocol.RoomState, error)

	UserDoc(ctx context.Context, roomID, accountID string) (protocol.PlayerState, bool, error)
	PatchUserDoc(ctx context.Context, roomID, accountID string, patch protocol.PlayerPatch) error
	ReplaceUserDoc(ctx context.Context, roomID, accountID string, doc protocol.PlayerState) error
	// MutateUserDoc runs fn under the store lock. A missing document is
	// presented as protocol.DefaultPlayerState with exists=false. Changes
	// are only stored for current members.
	MutateUserDoc(ctx context.Context, roomID, accountID string, fn func(doc *protocol.PlayerState, exists bool) bool) (protocol.PlayerState, error)
	// UserDocs returns the documents of current members only.
	UserDocs(ctx context.Context, roomID string) ([]protocol.PlayerState, error)
}

// Bus fans named events out to every subscriber of a room. Delivery is
// best effort and unordered across senders.
type Bus interface {
	Broadcast(ctx context.Context, roomID string, ev protocol.Event) error
	Subscribe(roomID string, fn func(protocol.Event)) (cancel func())
}

// Service is the full contract.
type Service interface {
	Store
	Bus
}
