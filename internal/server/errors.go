package server

import "fmt"

// RoomFullError rejects a join into a room already at capacity.
type RoomFullError struct {
	RoomID  string
	Members int
}

func (e *RoomFullError) Error() string {
	return fmt.Sprintf("room %s is full (%d members)", e.RoomID, e.Members)
}

// RemoteCallFailure wraps a store or bus failure inside an operation whose
// contract is to log and carry on.
type RemoteCallFailure struct {
	Op  string
	Err error
}

func (e *RemoteCallFailure) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RemoteCallFailure) Unwrap() error {
	return e.Err
}
