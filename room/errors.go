package room

import (
	"errors"
	"fmt"

	"github.com/tcriess/geonote-chat/types"
)

var (
	ErrAlreadyInRoom = errors.New("user is already in a room")
	ErrNotAMember    = errors.New("user is not a member of the room")
	ErrRoomNotFound  = errors.New("no such public room")
)

// InvariantViolation is raised (as a panic value) when a room that still has members is about to be removed.
type InvariantViolation struct {
	RoomId  types.RoomId
	Members int
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("there are %d users in room %d, but we are trying to remove it", e.Members, e.RoomId)
}
