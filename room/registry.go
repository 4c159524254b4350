package room

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/geonote-chat/globals"
	"github.com/tcriess/geonote-chat/types"
)

// Registry is the single source of truth for which room a user is in and which rooms are public.
//
// Invariants:
//   - a user is assigned to at most one room
//   - a room is public only while at least one user is in it
//   - a room is only removed when it is empty
type Registry struct {
	nextId types.RoomId

	userRoom    map[types.UserId]*Room
	publicRooms map[types.RoomId]*Room
	// all live rooms; empty private rooms stay here only with retainEmptyPrivate
	rooms map[types.RoomId]*Room

	strict             bool
	retainEmptyPrivate bool
	logger             hclog.Logger

	// mutex for all maps and the id counter
	sync.RWMutex
}

type Option func(*Registry)

func WithLogger(logger hclog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithStrict makes the registry panic on membership inconsistencies instead of logging them.
func WithStrict(strict bool) Option {
	return func(r *Registry) {
		r.strict = strict
	}
}

// WithRetainEmptyPrivate keeps private rooms around after their last member left, until the next Sweep.
func WithRetainEmptyPrivate(retain bool) Option {
	return func(r *Registry) {
		r.retainEmptyPrivate = retain
	}
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		userRoom:    make(map[types.UserId]*Room),
		publicRooms: make(map[types.RoomId]*Room),
		rooms:       make(map[types.RoomId]*Room),
		logger:      globals.AppLogger.Named("rooms"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreateRoom opens a new private room with user as its only member.
func (r *Registry) CreateRoom(user types.UserId, endpoint types.Endpoint) (*Room, error) {
	r.Lock()
	defer r.Unlock()
	if current, ok := r.userRoom[user]; ok {
		return nil, fmt.Errorf("%w: user %d is in room %d", ErrAlreadyInRoom, user, current.id)
	}
	room := newRoom(r.nextId)
	r.nextId++
	room.addMember(user, endpoint)
	r.userRoom[user] = room
	r.rooms[room.id] = room
	r.logger.Debug("room created", "room", room.id, "user", user)
	return room, nil
}

func (r *Registry) CurrentRoom(user types.UserId) (*Room, bool) {
	r.RLock()
	defer r.RUnlock()
	room, ok := r.userRoom[user]
	return room, ok
}

// JoinRoom adds user to the public room roomId. It returns false if there is no such public room.
// Callers are expected to leave the previous room first, otherwise it is left here.
func (r *Registry) JoinRoom(user types.UserId, endpoint types.Endpoint, roomId types.RoomId) bool {
	r.Lock()
	defer r.Unlock()
	room, ok := r.publicRooms[roomId]
	if !ok {
		return false
	}
	if current, ok := r.userRoom[user]; ok && current != room {
		r.logger.Warn("user joins a room without leaving the previous one", "user", user, "previous", current.id, "room", roomId)
		r.leave(user, current)
	}
	room.addMember(user, endpoint)
	r.userRoom[user] = room
	r.logger.Debug("room joined", "room", roomId, "user", user)
	return true
}

// LeaveRoom removes user from its room and returns that room, which may be empty now. An emptied public room is
// no longer public afterwards.
func (r *Registry) LeaveRoom(user types.UserId) (*Room, bool) {
	r.Lock()
	defer r.Unlock()
	room, ok := r.userRoom[user]
	if !ok {
		return nil, false
	}
	r.leave(user, room)
	return room, true
}

func (r *Registry) leave(user types.UserId, room *Room) {
	if err := room.removeMember(user); err != nil {
		if r.strict {
			panic(err)
		}
		r.logger.Error("inconsistent room membership (ignored)", "error", err)
	}
	delete(r.userRoom, user)
	r.logger.Debug("room left", "room", room.id, "user", user)
	if !room.IsEmpty() {
		return
	}
	if _, public := r.publicRooms[room.id]; public || !r.retainEmptyPrivate {
		r.remove(room)
	}
}

// LeaveRoomFrom is like LeaveRoom, but only leaves if endpoint is the endpoint user is currently bound to in its
// room. A session that was replaced by a newer one does not take the user out of the room.
func (r *Registry) LeaveRoomFrom(user types.UserId, endpoint types.Endpoint) (*Room, bool) {
	r.Lock()
	defer r.Unlock()
	room, ok := r.userRoom[user]
	if !ok {
		return nil, false
	}
	if current, ok := room.Endpoint(user); ok && current != endpoint {
		r.logger.Debug("stale endpoint, user stays in room", "room", room.id, "user", user, "endpoint", endpoint)
		return nil, false
	}
	r.leave(user, room)
	return room, true
}

// Rebind routes the notifications for user in its current room to endpoint. It returns false if user has no room.
func (r *Registry) Rebind(user types.UserId, endpoint types.Endpoint) bool {
	r.Lock()
	defer r.Unlock()
	room, ok := r.userRoom[user]
	if !ok {
		return false
	}
	if current, _ := room.Endpoint(user); current != endpoint {
		room.addMember(user, endpoint)
		r.logger.Debug("endpoint rebound", "room", room.id, "user", user, "endpoint", endpoint)
	}
	return true
}

// remove must only be called with the lock held and for empty rooms.
func (r *Registry) remove(room *Room) {
	if !room.IsEmpty() {
		panic(&InvariantViolation{RoomId: room.id, Members: room.Len()})
	}
	delete(r.publicRooms, room.id)
	delete(r.rooms, room.id)
	r.logger.Debug("room removed", "room", room.id)
}

// Publish makes the room of user public. It returns false if user has no room or the room already is public.
func (r *Registry) Publish(user types.UserId) bool {
	r.Lock()
	defer r.Unlock()
	room, ok := r.userRoom[user]
	if !ok {
		return false
	}
	if _, ok := r.publicRooms[room.id]; ok {
		return false
	}
	r.publicRooms[room.id] = room
	r.logger.Debug("room published", "room", room.id, "user", user)
	return true
}

// Unpublish makes the room of user private. It returns false if user has no room or the room is not public.
func (r *Registry) Unpublish(user types.UserId) bool {
	r.Lock()
	defer r.Unlock()
	room, ok := r.userRoom[user]
	if !ok {
		return false
	}
	if _, ok := r.publicRooms[room.id]; !ok {
		return false
	}
	delete(r.publicRooms, room.id)
	r.logger.Debug("room closed", "room", room.id, "user", user)
	return true
}

// PublicRoomIds returns the ids of all public rooms in ascending order.
func (r *Registry) PublicRoomIds() []types.RoomId {
	r.RLock()
	defer r.RUnlock()
	return slices.Sorted(maps.Keys(r.publicRooms))
}

func (r *Registry) RoomExists(roomId types.RoomId) bool {
	r.RLock()
	defer r.RUnlock()
	_, ok := r.publicRooms[roomId]
	return ok
}

func (r *Registry) IsPublic(room *Room) bool {
	r.RLock()
	defer r.RUnlock()
	public, ok := r.publicRooms[room.id]
	return ok && public == room
}

// PublicRoom looks up a public room by id. Private rooms are not addressable by id.
func (r *Registry) PublicRoom(roomId types.RoomId) (*Room, error) {
	r.RLock()
	defer r.RUnlock()
	room, ok := r.publicRooms[roomId]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrRoomNotFound, roomId)
	}
	return room, nil
}

// Sweep removes all empty rooms and returns how many were removed.
func (r *Registry) Sweep() int {
	r.Lock()
	defer r.Unlock()
	n := 0
	for _, room := range r.rooms {
		if room.IsEmpty() {
			r.remove(room)
			n++
		}
	}
	return n
}

type Stats struct {
	Rooms       int `json:"rooms"`
	PublicRooms int `json:"public_rooms"`
	Members     int `json:"members"`
}

func (r *Registry) Stats() Stats {
	r.RLock()
	defer r.RUnlock()
	return Stats{
		Rooms:       len(r.rooms),
		PublicRooms: len(r.publicRooms),
		Members:     len(r.userRoom),
	}
}

// Close drops all rooms and assignments. Room ids are not reused after Close.
func (r *Registry) Close() {
	r.Lock()
	defer r.Unlock()
	r.userRoom = make(map[types.UserId]*Room)
	r.publicRooms = make(map[types.RoomId]*Room)
	r.rooms = make(map[types.RoomId]*Room)
}
