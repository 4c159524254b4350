package room

import (
	"fmt"
	"iter"
	"slices"
	"sync"

	"github.com/tcriess/geonote-chat/types"
)

// A Room groups users that share one accumulated prompt. Membership is only changed by the Registry, the prompt
// can be appended to by any member at any time.
type Room struct {
	id types.RoomId

	// user -> endpoint, guarded by mu
	members map[types.UserId]types.Endpoint
	mu      sync.RWMutex

	prompt Accumulator
}

func newRoom(id types.RoomId) *Room {
	return &Room{
		id:      id,
		members: make(map[types.UserId]types.Endpoint),
	}
}

func (r *Room) Id() types.RoomId {
	return r.id
}

func (r *Room) addMember(user types.UserId, endpoint types.Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[user] = endpoint
}

func (r *Room) removeMember(user types.UserId) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[user]; !ok {
		return fmt.Errorf("%w: user %d, room %d", ErrNotAMember, user, r.id)
	}
	delete(r.members, user)
	return nil
}

// Endpoint returns the endpoint notifications for user are delivered to.
func (r *Room) Endpoint(user types.UserId) (types.Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	endpoint, ok := r.members[user]
	return endpoint, ok
}

// AppendText adds a line to the shared prompt and returns the complete prompt including the new line.
func (r *Room) AppendText(fragment string) string {
	return r.prompt.Append(fragment)
}

// Text returns the current prompt.
func (r *Room) Text() string {
	return r.prompt.String()
}

// Endpoints returns the endpoints of all members at the time of the call. The sequence can be iterated more than
// once and is not affected by later membership changes.
func (r *Room) Endpoints() iter.Seq[types.Endpoint] {
	return r.endpoints(func(types.UserId) bool { return true })
}

// EndpointsExcept is like Endpoints, leaving out the endpoint of user.
func (r *Room) EndpointsExcept(user types.UserId) iter.Seq[types.Endpoint] {
	return r.endpoints(func(u types.UserId) bool { return u != user })
}

func (r *Room) endpoints(keep func(types.UserId) bool) iter.Seq[types.Endpoint] {
	r.mu.RLock()
	snapshot := make([]types.Endpoint, 0, len(r.members))
	for user, endpoint := range r.members {
		if keep(user) {
			snapshot = append(snapshot, endpoint)
		}
	}
	r.mu.RUnlock()
	slices.Sort(snapshot)
	return slices.Values(snapshot)
}

func (r *Room) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

func (r *Room) IsEmpty() bool {
	return r.Len() == 0
}
