package roomsvc

import (
	"context"
	"log"
	"sort"
	"sync"

	"github.com/hersh/arena/internal/protocol"
)

type subscriber struct {
	id int
	fn func(protocol.Event)
}

type room struct {
	id      string
	members map[string]bool
	doc     protocol.RoomState
	users   map[string]*protocol.PlayerState
	subs    []subscriber
}

// Memory is an in-process Service. Rooms are created on first join and
// released once they have neither members nor subscribers.
type Memory struct {
	mu      sync.RWMutex
	rooms   map[string]*room
	nextSub int
}

func NewMemory() *Memory {
	return &Memory{
		rooms: make(map[string]*room),
	}
}

func (m *Memory) CountMembers(_ context.Context, roomID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return 0, nil
	}
	return len(r.members), nil
}

func (m *Memory) Join(_ context.Context, roomID, accountID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roomLocked(roomID).members[accountID] = true
	return roomID, nil
}

func (m *Memory) JoinLimited(_ context.Context, roomID, accountID string, max int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.roomLocked(roomID)
	if !r.members[accountID] && len(r.members) >= max {
		if len(r.members) == 0 && len(r.subs) == 0 {
			delete(m.rooms, roomID)
		}
		return len(r.members), ErrRoomFull
	}
	r.members[accountID] = true
	return len(r.members), nil
}

// roomLocked returns roomID, creating it if needed.
func (m *Memory) roomLocked(roomID string) *room {
	r, ok := m.rooms[roomID]
	if !ok {
		r = &room{
			id:      roomID,
			members: make(map[string]bool),
			users:   make(map[string]*protocol.PlayerState),
		}
		m.rooms[roomID] = r
	}
	return r
}

func (m *Memory) Leave(_ context.Context, roomID, accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return ErrNoRoom
	}
	if !r.members[accountID] {
		return ErrNotJoined
	}
	delete(r.members, accountID)
	delete(r.users, accountID)
	if len(r.members) == 0 && len(r.subs) == 0 {
		delete(m.rooms, roomID)
	}
	return nil
}

func (m *Memory) Members(_ context.Context, roomID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return nil, nil
	}
	out := make([]string, 0, len(r.members))
	for id := range r.members {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) Rooms(_ context.Context) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.rooms))
	for id := range m.rooms {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (m *Memory) RoomDoc(_ context.Context, roomID string) (protocol.RoomState, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return protocol.RoomState{}, false, nil
	}
	return r.doc.Clone(), true, nil
}

func (m *Memory) PatchRoomDoc(_ context.Context, roomID string, patch protocol.RoomPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return ErrNoRoom
	}
	patch.Apply(&r.doc)
	return nil
}

func (m *Memory) MutateRoomDoc(_ context.Context, roomID string, fn func(doc *protocol.RoomState) bool) (protocol.RoomState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return protocol.RoomState{}, ErrNoRoom
	}
	doc := r.doc.Clone()
	if fn(&doc) {
		r.doc = doc
	}
	return r.doc.Clone(), nil
}

func (m *Memory) UserDoc(_ context.Context, roomID, accountID string) (protocol.PlayerState, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return protocol.PlayerState{}, false, nil
	}
	doc, ok := r.users[accountID]
	if !ok {
		return protocol.PlayerState{}, false, nil
	}
	return *doc, true, nil
}

// userDocLocked returns the stored document, creating a default one.
func (r *room) userDocLocked(accountID string) *protocol.PlayerState {
	doc, ok := r.users[accountID]
	if !ok {
		d := protocol.DefaultPlayerState(accountID)
		doc = &d
		r.users[accountID] = doc
	}
	return doc
}

func (m *Memory) PatchUserDoc(_ context.Context, roomID, accountID string, patch protocol.PlayerPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return ErrNoRoom
	}
	patch.Apply(r.userDocLocked(accountID))
	return nil
}

func (m *Memory) ReplaceUserDoc(_ context.Context, roomID, accountID string, doc protocol.PlayerState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return ErrNoRoom
	}
	doc.AccountID = accountID
	r.users[accountID] = &doc
	return nil
}

func (m *Memory) MutateUserDoc(_ context.Context, roomID, accountID string, fn func(doc *protocol.PlayerState, exists bool) bool) (protocol.PlayerState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return protocol.PlayerState{}, ErrNoRoom
	}
	cur, exists := r.users[accountID]
	doc := protocol.DefaultPlayerState(accountID)
	if exists {
		doc = *cur
	}
	if fn(&doc, exists) && r.members[accountID] {
		doc.AccountID = accountID
		r.users[accountID] = &doc
	}
	return doc, nil
}

func (m *Memory) UserDocs(_ context.Context, roomID string) ([]protocol.PlayerState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return nil, nil
	}
	out := make([]protocol.PlayerState, 0, len(r.members))
	for id := range r.members {
		if doc, ok := r.users[id]; ok {
			out = append(out, *doc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out, nil
}

// Broadcast delivers ev to every subscriber of the room. Subscribers run on
// the caller's goroutine and must not block.
func (m *Memory) Broadcast(_ context.Context, roomID string, ev protocol.Event) error {
	m.mu.RLock()
	r, ok := m.rooms[roomID]
	var subs []subscriber
	if ok {
		subs = append(subs, r.subs...)
	}
	m.mu.RUnlock()
	if !ok {
		return ErrNoRoom
	}

	for _, s := range subs {
		deliver(s, ev)
	}
	return nil
}

func deliver(s subscriber, ev protocol.Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[roomsvc] subscriber %d panicked on %s: %v", s.id, ev.Kind(), r)
		}
	}()
	s.fn(ev)
}

// Subscribe registers fn for events of roomID. Subscribing before anyone
// has joined creates an empty room.
func (m *Memory) Subscribe(roomID string, fn func(protocol.Event)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.roomLocked(roomID)
	m.nextSub++
	id := m.nextSub
	r.subs = append(r.subs, subscriber{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			r, ok := m.rooms[roomID]
			if !ok {
				return
			}
			for i, s := range r.subs {
				if s.id == id {
					r.subs = append(r.subs[:i], r.subs[i+1:]...)
					break
				}
			}
			if len(r.members) == 0 && len(r.subs) == 0 {
				delete(m.rooms, roomID)
			}
		})
	}
}
