package app

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/groupcall/internal/core"
	"github.com/dkeye/groupcall/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	ErrConnectionExists  = errors.New("connection already live")
	ErrUnknownConnection = errors.New("unknown connection")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrUnknownUser       = errors.New("unknown user")
	ErrUserLimit         = errors.New("user limit reached")
	ErrRoomLimit         = errors.New("room limit reached")
)

// Limits caps registry growth. Zero means unlimited.
type Limits struct {
	MaxUsers int
	MaxRooms int
}

type connEntry struct {
	state    core.ConnState
	lastSeen time.Time
}

// Registry is the single owner of presence state: live connections and their
// lifecycle state, users, and group call rooms. Users and rooms keep insertion
// order, which is the order clients see in broadcasts.
type Registry struct {
	mu     sync.RWMutex
	conns  map[domain.ConnID]*connEntry
	users  []*domain.User
	rooms  []*domain.Room
	limits Limits

	now   func() time.Time
	newID func() string
}

func NewRegistry(limits Limits) *Registry {
	return &Registry{
		conns:  make(map[domain.ConnID]*connEntry),
		limits: limits,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

func (r *Registry) Connect(sid domain.ConnID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[sid]; ok {
		return fmt.Errorf("connect %s: %w", sid, ErrConnectionExists)
	}
	r.conns[sid] = &connEntry{state: core.StateConnected, lastSeen: r.now()}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("connection opened")
	return nil
}

// State returns the connection's lifecycle state; unknown ids report
// StateDisconnected.
func (r *Registry) State(sid domain.ConnID) core.ConnState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.conns[sid]; ok {
		return e.state
	}
	return core.StateDisconnected
}

func (r *Registry) Transition(sid domain.ConnID, next core.ConnState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[sid]
	if !ok {
		return fmt.Errorf("transition %s: %w", sid, ErrUnknownConnection)
	}
	if !e.state.CanTransition(next) {
		return fmt.Errorf("%s -> %s: %w", e.state, next, ErrInvalidTransition)
	}
	if e.state != next {
		log.Debug().Str("module", "app.registry").Str("sid", string(sid)).Str("from", e.state.String()).Str("to", next.String()).Msg("state changed")
	}
	e.state = next
	return nil
}

// Touch marks the connection as seen now.
func (r *Registry) Touch(sid domain.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.conns[sid]; ok {
		e.lastSeen = r.now()
	}
}

// Stale lists connections not seen within idle of now.
func (r *Registry) Stale(now time.Time, idle time.Duration) []domain.ConnID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.ConnID
	for sid, e := range r.conns {
		if now.Sub(e.lastSeen) > idle {
			out = append(out, sid)
		}
	}
	return out
}

// AddUser stores u, or merges it into the entry already held for the same
// connection so a connection never owns two users.
func (r *Registry) AddUser(u domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if existing.SocketID == u.SocketID {
			existing.Merge(u)
			log.Info().Str("module", "app.registry").Str("sid", string(u.SocketID)).Str("username", existing.Username).Msg("updated user")
			return nil
		}
	}
	if r.limits.MaxUsers > 0 && len(r.users) >= r.limits.MaxUsers {
		return ErrUserLimit
	}
	u.ScreenShare = false
	r.users = append(r.users, &u)
	log.Info().Str("module", "app.registry").Str("sid", string(u.SocketID)).Str("username", u.Username).Int("users", len(r.users)).Msg("added user")
	return nil
}

func (r *Registry) User(sid domain.ConnID) (domain.User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.users {
		if u.SocketID == sid {
			return *u, true
		}
	}
	return domain.User{}, false
}

// RemoveUsersByConnection drops every user tied to sid and returns the rest.
func (r *Registry) RemoveUsersByConnection(sid domain.ConnID) []domain.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeUsersLocked(sid)
	return r.usersSnapshotLocked()
}

func (r *Registry) removeUsersLocked(sid domain.ConnID) int {
	kept := r.users[:0]
	removed := 0
	for _, u := range r.users {
		if u.SocketID == sid {
			removed++
			continue
		}
		kept = append(kept, u)
	}
	clear(r.users[len(kept):])
	r.users = kept
	return removed
}

// SetScreenShare makes sid the only sharer when sharing is true, and clears
// every flag when it is false.
func (r *Registry) SetScreenShare(sid domain.ConnID, sharing bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sharing {
		found := false
		for _, u := range r.users {
			if u.SocketID == sid {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("screen share %s: %w", sid, ErrUnknownUser)
		}
	}
	for _, u := range r.users {
		u.ScreenShare = sharing && u.SocketID == sid
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Bool("sharing", sharing).Msg("screen share updated")
	return nil
}

// CreateRoom stores a room under a fresh id that no live room uses.
func (r *Registry) CreateRoom(f domain.RoomFields) (domain.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.limits.MaxRooms > 0 && len(r.rooms) >= r.limits.MaxRooms {
		return domain.Room{}, ErrRoomLimit
	}
	id := domain.RoomID(r.newID())
	for r.roomIndexLocked(id) >= 0 {
		id = domain.RoomID(r.newID())
	}
	room := &domain.Room{
		ID:           id,
		Type:         f.Type,
		HostPeerID:   f.HostPeerID,
		HostName:     f.HostName,
		HostSocketID: f.HostSocketID,
	}
	r.rooms = append(r.rooms, room)
	log.Info().Str("module", "app.registry").Str("sid", string(f.HostSocketID)).Str("room", string(id)).Int("rooms", len(r.rooms)).Msg("room created")
	return *room, nil
}

func (r *Registry) Room(id domain.RoomID) (domain.Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i := r.roomIndexLocked(id); i >= 0 {
		return *r.rooms[i], true
	}
	return domain.Room{}, false
}

func (r *Registry) roomIndexLocked(id domain.RoomID) int {
	for i, room := range r.rooms {
		if room.ID == id {
			return i
		}
	}
	return -1
}

// RemoveRoomsByPeerID drops the rooms hosted by peerID and returns the rest.
func (r *Registry) RemoveRoomsByPeerID(peerID string) []domain.Room {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeRoomsLocked(func(room *domain.Room) bool { return room.HostPeerID == peerID })
	return r.roomsSnapshotLocked()
}

// RemoveRoomsByConnection drops the rooms hosted on sid and returns the rest.
func (r *Registry) RemoveRoomsByConnection(sid domain.ConnID) []domain.Room {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeRoomsLocked(func(room *domain.Room) bool { return room.HostSocketID == sid })
	return r.roomsSnapshotLocked()
}

func (r *Registry) removeRoomsLocked(match func(*domain.Room) bool) []domain.RoomID {
	var removed []domain.RoomID
	kept := r.rooms[:0]
	for _, room := range r.rooms {
		if match(room) {
			removed = append(removed, room.ID)
			continue
		}
		kept = append(kept, room)
	}
	clear(r.rooms[len(kept):])
	r.rooms = kept
	if len(removed) > 0 {
		log.Info().Str("module", "app.registry").Int("removed", len(removed)).Int("rooms", len(r.rooms)).Msg("rooms removed")
	}
	return removed
}

// Disconnect is the terminal transition: the connection, its users and the
// rooms it hosts are removed. It returns the remaining users and rooms.
func (r *Registry) Disconnect(sid domain.ConnID) ([]domain.User, []domain.Room) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, sid)
	users := r.removeUsersLocked(sid)
	rooms := r.removeRoomsLocked(func(room *domain.Room) bool { return room.HostSocketID == sid })
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Int("users_removed", users).Int("rooms_removed", len(rooms)).Msg("connection closed")
	return r.usersSnapshotLocked(), r.roomsSnapshotLocked()
}

func (r *Registry) ListUsers() []domain.User {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.usersSnapshotLocked()
}

func (r *Registry) ListRooms() []domain.Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.roomsSnapshotLocked()
}

func (r *Registry) usersSnapshotLocked() []domain.User {
	out := make([]domain.User, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, *u)
	}
	return out
}

func (r *Registry) roomsSnapshotLocked() []domain.Room {
	out := make([]domain.Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		out = append(out, *room)
	}
	return out
}
