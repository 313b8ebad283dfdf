package app

import (
	"sync"

	"github.com/dkeye/groupcall/internal/core"
	"github.com/dkeye/groupcall/internal/domain"
)

// ChannelManager owns the room-scoped broadcast groups. A channel exists
// while it has members; emitting to a missing one delivers nothing.
type ChannelManager struct {
	mu       sync.RWMutex
	channels map[domain.RoomID]core.ChannelService
}

type ChannelInfo struct {
	Room        domain.RoomID `json:"roomId"`
	MemberCount int           `json:"memberCount"`
}

func NewChannelManager() *ChannelManager {
	return &ChannelManager{channels: make(map[domain.RoomID]core.ChannelService)}
}

func (m *ChannelManager) Join(room domain.RoomID, sid domain.ConnID, conn core.SignalConnection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[room]
	if !ok {
		ch = core.NewChannelService(room)
		m.channels[room] = ch
	}
	ch.AddMember(sid, conn)
}

func (m *ChannelManager) Leave(room domain.RoomID, sid domain.ConnID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[room]
	if !ok {
		return
	}
	ch.RemoveMember(sid)
	if ch.MemberCount() == 0 {
		delete(m.channels, room)
	}
}

// LeaveAll removes sid from every channel and returns the rooms it left.
func (m *ChannelManager) LeaveAll(sid domain.ConnID) []domain.RoomID {
	m.mu.Lock()
	defer m.mu.Unlock()
	var left []domain.RoomID
	for room, ch := range m.channels {
		if !ch.Has(sid) {
			continue
		}
		ch.RemoveMember(sid)
		left = append(left, room)
		if ch.MemberCount() == 0 {
			delete(m.channels, room)
		}
	}
	return left
}

func (m *ChannelManager) Has(room domain.RoomID, sid domain.ConnID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[room]
	return ok && ch.Has(sid)
}

// ChannelsOf lists the rooms sid currently belongs to.
func (m *ChannelManager) ChannelsOf(sid domain.ConnID) []domain.RoomID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.RoomID
	for room, ch := range m.channels {
		if ch.Has(sid) {
			out = append(out, room)
		}
	}
	return out
}

// Broadcast fans data out to the room's members.
func (m *ChannelManager) Broadcast(room domain.RoomID, data core.Frame) core.PublishResult {
	m.mu.RLock()
	ch, ok := m.channels[room]
	m.mu.RUnlock()
	if !ok {
		return core.PublishResult{}
	}
	return ch.Broadcast(data)
}

func (m *ChannelManager) List() []ChannelInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ChannelInfo, 0, len(m.channels))
	for room, ch := range m.channels {
		out = append(out, ChannelInfo{Room: room, MemberCount: ch.MemberCount()})
	}
	return out
}
