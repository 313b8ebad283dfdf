package core

import (
	"errors"
	"sync"

	"github.com/dkeye/groupcall/internal/domain"
	"github.com/rs/zerolog/log"
)

// PublishResult reports delivery stats/backpressure to the caller. Members
// whose connection is already closing are neither sent to nor dropped.
type PublishResult struct {
	SendTo  int
	Dropped []domain.ConnID
}

// ChannelService is the membership set behind one room-scoped broadcast group.
// It never closes adapter-owned resources.
type ChannelService interface {
	Room() domain.RoomID
	MemberCount() int
	Members() []domain.ConnID
	Has(sid domain.ConnID) bool

	AddMember(sid domain.ConnID, conn SignalConnection)
	RemoveMember(sid domain.ConnID)
	Broadcast(data Frame) PublishResult
}

// channelImpl is a threadsafe in-memory channel.
type channelImpl struct {
	room  domain.RoomID
	mu    sync.RWMutex
	bySID map[domain.ConnID]SignalConnection
}

func NewChannelService(room domain.RoomID) ChannelService {
	return &channelImpl{
		room:  room,
		bySID: make(map[domain.ConnID]SignalConnection),
	}
}

func (c *channelImpl) Room() domain.RoomID { return c.room }

func (c *channelImpl) MemberCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.bySID)
}

func (c *channelImpl) Members() []domain.ConnID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.ConnID, 0, len(c.bySID))
	for sid := range c.bySID {
		out = append(out, sid)
	}
	return out
}

func (c *channelImpl) Has(sid domain.ConnID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.bySID[sid]
	return ok
}

func (c *channelImpl) AddMember(sid domain.ConnID, conn SignalConnection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bySID[sid] = conn
	log.Debug().Str("module", "core.channel").Str("sid", string(sid)).Str("room", string(c.room)).Msg("member added")
}

func (c *channelImpl) RemoveMember(sid domain.ConnID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.bySID, sid)
	log.Debug().Str("module", "core.channel").Str("sid", string(sid)).Str("room", string(c.room)).Msg("member removed")
}

func (c *channelImpl) Broadcast(data Frame) PublishResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	res := PublishResult{}
	for sid, conn := range c.bySID {
		if err := conn.TrySend(data); err != nil {
			if !errors.Is(err, ErrConnClosed) {
				res.Dropped = append(res.Dropped, sid)
			}
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "core.channel").Str("room", string(c.room)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}
