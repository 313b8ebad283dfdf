package signal

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/dkeye/groupcall/internal/app"
	"github.com/dkeye/groupcall/internal/core"
	"github.com/dkeye/groupcall/internal/domain"
	"github.com/rs/zerolog/log"
)

var ErrDuplicateConn = errors.New("connection id in use")

// Envelope is the frame format in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func Encode(event string, payload any) (core.Frame, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

// Hub keeps the live connections and implements core.Broadcaster on top of
// them and the channel manager.
type Hub struct {
	mu       sync.RWMutex
	conns    map[domain.ConnID]core.SignalConnection
	Channels *app.ChannelManager
	Policy   app.Policy
}

func NewHub(channels *app.ChannelManager, policy app.Policy) *Hub {
	if policy == nil {
		policy = app.SimplePolicy{Action: app.DropFrame}
	}
	return &Hub{
		conns:    make(map[domain.ConnID]core.SignalConnection),
		Channels: channels,
		Policy:   policy,
	}
}

func (h *Hub) Attach(sid domain.ConnID, conn core.SignalConnection) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[sid]; ok {
		return ErrDuplicateConn
	}
	h.conns[sid] = conn
	log.Info().Str("module", "signal").Str("sid", string(sid)).Int("conns", len(h.conns)).Msg("connection attached")
	return nil
}

// Detach forgets sid if it is still bound to conn.
func (h *Hub) Detach(sid domain.ConnID, conn core.SignalConnection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.conns[sid]; ok && cur == conn {
		delete(h.conns, sid)
		log.Info().Str("module", "signal").Str("sid", string(sid)).Int("conns", len(h.conns)).Msg("connection detached")
	}
}

func (h *Hub) Has(sid domain.ConnID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[sid]
	return ok
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) lookup(sid domain.ConnID) (core.SignalConnection, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[sid]
	return c, ok
}

func (h *Hub) encode(event string, payload any) (core.Frame, bool) {
	f, err := Encode(event, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("event", event).Msg("encode")
		return nil, false
	}
	return f, true
}

func (h *Hub) EmitTo(sid domain.ConnID, event string, payload any) {
	f, ok := h.encode(event, payload)
	if !ok {
		return
	}
	conn, ok := h.lookup(sid)
	if !ok {
		return
	}
	if err := conn.TrySend(f); err != nil {
		h.onDropped(err, sid)
	}
}

func (h *Hub) EmitRoom(room domain.RoomID, event string, payload any) {
	f, ok := h.encode(event, payload)
	if !ok {
		return
	}
	res := h.Channels.Broadcast(room, f)
	log.Debug().Str("module", "signal").Str("room", string(room)).Str("event", event).Int("sent_to", res.SendTo).Msg("room emit")
	h.onDropped(core.ErrBackpressure, res.Dropped...)
}

func (h *Hub) EmitAll(event string, payload any) {
	f, ok := h.encode(event, payload)
	if !ok {
		return
	}
	h.mu.RLock()
	var dropped []domain.ConnID
	for sid, conn := range h.conns {
		if err := conn.TrySend(f); err != nil && !errors.Is(err, core.ErrConnClosed) {
			dropped = append(dropped, sid)
		}
	}
	h.mu.RUnlock()
	h.onDropped(core.ErrBackpressure, dropped...)
}

func (h *Hub) onDropped(err error, sids ...domain.ConnID) {
	for _, sid := range sids {
		if errors.Is(err, core.ErrConnClosed) {
			continue
		}
		switch h.Policy.OnBackPressure(sid) {
		case app.KickMember:
			log.Warn().Str("module", "signal").Str("sid", string(sid)).Msg("slow consumer kicked")
			h.Close(sid)
		case app.DropFrame, app.NoAction:
			log.Warn().Str("module", "signal").Str("sid", string(sid)).Msg("frame dropped")
		}
	}
}

func (h *Hub) JoinChannel(sid domain.ConnID, room domain.RoomID) {
	conn, ok := h.lookup(sid)
	if !ok {
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Str("room", string(room)).Msg("join channel: no connection")
		return
	}
	h.Channels.Join(room, sid, conn)
}

func (h *Hub) LeaveChannel(sid domain.ConnID, room domain.RoomID) {
	h.Channels.Leave(room, sid)
}

func (h *Hub) LeaveAll(sid domain.ConnID) []domain.RoomID {
	return h.Channels.LeaveAll(sid)
}

func (h *Hub) InChannel(sid domain.ConnID, room domain.RoomID) bool {
	return h.Channels.Has(room, sid)
}

func (h *Hub) ChannelsOf(sid domain.ConnID) []domain.RoomID {
	return h.Channels.ChannelsOf(sid)
}

func (h *Hub) Close(sid domain.ConnID) {
	if conn, ok := h.lookup(sid); ok {
		conn.Close()
	}
}
