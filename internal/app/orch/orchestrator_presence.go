package orch

import (
	"encoding/json"

	"github.com/dkeye/groupcall/internal/core"
	"github.com/dkeye/groupcall/internal/domain"
	"github.com/rs/zerolog/log"
)

// OnConnect registers a new transport connection and acknowledges it.
func (o *Orchestrator) OnConnect(sid domain.ConnID) error {
	return o.Admit(sid, nil)
}

// Admit registers sid and runs attach before acknowledging it, all under the
// router lock, so no broadcast can reach the connection ahead of its
// acknowledgment. A failed attach leaves no trace in the registry.
func (o *Orchestrator) Admit(sid domain.ConnID, attach func() error) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.Registry.Connect(sid); err != nil {
		return err
	}
	if attach != nil {
		if err := attach(); err != nil {
			o.Registry.Disconnect(sid)
			return err
		}
	}
	o.Out.EmitTo(sid, EventConnection, nil)
	return nil
}

// OnDisconnect removes everything tied to sid and tells everyone.
func (o *Orchestrator) OnDisconnect(sid domain.ConnID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.Registry.State(sid) == core.StateDisconnected {
		return
	}
	left := o.Out.LeaveAll(sid)
	users, rooms := o.Registry.Disconnect(sid)
	log.Info().Str("module", "orch").Str("sid", string(sid)).Int("channels_left", len(left)).Msg("user disconnected")

	o.broadcastUsers(users)
	o.broadcastRooms(rooms)
}

func (o *Orchestrator) registerUser(sid domain.ConnID, data json.RawMessage) error {
	var p registerUserPayload
	if err := o.decode(data, &p); err != nil {
		return err
	}
	if err := checkSocket(sid, p.SocketID); err != nil {
		return err
	}
	u, err := domain.NewUser(p.Username, sid)
	if err != nil {
		return err
	}
	st := o.Registry.State(sid)
	if err := o.Registry.AddUser(*u); err != nil {
		return err
	}
	if st == core.StateConnected {
		if err := o.Registry.Transition(sid, core.StateRegistered); err != nil {
			return err
		}
	}
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("username", u.Username).Msg("registered new user")

	o.broadcastUsers(o.Registry.ListUsers())
	o.broadcastRooms(o.Registry.ListRooms())
	return nil
}

// OnPeerOpen and OnPeerClose receive the negotiation endpoint's lifecycle.
// Presence is keyed by event connections, so these only log.
func (o *Orchestrator) OnPeerOpen(peerID string) {
	log.Info().Str("module", "orch").Str("peer", peerID).Msg("peer connected to negotiation server")
}

func (o *Orchestrator) OnPeerClose(peerID string) {
	log.Info().Str("module", "orch").Str("peer", peerID).Msg("peer disconnected from negotiation server")
}
