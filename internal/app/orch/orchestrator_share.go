package orch

import (
	"encoding/json"

	"github.com/dkeye/groupcall/internal/domain"
	"github.com/rs/zerolog/log"
)

func (o *Orchestrator) startShare(sid domain.ConnID, data json.RawMessage) error {
	var p startSharePayload
	if err := o.decode(data, &p); err != nil {
		return err
	}
	if err := checkSocket(sid, p.SocketID); err != nil {
		return err
	}
	roomID := domain.RoomID(p.RoomID)
	if err := o.requireMember(sid, roomID); err != nil {
		return err
	}
	if err := o.Registry.SetScreenShare(sid, true); err != nil {
		return err
	}
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(roomID)).Msg("screen share started")

	o.broadcastUsers(o.Registry.ListUsers())
	o.Out.EmitRoom(roomID, EventStartShareScreen, ShareScreenNotice{SocketID: sid})
	return nil
}

func (o *Orchestrator) stopShare(sid domain.ConnID, data json.RawMessage) error {
	var p stopSharePayload
	if err := o.decode(data, &p); err != nil {
		return err
	}
	roomID := domain.RoomID(p.RoomID)
	if err := o.requireMember(sid, roomID); err != nil {
		return err
	}
	if err := o.Registry.SetScreenShare(sid, false); err != nil {
		return err
	}
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(roomID)).Msg("screen share stopped")

	o.broadcastUsers(o.Registry.ListUsers())
	o.Out.EmitRoom(roomID, EventStopShareScreen, ShareScreenNotice{SocketID: sid})
	return nil
}
