package orch

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/groupcall/internal/core"
	"github.com/dkeye/groupcall/internal/domain"
	"github.com/rs/zerolog/log"
)

func (o *Orchestrator) registerCall(sid domain.ConnID, data json.RawMessage) error {
	var p callRegisterPayload
	if err := o.decode(data, &p); err != nil {
		return err
	}
	if err := o.requireTransition(sid, core.StateInRoom); err != nil {
		return err
	}
	room, err := o.Registry.CreateRoom(domain.RoomFields{
		Type:         p.Type,
		HostPeerID:   p.PeerID,
		HostName:     p.Username,
		HostSocketID: sid,
	})
	if err != nil {
		return err
	}
	if err := o.Registry.Transition(sid, core.StateInRoom); err != nil {
		return err
	}
	o.Out.JoinChannel(sid, room.ID)
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(room.ID)).Str("type", room.Type).Msg("group call registered")

	o.broadcastRooms(o.Registry.ListRooms())
	return nil
}

func (o *Orchestrator) joinCall(sid domain.ConnID, data json.RawMessage) error {
	var p joinRequestPayload
	if err := o.decode(data, &p); err != nil {
		return err
	}
	if err := checkSocket(sid, p.SocketID); err != nil {
		return err
	}
	roomID := domain.RoomID(p.RoomID)
	if _, ok := o.Registry.Room(roomID); !ok {
		return reject(CodeRoomNotFound, fmt.Errorf("room %s not found", roomID))
	}
	if err := o.requireTransition(sid, core.StateInRoom); err != nil {
		return err
	}
	u, err := domain.NewUser(p.Username, sid)
	if err != nil {
		return err
	}
	if err := u.SetRole(domain.Role(p.Role)); err != nil {
		return err
	}
	u.PeerID = p.PeerID
	u.StreamID = p.StreamID
	if err := o.Registry.AddUser(*u); err != nil {
		return err
	}
	if err := o.Registry.Transition(sid, core.StateInRoom); err != nil {
		return err
	}
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(roomID)).Str("peer", p.PeerID).Msg("group call join request")

	o.Out.EmitRoom(roomID, EventGroupCallJoinRequest, JoinRequestForward{
		Username: u.Username,
		PeerID:   u.PeerID,
		StreamID: u.StreamID,
		Role:     u.Role,
		SocketID: sid,
	})
	o.Out.JoinChannel(sid, roomID)
	o.broadcastUsers(o.Registry.ListUsers())
	return nil
}

func (o *Orchestrator) userLeft(sid domain.ConnID, data json.RawMessage) error {
	var p userLeftPayload
	if err := o.decode(data, &p); err != nil {
		return err
	}
	roomID := domain.RoomID(p.RoomID)
	if err := o.requireMember(sid, roomID); err != nil {
		return err
	}
	o.Out.LeaveChannel(sid, roomID)
	if len(o.Out.ChannelsOf(sid)) == 0 {
		if err := o.Registry.Transition(sid, core.StateRegistered); err != nil {
			return err
		}
	}
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(roomID)).Msg("user left group call")

	o.Out.EmitRoom(roomID, EventUserLeft, UserLeftNotice{StreamID: p.StreamID})
	return nil
}

func (o *Orchestrator) closedByHost(sid domain.ConnID, data json.RawMessage) error {
	var p closedByHostPayload
	if err := o.decode(data, &p); err != nil {
		return err
	}
	rooms := o.Registry.RemoveRoomsByPeerID(p.PeerID)
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("peer", p.PeerID).Msg("group call closed by host")

	o.broadcastRooms(rooms)
	return nil
}
