package core

import "github.com/dkeye/groupcall/internal/domain"

// Broadcaster is the transport surface the event router drives.
// Emits never block and never report delivery; a missing target is a no-op.
type Broadcaster interface {
	EmitTo(sid domain.ConnID, event string, payload any)
	EmitRoom(room domain.RoomID, event string, payload any)
	EmitAll(event string, payload any)

	JoinChannel(sid domain.ConnID, room domain.RoomID)
	LeaveChannel(sid domain.ConnID, room domain.RoomID)
	LeaveAll(sid domain.ConnID) []domain.RoomID
	InChannel(sid domain.ConnID, room domain.RoomID) bool
	ChannelsOf(sid domain.ConnID) []domain.RoomID

	// Close tears down the transport connection; its disconnect
	// is then reported through the ordinary lifecycle path.
	Close(sid domain.ConnID)
}
