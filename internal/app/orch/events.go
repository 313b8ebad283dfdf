package orch

import "github.com/dkeye/groupcall/internal/domain"

// Event names are the client wire contract.
const (
	EventConnection           = "connection"
	EventBroadcast            = "broadcast"
	EventError                = "error"
	EventPing                 = "ping"
	EventPong                 = "pong"
	EventRegisterNewUser      = "register-new-user"
	EventGroupCallRegister    = "group-call-register"
	EventGroupCallJoinRequest = "group-call-join-request"
	EventStartShareScreen     = "group-call-start-share-screen"
	EventStopShareScreen      = "group-call-stop-share-screen"
	EventUserLeft             = "group-call-user-left"
	EventClosedByHost         = "group-call-closed-by-host"
)

const (
	BroadcastActiveUsers    = "ACTIVE_USERS"
	BroadcastGroupCallRooms = "GROUP_CALL_ROOMS"
)

type ActiveUsersBroadcast struct {
	Event       string        `json:"event"`
	ActiveUsers []domain.User `json:"activeUsers"`
}

type GroupCallRoomsBroadcast struct {
	Event          string        `json:"event"`
	GroupCallRooms []domain.Room `json:"groupCallRooms"`
}

// inbound payloads

type registerUserPayload struct {
	Username string `json:"username" validate:"required,max=64"`
	SocketID string `json:"socketId" validate:"omitempty,max=64"`
}

type callRegisterPayload struct {
	Type     string `json:"type" validate:"required,max=32"`
	PeerID   string `json:"peerId" validate:"required,max=128"`
	Username string `json:"username" validate:"required,max=64"`
}

type joinRequestPayload struct {
	Username string `json:"username" validate:"required,max=64"`
	SocketID string `json:"socketId" validate:"omitempty,max=64"`
	PeerID   string `json:"peerId" validate:"required,max=128"`
	StreamID string `json:"streamId" validate:"required,max=128"`
	Role     string `json:"role" validate:"omitempty,max=32"`
	RoomID   string `json:"roomId" validate:"required,max=64"`
}

type startSharePayload struct {
	SocketID string `json:"socketId" validate:"omitempty,max=64"`
	RoomID   string `json:"roomId" validate:"required,max=64"`
}

type stopSharePayload struct {
	RoomID string `json:"roomId" validate:"required,max=64"`
}

type userLeftPayload struct {
	RoomID   string `json:"roomId" validate:"required,max=64"`
	StreamID string `json:"streamId" validate:"required,max=128"`
}

type closedByHostPayload struct {
	PeerID string `json:"peerId" validate:"required,max=128"`
}

// outbound room-scoped payloads

type JoinRequestForward struct {
	Username string        `json:"username"`
	PeerID   string        `json:"peerId"`
	StreamID string        `json:"streamId"`
	Role     domain.Role   `json:"role"`
	SocketID domain.ConnID `json:"socketId"`
}

type ShareScreenNotice struct {
	SocketID domain.ConnID `json:"socketId"`
}

type UserLeftNotice struct {
	StreamID string `json:"streamId"`
}
