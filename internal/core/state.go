package core

// ConnState is the lifecycle position of one transport connection.
type ConnState int

const (
	StateUnknown ConnState = iota
	StateConnected
	StateRegistered
	StateInRoom
	StateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateRegistered:
		return "registered"
	case StateInRoom:
		return "in_room"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// CanTransition reports whether s may move to next.
// Joining and hosting create the user entry themselves, so Connected may go
// straight to InRoom. Disconnected is terminal.
func (s ConnState) CanTransition(next ConnState) bool {
	switch s {
	case StateConnected:
		return next == StateRegistered || next == StateInRoom || next == StateDisconnected
	case StateRegistered:
		return next == StateRegistered || next == StateInRoom || next == StateDisconnected
	case StateInRoom:
		return next == StateInRoom || next == StateRegistered || next == StateDisconnected
	default:
		return false
	}
}
