package domain

type RoomID string

// Room is one active group call. JSON keys are the client contract:
// "peerId", "hostName" and "socketId" all describe the host.
type Room struct {
	ID           RoomID `json:"roomId"`
	Type         string `json:"type"`
	HostPeerID   string `json:"peerId"`
	HostName     string `json:"hostName"`
	HostSocketID ConnID `json:"socketId"`
}

// RoomFields is everything a room needs except its generated id.
type RoomFields struct {
	Type         string
	HostPeerID   string
	HostName     string
	HostSocketID ConnID
}
