package orch

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/dkeye/groupcall/internal/app"
	"github.com/dkeye/groupcall/internal/domain"
)

type emit struct {
	scope   string // "to", "room", "all"
	target  string
	event   string
	payload json.RawMessage
}

// fakeBroadcaster records every emit and tracks channel membership.
type fakeBroadcaster struct {
	emits    []emit
	channels map[domain.RoomID]map[domain.ConnID]bool
	closed   []domain.ConnID
}

func newFakeBroadcaster() *fakeBroadcaster {
	return &fakeBroadcaster{channels: make(map[domain.RoomID]map[domain.ConnID]bool)}
}

func (f *fakeBroadcaster) record(scope, target, event string, payload any) {
	b, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	f.emits = append(f.emits, emit{scope: scope, target: target, event: event, payload: b})
}

func (f *fakeBroadcaster) EmitTo(sid domain.ConnID, event string, payload any) {
	f.record("to", string(sid), event, payload)
}

func (f *fakeBroadcaster) EmitRoom(room domain.RoomID, event string, payload any) {
	f.record("room", string(room), event, payload)
}

func (f *fakeBroadcaster) EmitAll(event string, payload any) {
	f.record("all", "", event, payload)
}

func (f *fakeBroadcaster) JoinChannel(sid domain.ConnID, room domain.RoomID) {
	if f.channels[room] == nil {
		f.channels[room] = make(map[domain.ConnID]bool)
	}
	f.channels[room][sid] = true
}

func (f *fakeBroadcaster) LeaveChannel(sid domain.ConnID, room domain.RoomID) {
	delete(f.channels[room], sid)
}

func (f *fakeBroadcaster) LeaveAll(sid domain.ConnID) []domain.RoomID {
	left := f.ChannelsOf(sid)
	for _, room := range left {
		delete(f.channels[room], sid)
	}
	return left
}

func (f *fakeBroadcaster) InChannel(sid domain.ConnID, room domain.RoomID) bool {
	return f.channels[room][sid]
}

func (f *fakeBroadcaster) ChannelsOf(sid domain.ConnID) []domain.RoomID {
	var out []domain.RoomID
	for room, members := range f.channels {
		if members[sid] {
			out = append(out, room)
		}
	}
	return out
}

func (f *fakeBroadcaster) Close(sid domain.ConnID) {
	f.closed = append(f.closed, sid)
}

func (f *fakeBroadcaster) reset() { f.emits = nil }

// fixture wires a router to a fake transport.
type fixture struct {
	t   *testing.T
	reg *app.Registry
	out *fakeBroadcaster
	o   *Orchestrator
}

func newFixture(t *testing.T, conns ...domain.ConnID) *fixture {
	t.Helper()
	reg := app.NewRegistry(app.Limits{})
	out := newFakeBroadcaster()
	f := &fixture{t: t, reg: reg, out: out, o: New(reg, out, time.Minute)}
	for _, sid := range conns {
		if err := f.o.OnConnect(sid); err != nil {
			t.Fatalf("OnConnect(%s): %v", sid, err)
		}
	}
	out.reset()
	return f
}

func (f *fixture) send(sid domain.ConnID, event string, payload any) error {
	f.t.Helper()
	b, err := json.Marshal(payload)
	if err != nil {
		f.t.Fatal(err)
	}
	return f.o.HandleEvent(sid, event, b)
}

func (f *fixture) mustSend(sid domain.ConnID, event string, payload any) {
	f.t.Helper()
	if err := f.send(sid, event, payload); err != nil {
		f.t.Fatalf("%s from %s: %v", event, sid, err)
	}
}

// hostRoom registers sid as host of a fresh video call and returns its room.
func (f *fixture) hostRoom(sid domain.ConnID, peerID string) domain.Room {
	f.t.Helper()
	f.mustSend(sid, EventRegisterNewUser, map[string]string{"username": "host-" + string(sid), "socketId": string(sid)})
	f.mustSend(sid, EventGroupCallRegister, map[string]string{"type": "video", "peerId": peerID, "username": "host-" + string(sid)})
	for _, r := range f.reg.ListRooms() {
		if r.HostPeerID == peerID {
			return r
		}
	}
	f.t.Fatalf("room for %s not created", peerID)
	return domain.Room{}
}

func (f *fixture) join(sid domain.ConnID, room domain.RoomID) {
	f.t.Helper()
	f.mustSend(sid, EventGroupCallJoinRequest, map[string]string{
		"username": "guest-" + string(sid),
		"socketId": string(sid),
		"peerId":   "peer-" + string(sid),
		"streamId": "stream-" + string(sid),
		"role":     "guest",
		"roomId":   string(room),
	})
}

func lastUsers(t *testing.T, emits []emit) []domain.User {
	t.Helper()
	for i := len(emits) - 1; i >= 0; i-- {
		e := emits[i]
		if e.scope != "all" || e.event != EventBroadcast {
			continue
		}
		var b ActiveUsersBroadcast
		if err := json.Unmarshal(e.payload, &b); err != nil {
			t.Fatal(err)
		}
		if b.Event == BroadcastActiveUsers {
			return b.ActiveUsers
		}
	}
	t.Fatal("no ACTIVE_USERS broadcast")
	return nil
}

func lastRooms(t *testing.T, emits []emit) []domain.Room {
	t.Helper()
	for i := len(emits) - 1; i >= 0; i-- {
		e := emits[i]
		if e.scope != "all" || e.event != EventBroadcast {
			continue
		}
		var b GroupCallRoomsBroadcast
		if err := json.Unmarshal(e.payload, &b); err != nil {
			t.Fatal(err)
		}
		if b.Event == BroadcastGroupCallRooms {
			return b.GroupCallRooms
		}
	}
	t.Fatal("no GROUP_CALL_ROOMS broadcast")
	return nil
}

// sequence renders emits as "scope:event[/kind]" for order assertions.
func sequence(t *testing.T, emits []emit) []string {
	t.Helper()
	out := make([]string, 0, len(emits))
	for _, e := range emits {
		s := e.scope + ":" + e.event
		if e.event == EventBroadcast {
			var head struct {
				Event string `json:"event"`
			}
			if err := json.Unmarshal(e.payload, &head); err != nil {
				t.Fatal(err)
			}
			s += "/" + head.Event
		}
		out = append(out, s)
	}
	return out
}
