package orch

import (
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/groupcall/internal/app"
	"github.com/dkeye/groupcall/internal/core"
	"github.com/dkeye/groupcall/internal/domain"
)

func TestConnectAcknowledgesSenderOnly(t *testing.T) {
	f := newFixture(t)
	if err := f.o.OnConnect("A"); err != nil {
		t.Fatal(err)
	}
	if len(f.out.emits) != 1 {
		t.Fatalf("emits = %+v", f.out.emits)
	}
	e := f.out.emits[0]
	if e.scope != "to" || e.target != "A" || e.event != EventConnection || string(e.payload) != "null" {
		t.Errorf("ack = %+v (%s)", e, e.payload)
	}
	if err := f.o.OnConnect("A"); !errors.Is(err, app.ErrConnectionExists) {
		t.Errorf("duplicate connect err = %v", err)
	}
}

func TestRegisterThenDisconnectScenario(t *testing.T) {
	f := newFixture(t, "A")
	f.mustSend("A", EventRegisterNewUser, map[string]string{"username": "alice", "socketId": "A"})

	want := []string{"all:broadcast/ACTIVE_USERS", "all:broadcast/GROUP_CALL_ROOMS"}
	if got := sequence(t, f.out.emits); !reflect.DeepEqual(got, want) {
		t.Fatalf("register emits = %v, want %v", got, want)
	}
	users := lastUsers(t, f.out.emits)
	if len(users) != 1 || users[0].Username != "alice" || users[0].SocketID != "A" {
		t.Fatalf("active users = %+v", users)
	}
	if st := f.reg.State("A"); st != core.StateRegistered {
		t.Errorf("state = %s", st)
	}

	f.out.reset()
	f.o.OnDisconnect("A")
	if got := sequence(t, f.out.emits); !reflect.DeepEqual(got, want) {
		t.Fatalf("disconnect emits = %v, want %v", got, want)
	}
	if users := lastUsers(t, f.out.emits); len(users) != 0 {
		t.Errorf("active users after disconnect = %+v", users)
	}
	if !json.Valid(f.out.emits[0].payload) || string(f.out.emits[0].payload) != `{"event":"ACTIVE_USERS","activeUsers":[]}` {
		t.Errorf("empty broadcast payload = %s", f.out.emits[0].payload)
	}

	f.out.reset()
	f.o.OnDisconnect("A")
	if len(f.out.emits) != 0 {
		t.Error("second disconnect must be a no-op")
	}
}

func TestRegisterWithoutSocketIDUsesConnection(t *testing.T) {
	f := newFixture(t, "A")
	f.mustSend("A", EventRegisterNewUser, map[string]string{"username": "alice"})
	if u, ok := f.reg.User("A"); !ok || u.Username != "alice" {
		t.Errorf("user = %+v, %v", u, ok)
	}
}

func TestRegisterTwiceKeepsOneEntry(t *testing.T) {
	f := newFixture(t, "A")
	f.mustSend("A", EventRegisterNewUser, map[string]string{"username": "alice", "socketId": "A"})
	f.mustSend("A", EventRegisterNewUser, map[string]string{"username": "alicia", "socketId": "A"})
	users := lastUsers(t, f.out.emits)
	if len(users) != 1 || users[0].Username != "alicia" {
		t.Errorf("users = %+v", users)
	}
}

func TestCreateAndCloseRoomScenario(t *testing.T) {
	f := newFixture(t, "A", "B")
	f.mustSend("A", EventGroupCallRegister, map[string]string{"type": "video", "peerId": "p1", "username": "alice"})

	if got := sequence(t, f.out.emits); !reflect.DeepEqual(got, []string{"all:broadcast/GROUP_CALL_ROOMS"}) {
		t.Fatalf("emits = %v", got)
	}
	rooms := lastRooms(t, f.out.emits)
	if len(rooms) != 1 {
		t.Fatalf("rooms = %+v", rooms)
	}
	r := rooms[0]
	if r.ID == "" || r.Type != "video" || r.HostPeerID != "p1" || r.HostName != "alice" || r.HostSocketID != "A" {
		t.Errorf("room = %+v", r)
	}
	if !f.out.InChannel("A", r.ID) {
		t.Error("host not joined to its channel")
	}
	if st := f.reg.State("A"); st != core.StateInRoom {
		t.Errorf("host state = %s", st)
	}

	f.out.reset()
	f.mustSend("B", EventClosedByHost, map[string]string{"peerId": "p1"})
	if got := sequence(t, f.out.emits); !reflect.DeepEqual(got, []string{"all:broadcast/GROUP_CALL_ROOMS"}) {
		t.Fatalf("emits = %v", got)
	}
	if rooms := lastRooms(t, f.out.emits); len(rooms) != 0 {
		t.Errorf("rooms after close = %+v", rooms)
	}
}

func TestDisconnectRemovesHostedRooms(t *testing.T) {
	f := newFixture(t, "A", "B")
	roomA := f.hostRoom("A", "pA")
	roomB := f.hostRoom("B", "pB")
	f.out.reset()

	f.o.OnDisconnect("A")

	rooms := lastRooms(t, f.out.emits)
	if len(rooms) != 1 || rooms[0].ID != roomB.ID {
		t.Errorf("rooms = %+v", rooms)
	}
	if f.out.InChannel("A", roomA.ID) {
		t.Error("disconnected connection still in channel")
	}
	users := lastUsers(t, f.out.emits)
	if len(users) != 1 || users[0].SocketID != "B" {
		t.Errorf("users = %+v", users)
	}
}

func TestJoinRequestForwardsThenBroadcasts(t *testing.T) {
	f := newFixture(t, "A", "B")
	room := f.hostRoom("A", "p1")
	f.out.reset()

	f.join("B", room.ID)

	want := []string{"room:" + EventGroupCallJoinRequest, "all:broadcast/ACTIVE_USERS"}
	if got := sequence(t, f.out.emits); !reflect.DeepEqual(got, want) {
		t.Fatalf("emits = %v, want %v", got, want)
	}
	fwd := f.out.emits[0]
	if fwd.target != string(room.ID) {
		t.Errorf("forward target = %s", fwd.target)
	}
	var got JoinRequestForward
	if err := json.Unmarshal(fwd.payload, &got); err != nil {
		t.Fatal(err)
	}
	want2 := JoinRequestForward{Username: "guest-B", PeerID: "peer-B", StreamID: "stream-B", Role: domain.RoleGuest, SocketID: "B"}
	if got != want2 {
		t.Errorf("forward = %+v, want %+v", got, want2)
	}
	if !f.out.InChannel("B", room.ID) {
		t.Error("joiner not in channel")
	}
	users := lastUsers(t, f.out.emits)
	if len(users) != 2 || users[1].PeerID != "peer-B" || users[1].ScreenShare {
		t.Errorf("users = %+v", users)
	}
}

func TestJoinUnknownRoomRejected(t *testing.T) {
	f := newFixture(t, "B")
	err := f.send("B", EventGroupCallJoinRequest, map[string]string{
		"username": "bob", "peerId": "pb", "streamId": "sb", "roomId": "nope",
	})
	if CodeOf(err) != CodeRoomNotFound {
		t.Fatalf("err = %v", err)
	}
	if len(f.reg.ListUsers()) != 0 {
		t.Error("rejected join must not add a user")
	}
	assertOnlyError(t, f, "B", CodeRoomNotFound)
}

func TestScreenShareBroadcastOrderAndExclusivity(t *testing.T) {
	f := newFixture(t, "A", "B", "C")
	room := f.hostRoom("A", "p1")
	f.join("B", room.ID)
	f.mustSend("C", EventRegisterNewUser, map[string]string{"username": "carol"})
	f.out.reset()

	f.mustSend("B", EventStartShareScreen, map[string]string{"socketId": "B", "roomId": string(room.ID)})

	want := []string{"all:broadcast/ACTIVE_USERS", "room:" + EventStartShareScreen}
	if got := sequence(t, f.out.emits); !reflect.DeepEqual(got, want) {
		t.Fatalf("emits = %v, want %v", got, want)
	}
	if f.out.emits[1].target != string(room.ID) || string(f.out.emits[1].payload) != `{"socketId":"B"}` {
		t.Errorf("room notice = %+v %s", f.out.emits[1], f.out.emits[1].payload)
	}
	assertSharers(t, lastUsers(t, f.out.emits), "B")

	f.mustSend("A", EventStartShareScreen, map[string]string{"roomId": string(room.ID)})
	assertSharers(t, lastUsers(t, f.out.emits), "A")

	f.out.reset()
	f.mustSend("B", EventStopShareScreen, map[string]string{"roomId": string(room.ID)})
	want = []string{"all:broadcast/ACTIVE_USERS", "room:" + EventStopShareScreen}
	if got := sequence(t, f.out.emits); !reflect.DeepEqual(got, want) {
		t.Fatalf("emits = %v, want %v", got, want)
	}
	assertSharers(t, lastUsers(t, f.out.emits))
}

func TestScreenShareRequiresMembership(t *testing.T) {
	f := newFixture(t, "A", "C")
	room := f.hostRoom("A", "p1")
	f.mustSend("C", EventRegisterNewUser, map[string]string{"username": "carol"})
	f.out.reset()

	err := f.send("C", EventStartShareScreen, map[string]string{"roomId": string(room.ID)})
	if CodeOf(err) != CodeInvalidState {
		t.Fatalf("before join err = %v", err)
	}
	assertOnlyError(t, f, "C", CodeInvalidState)

	other := f.hostRoom("C", "p2")
	f.out.reset()
	err = f.send("C", EventStartShareScreen, map[string]string{"roomId": string(room.ID)})
	if CodeOf(err) != CodeNotInRoom {
		t.Fatalf("foreign room err = %v", err)
	}
	if err := f.send("C", EventStartShareScreen, map[string]string{"roomId": string(other.ID)}); err != nil {
		t.Errorf("own room share: %v", err)
	}
}

func TestUserLeftScenario(t *testing.T) {
	f := newFixture(t, "A", "B")
	room := f.hostRoom("A", "p1")
	f.join("B", room.ID)
	f.out.reset()

	f.mustSend("B", EventUserLeft, map[string]string{"roomId": string(room.ID), "streamId": "stream-B"})

	if len(f.out.emits) != 1 {
		t.Fatalf("emits = %v", sequence(t, f.out.emits))
	}
	e := f.out.emits[0]
	if e.scope != "room" || e.event != EventUserLeft || string(e.payload) != `{"streamId":"stream-B"}` {
		t.Errorf("emit = %+v %s", e, e.payload)
	}
	if f.out.InChannel("B", room.ID) {
		t.Error("leaver still in channel")
	}
	if st := f.reg.State("B"); st != core.StateRegistered {
		t.Errorf("state after leave = %s", st)
	}
	err := f.send("B", EventUserLeft, map[string]string{"roomId": string(room.ID), "streamId": "stream-B"})
	if CodeOf(err) != CodeInvalidState {
		t.Errorf("second leave err = %v", err)
	}
}

func TestPayloadValidation(t *testing.T) {
	tests := []struct {
		name    string
		event   string
		data    string
		code    string
		message string
	}{
		{"missing payload", EventRegisterNewUser, ``, CodeBadPayload, ""},
		{"null payload", EventRegisterNewUser, `null`, CodeBadPayload, ""},
		{"not an object", EventRegisterNewUser, `"alice"`, CodeBadPayload, ""},
		{"missing username", EventRegisterNewUser, `{"socketId":"A"}`, CodeInvalidField, "invalid_field: username: required"},
		{"foreign socket", EventRegisterNewUser, `{"username":"a","socketId":"B"}`, CodeSocketMismatch, ""},
		{"register call missing peer", EventGroupCallRegister, `{"type":"video","username":"a"}`, CodeInvalidField, "invalid_field: peerId: required"},
		{"join missing room", EventGroupCallJoinRequest, `{"username":"a","peerId":"p","streamId":"s"}`, CodeInvalidField, "invalid_field: roomId: required"},
		{"share missing room", EventStartShareScreen, `{"socketId":"A"}`, CodeInvalidField, ""},
		{"stop missing room", EventStopShareScreen, `{}`, CodeInvalidField, ""},
		{"left missing stream", EventUserLeft, `{"roomId":"r"}`, CodeInvalidField, ""},
		{"close missing peer", EventClosedByHost, `{}`, CodeInvalidField, ""},
		{"unknown event", "group-call-dance", `{}`, CodeUnknownEvent, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "A")
			err := f.o.HandleEvent("A", tt.event, json.RawMessage(tt.data))
			if CodeOf(err) != tt.code {
				t.Fatalf("code = %q (%v), want %q", CodeOf(err), err, tt.code)
			}
			if tt.message != "" && err.Error() != tt.message {
				t.Errorf("message = %q, want %q", err.Error(), tt.message)
			}
			assertOnlyError(t, f, "A", tt.code)
			if len(f.reg.ListUsers()) != 0 || len(f.reg.ListRooms()) != 0 {
				t.Error("rejected event mutated state")
			}
		})
	}
}

func TestEventsFromUnknownConnectionIgnored(t *testing.T) {
	f := newFixture(t)
	err := f.send("ghost", EventRegisterNewUser, map[string]string{"username": "g"})
	if CodeOf(err) != CodeInvalidState {
		t.Fatalf("err = %v", err)
	}
	if len(f.out.emits) != 0 || len(f.reg.ListUsers()) != 0 {
		t.Error("ghost event had effects")
	}
}

func TestLimitReached(t *testing.T) {
	reg := app.NewRegistry(app.Limits{MaxRooms: 1})
	out := newFakeBroadcaster()
	o := New(reg, out, 0)
	_ = o.OnConnect("A")
	_ = o.OnConnect("B")
	payload := json.RawMessage(`{"type":"video","peerId":"p","username":"a"}`)
	if err := o.HandleEvent("A", EventGroupCallRegister, payload); err != nil {
		t.Fatal(err)
	}
	if err := o.HandleEvent("B", EventGroupCallRegister, payload); CodeOf(err) != CodeLimitReached {
		t.Errorf("err = %v", err)
	}
	if st := reg.State("B"); st != core.StateConnected {
		t.Errorf("rejected host state = %s", st)
	}
}

func TestPingPong(t *testing.T) {
	f := newFixture(t, "A")
	f.mustSend("A", EventPing, nil)
	if got := sequence(t, f.out.emits); !reflect.DeepEqual(got, []string{"to:pong"}) {
		t.Errorf("emits = %v", got)
	}
}

func TestReject(t *testing.T) {
	f := newFixture(t, "A")
	f.o.Reject("A", EventRegisterNewUser, CodeRateLimited, "too many events")
	assertOnlyError(t, f, "A", CodeRateLimited)
}

func TestSweepClosesIdleConnections(t *testing.T) {
	f := newFixture(t, "A")
	if got := f.o.Sweep(time.Now()); len(got) != 0 {
		t.Errorf("fresh connection swept: %v", got)
	}
	got := f.o.Sweep(time.Now().Add(2 * time.Minute))
	if len(got) != 1 || got[0] != "A" || len(f.out.closed) != 1 {
		t.Errorf("swept = %v closed = %v", got, f.out.closed)
	}

	f.o.IdleTimeout = 0
	if got := f.o.Sweep(time.Now().Add(time.Hour)); got != nil {
		t.Errorf("disabled sweep returned %v", got)
	}
}

func assertOnlyError(t *testing.T, f *fixture, sid domain.ConnID, code string) {
	t.Helper()
	if len(f.out.emits) != 1 {
		t.Fatalf("emits = %v, want a single error", sequence(t, f.out.emits))
	}
	e := f.out.emits[0]
	if e.scope != "to" || e.target != string(sid) || e.event != EventError {
		t.Fatalf("emit = %+v", e)
	}
	var p ErrorPayload
	if err := json.Unmarshal(e.payload, &p); err != nil {
		t.Fatal(err)
	}
	if p.Error != code {
		t.Errorf("error code = %q, want %q", p.Error, code)
	}
}

func assertSharers(t *testing.T, users []domain.User, want ...domain.ConnID) {
	t.Helper()
	var got []domain.ConnID
	for _, u := range users {
		if u.ScreenShare {
			got = append(got, u.SocketID)
		}
	}
	if len(got) != len(want) {
		t.Fatalf("sharers = %v, want %v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Errorf("sharers = %v, want %v", got, want)
		}
	}
}

func TestAdmitAttachesBeforeOtherBroadcasts(t *testing.T) {
	f := newFixture(t, "B")
	var wg sync.WaitGroup
	attach := func() error {
		if got := len(f.out.emits); got != 0 {
			t.Errorf("emits before attach = %d", got)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = f.send("B", EventRegisterNewUser, map[string]string{"username": "bob", "socketId": "B"})
		}()
		time.Sleep(20 * time.Millisecond)
		return nil
	}
	if err := f.o.Admit("A", attach); err != nil {
		t.Fatal(err)
	}
	wg.Wait()

	want := []string{"to:connection", "all:broadcast/ACTIVE_USERS", "all:broadcast/GROUP_CALL_ROOMS"}
	if got := sequence(t, f.out.emits); !reflect.DeepEqual(got, want) {
		t.Errorf("emits = %v, want %v", got, want)
	}
}

func TestAdmitRollsBackFailedAttach(t *testing.T) {
	f := newFixture(t)
	errAttach := errors.New("attach failed")
	if err := f.o.Admit("A", func() error { return errAttach }); !errors.Is(err, errAttach) {
		t.Fatalf("err = %v", err)
	}
	if len(f.out.emits) != 0 {
		t.Errorf("emits = %+v", f.out.emits)
	}
	if st := f.reg.State("A"); st != core.StateDisconnected {
		t.Errorf("state = %v", st)
	}
	if err := f.o.Admit("A", nil); err != nil {
		t.Errorf("admit after rollback: %v", err)
	}
}

func TestShareWithoutRegisteredUserIsUnknownUser(t *testing.T) {
	f := newFixture(t, "A")
	f.mustSend("A", EventGroupCallRegister, map[string]string{"type": "video", "peerId": "p1", "username": "alice"})
	room := f.reg.ListRooms()[0]
	f.out.reset()

	err := f.send("A", EventStartShareScreen, map[string]string{"roomId": string(room.ID)})
	if !errors.Is(err, app.ErrUnknownUser) {
		t.Fatalf("err = %v", err)
	}
	assertOnlyError(t, f, "A", CodeUnknownUser)
}

func TestCodeOfFallsBackToInternal(t *testing.T) {
	if got := CodeOf(errors.New("boom")); got != CodeInternal {
		t.Errorf("CodeOf = %q, want %q", got, CodeInternal)
	}
}

func TestRejectedEventCarriesRejectError(t *testing.T) {
	f := newFixture(t, "A")
	err := f.send("A", "no-such-event", nil)
	var re *RejectError
	if !errors.As(err, &re) || re.Code != CodeUnknownEvent {
		t.Fatalf("err = %v", err)
	}
	if EventError != "error" {
		t.Errorf("error event name = %q", EventError)
	}
	assertOnlyError(t, f, "A", CodeUnknownEvent)
}
