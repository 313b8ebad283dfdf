package orch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/groupcall/internal/app"
	"github.com/dkeye/groupcall/internal/core"
	"github.com/dkeye/groupcall/internal/domain"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

// Orchestrator is the event router. It turns inbound events into registry
// mutations and decides which broadcasts follow. Events are handled one at a
// time: the mutation and every emit of one event finish before the next
// event starts.
type Orchestrator struct {
	Registry    *app.Registry
	Out         core.Broadcaster
	IdleTimeout time.Duration

	mu       sync.Mutex
	validate *validator.Validate
}

func New(reg *app.Registry, out core.Broadcaster, idle time.Duration) *Orchestrator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Orchestrator{
		Registry:    reg,
		Out:         out,
		IdleTimeout: idle,
		validate:    v,
	}
}

// HandleEvent dispatches one inbound event from sid. A rejected event is
// reported to the sender and returned.
func (o *Orchestrator) HandleEvent(sid domain.ConnID, event string, data json.RawMessage) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.Registry.State(sid) == core.StateDisconnected {
		log.Warn().Str("module", "orch").Str("sid", string(sid)).Str("event", event).Msg("event from closed connection")
		return reject(CodeInvalidState, app.ErrUnknownConnection)
	}
	o.Registry.Touch(sid)

	var err error
	switch event {
	case EventRegisterNewUser:
		err = o.registerUser(sid, data)
	case EventGroupCallRegister:
		err = o.registerCall(sid, data)
	case EventGroupCallJoinRequest:
		err = o.joinCall(sid, data)
	case EventStartShareScreen:
		err = o.startShare(sid, data)
	case EventStopShareScreen:
		err = o.stopShare(sid, data)
	case EventUserLeft:
		err = o.userLeft(sid, data)
	case EventClosedByHost:
		err = o.closedByHost(sid, data)
	case EventPing:
		o.Out.EmitTo(sid, EventPong, nil)
	default:
		err = reject(CodeUnknownEvent, fmt.Errorf("unknown event %q", event))
	}
	if err != nil {
		o.replyError(sid, event, err)
	}
	return err
}

// Reject reports an event that never reached a handler.
func (o *Orchestrator) Reject(sid domain.ConnID, event, code, message string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.replyError(sid, event, reject(code, errors.New(message)))
}

func (o *Orchestrator) replyError(sid domain.ConnID, event string, err error) {
	code := CodeOf(err)
	log.Warn().Err(err).Str("module", "orch").Str("sid", string(sid)).Str("event", event).Str("code", code).Msg("event rejected")
	o.Out.EmitTo(sid, EventError, ErrorPayload{Event: event, Error: code, Message: err.Error()})
}

func (o *Orchestrator) decode(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return reject(CodeBadPayload, errors.New("missing payload"))
	}
	if err := json.Unmarshal(data, v); err != nil {
		return reject(CodeBadPayload, err)
	}
	if err := o.validate.Struct(v); err != nil {
		return reject(CodeInvalidField, describeValidation(err))
	}
	return nil
}

// checkSocket rejects payloads that claim to speak for another connection.
func checkSocket(sid domain.ConnID, claimed string) error {
	if claimed != "" && domain.ConnID(claimed) != sid {
		return reject(CodeSocketMismatch, fmt.Errorf("socketId %q does not match connection", claimed))
	}
	return nil
}

func (o *Orchestrator) requireTransition(sid domain.ConnID, next core.ConnState) error {
	if st := o.Registry.State(sid); !st.CanTransition(next) {
		return fmt.Errorf("%s -> %s: %w", st, next, app.ErrInvalidTransition)
	}
	return nil
}

func (o *Orchestrator) requireMember(sid domain.ConnID, room domain.RoomID) error {
	if st := o.Registry.State(sid); st != core.StateInRoom {
		return fmt.Errorf("%s is %s: %w", sid, st, app.ErrInvalidTransition)
	}
	if !o.Out.InChannel(sid, room) {
		return reject(CodeNotInRoom, fmt.Errorf("not a member of room %s", room))
	}
	return nil
}

func (o *Orchestrator) broadcastUsers(users []domain.User) {
	o.Out.EmitAll(EventBroadcast, ActiveUsersBroadcast{Event: BroadcastActiveUsers, ActiveUsers: users})
}

func (o *Orchestrator) broadcastRooms(rooms []domain.Room) {
	o.Out.EmitAll(EventBroadcast, GroupCallRoomsBroadcast{Event: BroadcastGroupCallRooms, GroupCallRooms: rooms})
}

// Touch records transport-level liveness (pongs) for sid.
func (o *Orchestrator) Touch(sid domain.ConnID) {
	o.Registry.Touch(sid)
}

// Sweep closes connections idle for longer than IdleTimeout. Their removal
// runs through OnDisconnect once the transport notices the close.
func (o *Orchestrator) Sweep(now time.Time) []domain.ConnID {
	if o.IdleTimeout <= 0 {
		return nil
	}
	stale := o.Registry.Stale(now, o.IdleTimeout)
	for _, sid := range stale {
		log.Info().Str("module", "orch").Str("sid", string(sid)).Dur("idle_timeout", o.IdleTimeout).Msg("closing idle connection")
		o.Out.Close(sid)
	}
	return stale
}

func (o *Orchestrator) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 || o.IdleTimeout <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "orch").Msg("sweeper stopped")
			return
		case now := <-ticker.C:
			o.Sweep(now)
		}
	}
}
