package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dkeye/groupcall/internal/app/orch"
	"github.com/dkeye/groupcall/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, sid domain.ConnID, c *WSConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		ctl.Orch.OnDisconnect(sid)
		ctl.Hub.Detach(sid, c)
		ctl.limiter.Forget(sid)
		cancel()
		c.Close()
	}()

	ws := c.Socket()
	if ctl.opts.ReadLimit > 0 {
		ws.SetReadLimit(ctl.opts.ReadLimit)
	}
	ctl.extendDeadline(ws)
	ws.SetPongHandler(func(string) error {
		ctl.Orch.Touch(sid)
		ctl.extendDeadline(ws)
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump ctx done")
			return
		default:
			_, data, err := ws.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
				}
				return
			}
			ctl.extendDeadline(ws)
			ctl.handleFrame(sid, data)
		}
	}
}

func (ctl *SignalWSController) extendDeadline(ws *websocket.Conn) {
	if ctl.opts.PongWait > 0 {
		_ = ws.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
	}
}

// handleFrame decodes one envelope and hands it to the router. A panic in a
// handler is confined to this frame.
func (ctl *SignalWSController) handleFrame(sid domain.ConnID, data []byte) {
	var env Envelope
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("module", "signal").Str("sid", string(sid)).Str("event", env.Event).Interface("panic", r).Msg("event handler panic")
			ctl.Orch.Reject(sid, env.Event, orch.CodeInternal, "internal error")
		}
	}()

	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("bad json")
		ctl.Orch.Reject(sid, "", orch.CodeBadPayload, "frame is not a JSON envelope")
		return
	}
	if env.Event == "" {
		ctl.Orch.Reject(sid, "", orch.CodeBadPayload, "missing event name")
		return
	}
	if !ctl.limiter.Allow(sid) {
		ctl.Orch.Reject(sid, env.Event, orch.CodeRateLimited, "too many events")
		return
	}
	_ = ctl.Orch.HandleEvent(sid, env.Event, env.Data)
}
