package signal

import (
	"context"
	"net/http"
	"time"

	"github.com/dkeye/groupcall/internal/app/orch"
	"github.com/dkeye/groupcall/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// SocketIDHeader carries the assigned connection id in the handshake response.
const SocketIDHeader = "X-Socket-Id"

type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	PongWait   time.Duration
	SendBuffer int
	RateLimit  float64
	RateBurst  int
}

type SignalWSController struct {
	Orch    *orch.Orchestrator
	Hub     *Hub
	opts    Options
	limiter *ConnRateLimiter
}

func NewSignalWSController(o *orch.Orchestrator, hub *Hub, opts Options) *SignalWSController {
	return &SignalWSController{
		Orch:    o,
		Hub:     hub,
		opts:    opts,
		limiter: NewConnRateLimiter(opts.RateLimit, opts.RateBurst),
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// resolveConnID takes the client's socketId query parameter when it is
// well-formed, and mints a UUID otherwise.
func resolveConnID(c *gin.Context) (domain.ConnID, error) {
	raw := c.Query("socketId")
	if raw == "" {
		return domain.ConnID(uuid.NewString()), nil
	}
	return domain.ParseConnID(raw)
}

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	sid, err := resolveConnID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid socketId"})
		return
	}
	if ctl.Hub.Has(sid) {
		c.JSON(http.StatusConflict, gin.H{"error": "socketId in use"})
		return
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("client", c.GetString("client_token")).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, http.Header{SocketIDHeader: []string{string(sid)}})
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := NewWSConn(ws, ctl.opts.SendBuffer)
	attach := func() error { return ctl.Hub.Attach(sid, conn) }
	if err := ctl.Orch.Admit(sid, attach); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("connect rejected")
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "socketId in use"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer cancel()
		conn.WritePump(ctx, ctl.opts.PingPeriod)
	}()
	go ctl.readPump(ctx, cancel, sid, conn)
}
