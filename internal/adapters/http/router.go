package http

import (
	"context"
	"os"
	"path/filepath"

	"github.com/dkeye/groupcall/internal/adapters/peer"
	"github.com/dkeye/groupcall/internal/adapters/signal"
	"github.com/dkeye/groupcall/internal/config"
	api "github.com/dkeye/groupcall/internal/transport/http"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	sessionName    = "GroupCallSession"
	clientTokenKey = "client_token"
	clientTokenTTL = 3600 * 24 * 7
)

// ClientTokenMiddleware keeps a stable per-browser token in the session so
// log lines of one browser can be correlated across reconnects.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		token, _ := session.Get(clientTokenKey).(string)
		if token == "" {
			token = uuid.NewString()
			session.Set(clientTokenKey, token)
			if err := session.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("session save")
			}
		}
		c.Set(clientTokenKey, token)
		c.Next()
	}
}

type Deps struct {
	Signal *signal.SignalWSController
	Peers  *peer.Server
	API    *api.Handlers
}

func SetupRouter(ctx context.Context, cfg *config.Config, deps Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: clientTokenTTL, HttpOnly: true})
	r.Use(sessions.Sessions(sessionName, store))
	r.Use(ClientTokenMiddleware())

	if st, err := os.Stat(cfg.StaticPath); err == nil && st.IsDir() {
		r.Static("/static", cfg.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(filepath.Join(cfg.StaticPath, "index.html"))
		})
	} else {
		log.Warn().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("static dir missing, UI disabled")
	}

	if deps.Signal != nil {
		r.GET("/socket", func(c *gin.Context) {
			deps.Signal.HandleSignal(ctx, c)
		})
	}
	if deps.Peers != nil {
		r.GET("/peerjs", func(c *gin.Context) {
			deps.Peers.HandlePeer(ctx, c)
		})
	}
	if deps.API != nil {
		deps.API.Register(r)
	}

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")
	return r
}
