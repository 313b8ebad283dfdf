// Package http serves the read-only JSON views over presence state.
package http

import (
	"net/http"

	"github.com/dkeye/groupcall/internal/app"
	"github.com/dkeye/groupcall/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"
)

type Presence interface {
	ListUsers() []domain.User
	ListRooms() []domain.Room
}

type Channels interface {
	List() []app.ChannelInfo
}

type Counter interface {
	Count() int
}

type HealthResponse struct {
	Status  string `json:"status"`
	Sockets int    `json:"sockets"`
	Peers   int    `json:"peers"`
	Users   int    `json:"users"`
	Rooms   int    `json:"rooms"`
}

type Handlers struct {
	Presence Presence
	Channels Channels
	Sockets  Counter
	Peers    Counter
	ICE      []webrtc.ICEServer
}

func (h *Handlers) Register(r gin.IRoutes) {
	r.GET("/healthz", h.health)
	r.GET("/api/users", h.users)
	r.GET("/api/rooms", h.rooms)
	r.GET("/api/channels", h.channels)
	r.GET("/api/ice", h.ice)
}

func count(c Counter) int {
	if c == nil {
		return 0
	}
	return c.Count()
}

func (h *Handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "ok",
		Sockets: count(h.Sockets),
		Peers:   count(h.Peers),
		Users:   len(h.Presence.ListUsers()),
		Rooms:   len(h.Presence.ListRooms()),
	})
}

func (h *Handlers) users(c *gin.Context) {
	c.JSON(http.StatusOK, h.Presence.ListUsers())
}

func (h *Handlers) rooms(c *gin.Context) {
	c.JSON(http.StatusOK, h.Presence.ListRooms())
}

func (h *Handlers) channels(c *gin.Context) {
	if h.Channels == nil {
		c.JSON(http.StatusOK, []app.ChannelInfo{})
		return
	}
	c.JSON(http.StatusOK, h.Channels.List())
}

func (h *Handlers) ice(c *gin.Context) {
	servers := h.ICE
	if servers == nil {
		servers = []webrtc.ICEServer{}
	}
	c.JSON(http.StatusOK, gin.H{"iceServers": servers})
}
