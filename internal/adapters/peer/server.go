// Package peer hosts the peer negotiation relay that sits next to the event
// transport. Clients connect with their peer id and exchange offers, answers
// and ICE candidates addressed to other peer ids; the relay only forwards.
package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/groupcall/internal/adapters/signal"
	"github.com/dkeye/groupcall/internal/core"
	"github.com/dkeye/groupcall/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const (
	TypeOpen      = "OPEN"
	TypeIDTaken   = "ID-TAKEN"
	TypeHeartbeat = "HEARTBEAT"
	TypeOffer     = "OFFER"
	TypeAnswer    = "ANSWER"
	TypeCandidate = "CANDIDATE"
	TypeLeave     = "LEAVE"
	TypeExpire    = "EXPIRE"
	TypeError     = "ERROR"
)

var (
	ErrInvalidMessage = errors.New("invalid message")
	ErrPeerTaken      = errors.New("peer id taken")
)

type Message struct {
	Type    string          `json:"type"`
	Src     string          `json:"src,omitempty"`
	Dst     string          `json:"dst,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Hooks receives peer lifecycle notifications.
type Hooks interface {
	OnPeerOpen(id string)
	OnPeerClose(id string)
}

type Server struct {
	mu    sync.RWMutex
	peers map[string]core.SignalConnection
	hooks Hooks
	opts  signal.Options
}

func NewServer(hooks Hooks, opts signal.Options) *Server {
	return &Server{
		peers: make(map[string]core.SignalConnection),
		hooks: hooks,
		opts:  opts,
	}
}

func (s *Server) register(id string, conn core.SignalConnection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.peers[id]; ok {
		return ErrPeerTaken
	}
	s.peers[id] = conn
	return nil
}

func (s *Server) unregister(id string, conn core.SignalConnection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.peers[id]; ok && cur == conn {
		delete(s.peers, id)
	}
}

func (s *Server) lookup(id string) (core.SignalConnection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.peers[id]
	return c, ok
}

// Count reports connected peers.
func (s *Server) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.peers)
}

func sendMessage(conn core.SignalConnection, msg Message) {
	b, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "peer").Msg("marshal message")
		return
	}
	if err := conn.TrySend(b); err != nil {
		log.Warn().Err(err).Str("module", "peer").Str("type", msg.Type).Msg("message dropped")
	}
}

type sdpPayload struct {
	SDP webrtc.SessionDescription `json:"sdp"`
}

type candidatePayload struct {
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

func validate(msg Message) error {
	switch msg.Type {
	case TypeOffer, TypeAnswer:
		want := webrtc.SDPTypeOffer
		if msg.Type == TypeAnswer {
			want = webrtc.SDPTypeAnswer
		}
		var p sdpPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("%s payload: %w", msg.Type, ErrInvalidMessage)
		}
		if p.SDP.Type != want {
			return fmt.Errorf("%s carries sdp type %q: %w", msg.Type, p.SDP.Type, ErrInvalidMessage)
		}
		if _, err := p.SDP.Unmarshal(); err != nil {
			return fmt.Errorf("%s sdp: %v: %w", msg.Type, err, ErrInvalidMessage)
		}
	case TypeCandidate:
		var p candidatePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("candidate payload: %w", ErrInvalidMessage)
		}
	case TypeLeave:
	default:
		return fmt.Errorf("unknown type %q: %w", msg.Type, ErrInvalidMessage)
	}
	if msg.Dst == "" {
		return fmt.Errorf("%s without dst: %w", msg.Type, ErrInvalidMessage)
	}
	return nil
}

// Route forwards msg from src to its destination peer. An absent destination
// is reported back to src as EXPIRE.
func (s *Server) Route(src string, msg Message) error {
	if msg.Type == TypeHeartbeat {
		return nil
	}
	if err := validate(msg); err != nil {
		return err
	}
	dst, ok := s.lookup(msg.Dst)
	if !ok {
		if from, ok := s.lookup(src); ok {
			sendMessage(from, Message{Type: TypeExpire, Src: msg.Dst, Dst: src})
		}
		log.Debug().Str("module", "peer").Str("src", src).Str("dst", msg.Dst).Msg("destination gone")
		return nil
	}
	sendMessage(dst, Message{Type: msg.Type, Src: src, Dst: msg.Dst, Payload: msg.Payload})
	return nil
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *Server) HandlePeer(ctx context.Context, c *gin.Context) {
	id, err := domain.ParseConnID(c.Query("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid peer id"})
		return
	}
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "peer").Msg("ws upgrade")
		return
	}
	peerID := string(id)
	conn := signal.NewWSConn(ws, s.opts.SendBuffer)
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer cancel()
		conn.WritePump(ctx, s.opts.PingPeriod)
	}()

	if err := s.register(peerID, conn); err != nil {
		log.Warn().Str("module", "peer").Str("peer", peerID).Msg("peer id taken")
		sendMessage(conn, Message{Type: TypeIDTaken, Payload: json.RawMessage(`{"msg":"ID is taken"}`)})
		time.AfterFunc(writeGrace, cancel)
		return
	}
	sendMessage(conn, Message{Type: TypeOpen})
	if s.hooks != nil {
		s.hooks.OnPeerOpen(peerID)
	}
	go s.readPump(ctx, cancel, peerID, conn)
}

const writeGrace = 100 * time.Millisecond

func (s *Server) readPump(ctx context.Context, cancel context.CancelFunc, id string, c *signal.WSConn) {
	defer func() {
		s.unregister(id, c)
		if s.hooks != nil {
			s.hooks.OnPeerClose(id)
		}
		cancel()
		c.Close()
	}()

	ws := c.Socket()
	if s.opts.ReadLimit > 0 {
		ws.SetReadLimit(s.opts.ReadLimit)
	}
	extend := func() {
		if s.opts.PongWait > 0 {
			_ = ws.SetReadDeadline(time.Now().Add(s.opts.PongWait))
		}
	}
	extend()
	ws.SetPongHandler(func(string) error { extend(); return nil })

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("module", "peer").Str("peer", id).Msg("read error")
			}
			return
		}
		extend()
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			sendMessage(c, errorMessage(err))
			continue
		}
		if err := s.Route(id, msg); err != nil {
			log.Warn().Err(err).Str("module", "peer").Str("peer", id).Str("type", msg.Type).Msg("message rejected")
			sendMessage(c, errorMessage(err))
		}
	}
}

func errorMessage(err error) Message {
	b, _ := json.Marshal(map[string]string{"msg": err.Error()})
	return Message{Type: TypeError, Payload: b}
}
