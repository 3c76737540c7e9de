// Package relay implements the room-scoped signaling relay.
//
// The relay is deliberately dumb plumbing: it authenticates a participant into
// a room, stamps every inbound envelope with the authenticated source, and
// routes it either to one named participant or to everyone else in the room.
// SDP and candidate payloads pass through opaquely; all call semantics live in
// the clients.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/callmesh/callmesh/internal/metrics"
	"github.com/callmesh/callmesh/internal/protocol"
	"github.com/callmesh/callmesh/internal/ratelimit"
	"github.com/callmesh/callmesh/internal/room"
	"github.com/callmesh/callmesh/internal/roomauth"
)

// ChatSink receives a copy of every chat envelope the relay routes.
// Recording failures are logged and never block routing.
type ChatSink interface {
	Record(room, sender, body string) error
}

type Config struct {
	// IdleTimeout closes connections that produce no traffic (including
	// pongs) for this long.
	IdleTimeout time.Duration

	// PingInterval must be shorter than IdleTimeout.
	PingInterval time.Duration

	// MaxMessageBytes caps a single inbound signaling message.
	MaxMessageBytes int64

	// MaxMessagesPerSecond caps inbound envelopes per connection.
	MaxMessagesPerSecond int

	// SendQueueLen is the outbound buffer per participant. A participant
	// whose buffer overflows is disconnected rather than allowed to stall
	// the room.
	SendQueueLen int
}

func (c Config) WithDefaults() Config {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.IdleTimeout {
		c.PingInterval = c.IdleTimeout / 3
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = 64 * 1024
	}
	if c.MaxMessagesPerSecond <= 0 {
		c.MaxMessagesPerSecond = 50
	}
	if c.SendQueueLen <= 0 {
		c.SendQueueLen = 64
	}
	return c
}

// Server is the WebSocket signaling endpoint, mounted at
// GET /rooms/{room}/ws. Identity is taken from the ?client query parameter;
// when absent the relay assigns a fresh UUID and reports it to the client in
// the X-Client-ID response header of the upgrade.
type Server struct {
	log      *slog.Logger
	cfg      Config
	registry *room.Registry[*participant]
	auth     roomauth.Authorizer
	authWait time.Duration
	chat     ChatSink
	metrics  *metrics.Metrics
	clock    ratelimit.Clock
	upgrader websocket.Upgrader
}

type Options struct {
	Logger *slog.Logger
	Config Config

	// MaxRoomSize caps participants per room. Zero means unlimited.
	MaxRoomSize int

	Authorizer  roomauth.Authorizer
	AuthTimeout time.Duration
	Chat        ChatSink
	Metrics     *metrics.Metrics
	Clock       ratelimit.Clock
}

func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Authorizer == nil {
		opts.Authorizer = roomauth.AllowAll{}
	}
	if opts.AuthTimeout <= 0 {
		opts.AuthTimeout = 5 * time.Second
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Clock == nil {
		opts.Clock = ratelimit.RealClock{}
	}
	return &Server{
		log:      opts.Logger,
		cfg:      opts.Config.WithDefaults(),
		registry: room.NewRegistry[*participant](opts.MaxRoomSize),
		auth:     opts.Authorizer,
		authWait: opts.AuthTimeout,
		chat:     opts.Chat,
		metrics:  opts.Metrics,
		clock:    opts.Clock,
		upgrader: websocket.Upgrader{
			// Origin policy is enforced by the HTTP layer wrapping this
			// handler; re-checking here would reject the CLI's originless
			// upgrades.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Registry exposes membership for metrics and tests.
func (s *Server) Registry() *room.Registry[*participant] { return s.registry }

var identifierRe = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	roomName := r.PathValue("room")
	if !identifierRe.MatchString(roomName) {
		http.Error(w, "invalid room", http.StatusBadRequest)
		return
	}

	clientID := r.URL.Query().Get("client")
	if clientID == "" {
		clientID = uuid.NewString()
	}
	if !identifierRe.MatchString(clientID) {
		http.Error(w, "invalid client id", http.StatusBadRequest)
		return
	}

	authCtx, cancel := context.WithTimeout(r.Context(), s.authWait)
	err := s.auth.Authorize(authCtx, roomName, clientID)
	cancel()
	if err != nil {
		s.metrics.Inc(metrics.AuthDenied)
		if errors.Is(err, roomauth.ErrDenied) {
			http.Error(w, "forbidden", http.StatusForbidden)
		} else {
			s.log.Error("room authorization failed", "room", roomName, "client", clientID, "error", err)
			http.Error(w, "authorization unavailable", http.StatusBadGateway)
		}
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, http.Header{"X-Client-ID": []string{clientID}})
	if err != nil {
		return
	}

	p := newParticipant(s, conn, roomName, clientID)

	if err := s.registry.Join(roomName, clientID, p); err != nil {
		switch {
		case errors.Is(err, room.ErrDuplicateParticipant):
			s.metrics.Inc(metrics.DuplicateParticipant)
			p.closeWith(websocket.ClosePolicyViolation, "client id already in room")
		case errors.Is(err, room.ErrRoomFull):
			s.metrics.Inc(metrics.RoomFull)
			p.closeWith(websocket.ClosePolicyViolation, "room full")
		default:
			p.closeWith(websocket.CloseInternalServerErr, "join failed")
		}
		_ = conn.Close()
		return
	}

	s.metrics.Inc(metrics.ParticipantJoined)
	s.log.Info("participant joined", "room", roomName, "client", clientID, "room_size", s.registry.Size(roomName))

	go p.writePump()
	s.broadcast(roomName, clientID, protocol.Join(clientID))
	p.readPump()
}

// detach runs exactly once per participant regardless of how the connection
// ended, so peers always see one LEAVE.
func (s *Server) detach(p *participant) {
	s.registry.Leave(p.room, p.clientID)
	s.metrics.Inc(metrics.ParticipantLeft)
	s.broadcast(p.room, p.clientID, protocol.Leave(p.clientID))
	s.log.Info("participant left", "room", p.room, "client", p.clientID, "room_size", s.registry.Size(p.room))
}

// route delivers one source-stamped envelope. Directed envelopes whose target
// is absent are dropped silently; the sender discovers departure through the
// LEAVE it has already received or is about to receive.
func (s *Server) route(p *participant, env protocol.Envelope) {
	env.Source = p.clientID

	if env.Target != "" {
		target, ok := s.registry.Lookup(p.room, env.Target)
		if !ok {
			s.metrics.Inc(metrics.EnvelopeUnroutable)
			s.log.Debug("dropping unroutable envelope", "room", p.room, "type", env.Type, "source", env.Source, "target", env.Target)
			return
		}
		if s.deliver(target, env) {
			s.metrics.Inc(metrics.EnvelopeForwarded)
		}
		return
	}

	if env.Type == protocol.TypeChat && s.chat != nil {
		if err := s.chat.Record(p.room, p.clientID, env.Message); err != nil {
			s.metrics.Inc(metrics.ChatRecordFailed)
			s.log.Warn("chat record failed", "room", p.room, "error", err)
		} else {
			s.metrics.Inc(metrics.ChatRecorded)
		}
	}

	s.broadcast(p.room, p.clientID, env)
}

func (s *Server) broadcast(roomName, fromClientID string, env protocol.Envelope) {
	delivered := false
	for _, other := range s.registry.Others(roomName, fromClientID) {
		if s.deliver(other, env) {
			delivered = true
		}
	}
	if delivered {
		s.metrics.Inc(metrics.EnvelopeBroadcast)
	}
}

func (s *Server) deliver(p *participant, env protocol.Envelope) bool {
	data, err := env.Encode()
	if err != nil {
		s.log.Error("envelope encode failed", "type", env.Type, "error", err)
		return false
	}
	if !p.enqueue(data) {
		// Slow consumer: disconnecting is kinder to the room than letting
		// its signaling back up.
		s.log.Warn("participant send queue overflow", "room", p.room, "client", p.clientID)
		p.closeWith(websocket.ClosePolicyViolation, "send queue overflow")
		return false
	}
	return true
}
