package relay

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/callmesh/callmesh/internal/metrics"
	"github.com/callmesh/callmesh/internal/protocol"
	"github.com/callmesh/callmesh/internal/ratelimit"
)

const writeWait = 10 * time.Second

// participant is one attached WebSocket connection. All reads happen on the
// readPump goroutine and all writes on the writePump goroutine; the rest of
// the relay only talks to a participant through enqueue and closeWith.
type participant struct {
	srv      *Server
	conn     *websocket.Conn
	room     string
	clientID string

	send    chan []byte
	limiter *ratelimit.TokenBucket

	closeOnce  sync.Once
	detachOnce sync.Once
	done       chan struct{}
}

func newParticipant(s *Server, conn *websocket.Conn, roomName, clientID string) *participant {
	return &participant{
		srv:      s,
		conn:     conn,
		room:     roomName,
		clientID: clientID,
		send:     make(chan []byte, s.cfg.SendQueueLen),
		limiter:  ratelimit.NewTokenBucket(s.clock, int64(s.cfg.MaxMessagesPerSecond), int64(s.cfg.MaxMessagesPerSecond)),
		done:     make(chan struct{}),
	}
}

// enqueue hands data to the writePump. It reports false when the participant
// is gone or its buffer is full.
func (p *participant) enqueue(data []byte) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.send <- data:
		return true
	case <-p.done:
		return false
	default:
		return false
	}
}

// closeWith sends a close frame and tears the connection down. Safe to call
// from any goroutine, any number of times.
func (p *participant) closeWith(code int, reason string) {
	p.closeOnce.Do(func() {
		_ = p.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		close(p.done)
		_ = p.conn.Close()
	})
}

func (p *participant) shutdown() {
	p.closeOnce.Do(func() {
		close(p.done)
		_ = p.conn.Close()
	})
}

// readPump owns the connection's read side. It returns when the participant
// disconnects for any reason, after detaching it exactly once.
func (p *participant) readPump() {
	defer func() {
		p.shutdown()
		p.detachOnce.Do(func() { p.srv.detach(p) })
	}()

	p.conn.SetReadLimit(p.srv.cfg.MaxMessageBytes)
	_ = p.conn.SetReadDeadline(time.Now().Add(p.srv.cfg.IdleTimeout))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(p.srv.cfg.IdleTimeout))
	})

	for {
		msgType, data, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = p.conn.SetReadDeadline(time.Now().Add(p.srv.cfg.IdleTimeout))

		if msgType != websocket.TextMessage {
			p.closeWith(websocket.CloseUnsupportedData, "expected text message")
			return
		}

		if !p.limiter.Allow(1) {
			p.srv.metrics.Inc(metrics.RateLimited)
			p.closeWith(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}

		env, err := protocol.Parse(data)
		if err != nil {
			// Malformed traffic is dropped without killing the call; a buggy
			// sender should not be able to take itself out of the room.
			p.srv.metrics.Inc(metrics.EnvelopeMalformed)
			p.srv.log.Warn("dropping malformed envelope", "room", p.room, "client", p.clientID, "error", err)
			continue
		}

		switch env.Type {
		case protocol.TypeJoin:
			// Membership is established by the upgrade, never by traffic.
			p.srv.metrics.Inc(metrics.EnvelopeMalformed)
			p.srv.log.Warn("dropping client-sent join", "room", p.room, "client", p.clientID)
		case protocol.TypeLeave:
			// Graceful departure; detach synthesizes the LEAVE peers see.
			p.closeWith(websocket.CloseNormalClosure, "bye")
			return
		default:
			p.srv.route(p, env)
		}
	}
}

// writePump owns the connection's write side and keepalive pings.
func (p *participant) writePump() {
	ticker := time.NewTicker(p.srv.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		p.shutdown()
	}()

	for {
		select {
		case data := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-p.done:
			return
		}
	}
}
