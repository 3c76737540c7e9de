// Package sigclient is the client side of the relay's signaling WebSocket.
package sigclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/callmesh/callmesh/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendQueueLen   = 64
)

var ErrClosed = errors.New("sigclient: connection closed")

// Client owns one signaling connection. Envelopes arrive on Incoming, which
// is closed when the connection dies; malformed server frames are dropped.
type Client struct {
	log      *slog.Logger
	conn     *websocket.Conn
	clientID string

	incoming chan protocol.Envelope
	outgoing chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to serverURL (http, https, ws or wss) and joins room. An
// empty clientID asks the relay to assign one; the effective identity is
// available via ClientID afterwards.
func Dial(ctx context.Context, serverURL, room, clientID string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("sigclient: invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("sigclient: unsupported scheme %q", u.Scheme)
	}
	u.Path = "/rooms/" + url.PathEscape(room) + "/ws"
	if clientID != "" {
		u.RawQuery = url.Values{"client": []string{clientID}}.Encode()
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("sigclient: dial %s: %w", u.String(), err)
	}
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if clientID == "" && resp != nil {
		clientID = resp.Header.Get("X-Client-ID")
	}

	c := &Client{
		log:      logger,
		conn:     conn,
		clientID: clientID,
		incoming: make(chan protocol.Envelope, sendQueueLen),
		outgoing: make(chan []byte, sendQueueLen),
		done:     make(chan struct{}),
	}

	conn.SetReadLimit(maxMessageSize)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.readPump()
	go c.writePump()

	return c, nil
}

// ClientID is the identity the relay knows this client by.
func (c *Client) ClientID() string { return c.clientID }

// Incoming delivers parsed envelopes. Closed when the connection ends.
func (c *Client) Incoming() <-chan protocol.Envelope { return c.incoming }

// Send enqueues an envelope. It never blocks; a full queue means the
// connection is stalled and gets torn down.
func (c *Client) Send(env protocol.Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.outgoing <- data:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		c.log.Warn("signaling send queue overflow, closing")
		c.Close()
		return ErrClosed
	}
}

// Leave announces a graceful departure. The relay turns it into the LEAVE
// peers observe and closes the connection from its side.
func (c *Client) Leave() error {
	return c.Send(protocol.Leave(c.clientID))
}

// Close tears the connection down. Idempotent.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		_ = c.conn.Close()
	})
}

func (c *Client) readPump() {
	defer func() {
		c.Close()
		close(c.incoming)
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		env, err := protocol.Parse(data)
		if err != nil {
			c.log.Warn("dropping malformed envelope from relay", "error", err)
			continue
		}

		select {
		case c.incoming <- env:
		case <-c.done:
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case data := <-c.outgoing:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
