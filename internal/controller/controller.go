// Package controller fans signaling envelopes out to per-peer links and turns
// room events into presenter updates. One Controller is one participant's view
// of one call.
package controller

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/callmesh/callmesh/internal/peer"
	"github.com/callmesh/callmesh/internal/protocol"
)

// Signaling is the slice of the signaling client the controller needs.
type Signaling interface {
	ClientID() string
	Incoming() <-chan protocol.Envelope
	Send(protocol.Envelope) error
	Leave() error
	Close()
}

// Presenter receives room events for display. Implementations must be quick;
// callbacks arrive from the controller's run loop and from link timers.
type Presenter interface {
	PeerJoined(peerID string)
	PeerLeft(peerID string)
	PeerState(peerID string, state peer.State, reason string)
	PeerMedia(peerID string, flags protocol.MediaFlags)
	PeerAudio(peerID string, enabled bool)
	PeerVideo(peerID string, enabled bool)
	Chat(from, message string)
}

// NoopPresenter discards everything.
type NoopPresenter struct{}

func (NoopPresenter) PeerJoined(string)                     {}
func (NoopPresenter) PeerLeft(string)                       {}
func (NoopPresenter) PeerState(string, peer.State, string)  {}
func (NoopPresenter) PeerMedia(string, protocol.MediaFlags) {}
func (NoopPresenter) PeerAudio(string, bool)                {}
func (NoopPresenter) PeerVideo(string, bool)                {}
func (NoopPresenter) Chat(string, string)                   {}

type Config struct {
	Logger    *slog.Logger
	Signaling Signaling
	Factory   peer.TransportFactory
	Policy    peer.RecoveryPolicy
	Scheduler peer.Scheduler

	// ICEServers seed each link's server pool.
	ICEServers []webrtc.ICEServer

	Media     MediaSource
	Presenter Presenter

	// MediaFlags is the local audio/video intent advertised in offers.
	MediaFlags protocol.MediaFlags
}

type Controller struct {
	cfg  Config
	log  *slog.Logger
	pres Presenter

	mu    sync.Mutex
	links map[string]*peer.Link
	flags protocol.MediaFlags

	mediaOnce sync.Once
	tracks    []webrtc.TrackLocal
	mediaErr  error
}

func New(cfg Config) (*Controller, error) {
	if cfg.Signaling == nil {
		return nil, errors.New("controller: signaling is required")
	}
	if cfg.Factory == nil {
		return nil, errors.New("controller: transport factory is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Media == nil {
		cfg.Media = NullSource{}
	}
	if cfg.Presenter == nil {
		cfg.Presenter = NoopPresenter{}
	}
	return &Controller{
		cfg:   cfg,
		log:   cfg.Logger,
		pres:  cfg.Presenter,
		links: make(map[string]*peer.Link),
		flags: cfg.MediaFlags,
	}, nil
}

// Run consumes signaling until the connection closes or ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	for {
		select {
		case env, ok := <-c.cfg.Signaling.Incoming():
			if !ok {
				c.closeAllLinks()
				return nil
			}
			c.handleEnvelope(env)
		case <-ctx.Done():
			_ = c.Leave()
			return ctx.Err()
		}
	}
}

func (c *Controller) handleEnvelope(env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeJoin:
		c.pres.PeerJoined(env.Source)
		// The side already in the room initiates toward the newcomer, so
		// the two ends never race to offer.
		link, created := c.ensureLink(env.Source, true)
		if created {
			go func() {
				if err := link.Start(); err != nil {
					c.log.Error("link start failed", "peer", env.Source, "error", err)
				}
			}()
		}

	case protocol.TypeOffer:
		if env.MediaFlags != nil {
			c.pres.PeerMedia(env.Source, *env.MediaFlags)
		}
		link, _ := c.ensureLink(env.Source, false)
		sdp := *env.SDP
		go func() {
			if err := link.HandleOffer(sdp); err != nil {
				c.log.Error("handle offer failed", "peer", env.Source, "error", err)
			}
		}()

	case protocol.TypeAnswer:
		if link := c.lookup(env.Source); link != nil {
			if err := link.HandleAnswer(*env.SDP); err != nil {
				c.log.Error("handle answer failed", "peer", env.Source, "error", err)
			}
		} else {
			c.log.Debug("answer for unknown peer", "peer", env.Source)
		}

	case protocol.TypeCandidate:
		if link := c.lookup(env.Source); link != nil {
			_ = link.HandleCandidate(*env.Candidate)
		} else {
			c.log.Debug("candidate for unknown peer", "peer", env.Source)
		}

	case protocol.TypeICERestart:
		if link := c.lookup(env.Source); link != nil {
			link.HandleICERestartRequest(env.ForceRelay)
		}

	case protocol.TypeLeave:
		c.mu.Lock()
		link := c.links[env.Source]
		delete(c.links, env.Source)
		c.mu.Unlock()
		if link != nil {
			_ = link.Close()
		}
		c.pres.PeerLeft(env.Source)

	case protocol.TypeAudioToggle:
		c.pres.PeerAudio(env.Source, *env.Enabled)
	case protocol.TypeVideoToggle:
		c.pres.PeerVideo(env.Source, *env.Enabled)

	case protocol.TypeChat:
		c.pres.Chat(env.Source, env.Message)
	}
}

// ensureLink returns the link for peerID, creating it when absent. The
// existing link always wins so an offer racing a join cannot spawn two
// transports for one pair.
func (c *Controller) ensureLink(peerID string, initiator bool) (*peer.Link, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if link, ok := c.links[peerID]; ok {
		return link, false
	}

	link, err := peer.NewLink(peer.LinkConfig{
		Self:         c.cfg.Signaling.ClientID(),
		Peer:         peerID,
		Initiator:    initiator,
		Logger:       c.log,
		Factory:      c.cfg.Factory,
		Send:         c.cfg.Signaling.Send,
		OnEvent:      c.onLinkEvent,
		Policy:       c.cfg.Policy,
		Scheduler:    c.cfg.Scheduler,
		Pool:         peer.NewServerPool(c.cfg.ICEServers),
		AcquireMedia: c.acquireMedia,
		MediaFlags:   c.flags,
	})
	if err != nil {
		// Only possible through a misconfigured controller, which New rejects.
		c.log.Error("link creation failed", "peer", peerID, "error", err)
		return nil, false
	}
	c.links[peerID] = link
	return link, true
}

func (c *Controller) lookup(peerID string) *peer.Link {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.links[peerID]
}

func (c *Controller) onLinkEvent(e peer.Event) {
	c.pres.PeerState(e.Peer, e.State, e.Reason)
}

// acquireMedia resolves the call's local tracks exactly once, however many
// links ask for them.
func (c *Controller) acquireMedia() ([]webrtc.TrackLocal, error) {
	c.mediaOnce.Do(func() {
		c.tracks, c.mediaErr = c.cfg.Media.Tracks()
	})
	return c.tracks, c.mediaErr
}

// SetAudio toggles the local audio flag and announces it to the room.
func (c *Controller) SetAudio(enabled bool) error {
	c.mu.Lock()
	c.flags.Audio = enabled
	c.mu.Unlock()
	return c.cfg.Signaling.Send(protocol.AudioToggle(enabled))
}

// SetVideo toggles the local video flag and announces it to the room.
func (c *Controller) SetVideo(enabled bool) error {
	c.mu.Lock()
	c.flags.Video = enabled
	c.mu.Unlock()
	return c.cfg.Signaling.Send(protocol.VideoToggle(enabled))
}

// SendChat broadcasts a chat line.
func (c *Controller) SendChat(message string) error {
	return c.cfg.Signaling.Send(protocol.Chat(message))
}

// Leave departs gracefully: announce, drop every link, release media.
func (c *Controller) Leave() error {
	err := c.cfg.Signaling.Leave()
	c.closeAllLinks()
	c.cfg.Signaling.Close()
	return err
}

// Peers lists the remote participants with a live or pending link.
func (c *Controller) Peers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.links))
	for id := range c.links {
		out = append(out, id)
	}
	return out
}

// PeerState reports the link state for one peer.
func (c *Controller) PeerState(peerID string) (peer.State, bool) {
	c.mu.Lock()
	link := c.links[peerID]
	c.mu.Unlock()
	if link == nil {
		return 0, false
	}
	return link.State(), true
}

func (c *Controller) closeAllLinks() {
	c.mu.Lock()
	links := c.links
	c.links = make(map[string]*peer.Link)
	c.mu.Unlock()

	for _, link := range links {
		_ = link.Close()
	}
	_ = c.cfg.Media.Close()
}
