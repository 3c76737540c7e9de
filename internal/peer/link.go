// Package peer implements the client side of a call: one Link per remote
// participant, owning the WebRTC transport, the offer/answer exchange and the
// layered recovery that keeps the link alive through network trouble.
package peer

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/callmesh/callmesh/internal/protocol"
)

// Event notifies the owner of a state change on a link.
type Event struct {
	Peer   string
	State  State
	Reason string
}

// LinkConfig wires one link to its collaborators.
type LinkConfig struct {
	// Self and Peer are the client identifiers on each end.
	Self string
	Peer string

	// Initiator marks the side that sends the first offer. Only the
	// initiator performs ICE restarts; the responder asks for them over
	// signaling so the two sides cannot glare.
	Initiator bool

	Logger  *slog.Logger
	Factory TransportFactory

	// Send enqueues an envelope toward the relay. It must not block.
	Send func(protocol.Envelope) error

	// OnEvent is invoked on every state change, from the link's lock. It
	// must not call back into the link.
	OnEvent func(Event)

	Policy    RecoveryPolicy
	Scheduler Scheduler
	Pool      *ServerPool

	// AcquireMedia produces the local tracks to attach. Called once, while
	// the link is in GatheringMedia. Nil means a media-less link.
	AcquireMedia func() ([]webrtc.TrackLocal, error)

	// MediaFlags advertises the initial audio/video intent in the offer.
	MediaFlags protocol.MediaFlags
}

// Link is the connection state machine for one remote peer.
type Link struct {
	mu  sync.Mutex
	cfg LinkConfig
	log *slog.Logger

	state     State
	tr        Transport
	remoteSet bool
	pending   []protocol.Candidate

	// Local candidates gathered before the first offer has gone out are
	// held back so they never arrive ahead of it.
	holdOutbound bool
	outbound     []protocol.Candidate

	relayOnly bool
	emergency bool

	// gen invalidates outstanding timers: every scheduled closure captures
	// the generation at scheduling time and becomes a no-op once it moves.
	gen     uint64
	attempt int
	timers  []Timer

	hbSeq    uint64
	hbMisses int
	lastRTT  time.Duration
}

func NewLink(cfg LinkConfig) (*Link, error) {
	if cfg.Peer == "" {
		return nil, errors.New("peer: link requires a peer id")
	}
	if cfg.Factory == nil {
		return nil, errors.New("peer: link requires a transport factory")
	}
	if cfg.Send == nil {
		return nil, errors.New("peer: link requires a send function")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = RealScheduler()
	}
	if cfg.Pool == nil {
		cfg.Pool = NewServerPool(nil)
	}
	cfg.Policy = cfg.Policy.WithDefaults()

	return &Link{
		cfg:   cfg,
		log:   cfg.Logger.With("peer", cfg.Peer),
		state: StateIdle,
	}, nil
}

func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// RTT is the last heartbeat round trip, zero before the first sample.
func (l *Link) RTT() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastRTT
}

// Start drives the initiator's side: gather media, open a transport and send
// the first offer. It is a no-op unless the link is Idle.
func (l *Link) Start() error {
	l.mu.Lock()
	if !l.cfg.Initiator {
		l.mu.Unlock()
		return errors.New("peer: only the initiator starts a link")
	}
	if l.state != StateIdle {
		l.mu.Unlock()
		return nil
	}
	l.setStateLocked(StateGatheringMedia, "")
	l.mu.Unlock()

	tracks, err := l.acquireMedia()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateGatheringMedia {
		return nil
	}
	if err != nil {
		l.failLocked(fmt.Sprintf("media acquisition: %v", err))
		return err
	}

	if err := l.openTransportLocked(tracks); err != nil {
		l.failLocked(fmt.Sprintf("transport: %v", err))
		return err
	}

	sdp, err := l.tr.CreateOffer(false)
	if err != nil {
		l.failLocked(fmt.Sprintf("create offer: %v", err))
		return err
	}
	l.setStateLocked(StateOffering, "")

	// The local description is set, so candidate gathering has started.
	// Hold the offer for a short grace window so the first candidates
	// accumulate and follow it immediately, then send no matter what.
	l.holdOutbound = true
	g := l.gen
	flags := l.cfg.MediaFlags
	l.timers = append(l.timers,
		l.cfg.Scheduler.AfterFunc(l.cfg.Policy.OfferGraceDelay, func() { l.sendFirstOffer(g, sdp, flags) }))
	return nil
}

func (l *Link) sendFirstOffer(g uint64, sdp protocol.SessionDescription, flags protocol.MediaFlags) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.gen != g || l.state != StateOffering {
		return
	}
	if err := l.cfg.Send(protocol.Offer(l.cfg.Peer, sdp, &flags)); err != nil {
		l.failLocked(fmt.Sprintf("send offer: %v", err))
		return
	}
	l.holdOutbound = false
	for _, c := range l.outbound {
		if err := l.cfg.Send(protocol.NewCandidate(l.cfg.Peer, c)); err != nil {
			l.log.Warn("send candidate failed", "error", err)
		}
	}
	l.outbound = nil
}

// HandleOffer processes a remote offer. On an established link this is the
// peer's ICE restart; on a fresh one it starts the answering flow. An offer
// that glares with our own (we are the initiator and already mid-offer or
// connected) is ignored, so exactly one side's offer survives.
func (l *Link) HandleOffer(sdp protocol.SessionDescription) error {
	l.mu.Lock()
	if l.state.Terminal() {
		l.mu.Unlock()
		return nil
	}
	if l.cfg.Initiator {
		l.log.Debug("ignoring glare offer", "state", l.state.String())
		l.mu.Unlock()
		return nil
	}

	if l.tr != nil {
		// Renegotiation on the existing transport.
		defer l.mu.Unlock()
		return l.answerLocked(sdp)
	}

	if l.state != StateIdle {
		l.mu.Unlock()
		return nil
	}
	l.setStateLocked(StateGatheringMedia, "")
	l.mu.Unlock()

	tracks, err := l.acquireMedia()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateGatheringMedia {
		return nil
	}
	if err != nil {
		l.failLocked(fmt.Sprintf("media acquisition: %v", err))
		return err
	}
	l.setStateLocked(StateAnswering, "")

	if err := l.openTransportLocked(tracks); err != nil {
		l.failLocked(fmt.Sprintf("transport: %v", err))
		return err
	}
	return l.answerLocked(sdp)
}

func (l *Link) answerLocked(sdp protocol.SessionDescription) error {
	answer, err := l.tr.HandleOffer(sdp)
	if err != nil {
		l.failLocked(fmt.Sprintf("handle offer: %v", err))
		return err
	}
	l.remoteSet = true
	l.flushCandidatesLocked()

	if err := l.cfg.Send(protocol.Answer(l.cfg.Peer, answer)); err != nil {
		l.failLocked(fmt.Sprintf("send answer: %v", err))
		return err
	}
	if l.state == StateAnswering {
		l.setStateLocked(StateNegotiatingICE, "")
	}
	return nil
}

// HandleAnswer applies the peer's answer to our outstanding offer.
func (l *Link) HandleAnswer(sdp protocol.SessionDescription) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.Terminal() || !l.cfg.Initiator || l.tr == nil {
		return nil
	}
	if err := l.tr.HandleAnswer(sdp); err != nil {
		l.failLocked(fmt.Sprintf("handle answer: %v", err))
		return err
	}
	l.remoteSet = true
	l.flushCandidatesLocked()
	if l.state == StateOffering {
		l.setStateLocked(StateNegotiatingICE, "")
	}
	return nil
}

// HandleCandidate feeds one remote candidate, buffering it until a remote
// description has been applied.
func (l *Link) HandleCandidate(c protocol.Candidate) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.Terminal() {
		return nil
	}
	if l.tr == nil || !l.remoteSet {
		l.pending = append(l.pending, c)
		return nil
	}
	if err := l.tr.AddCandidate(c); err != nil {
		// A single bad candidate is not fatal; others may still connect.
		l.log.Warn("add candidate failed", "error", err)
	}
	return nil
}

func (l *Link) flushCandidatesLocked() {
	for _, c := range l.pending {
		if err := l.tr.AddCandidate(c); err != nil {
			l.log.Warn("add buffered candidate failed", "error", err)
		}
	}
	l.pending = nil
}

// HandleICERestartRequest reacts to the peer asking for an ICE restart. Only
// the initiator actually restarts; on the responder the request can still
// force the relay-only policy so both sides escalate together.
func (l *Link) HandleICERestartRequest(forceRelay bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.Terminal() || l.tr == nil {
		return
	}
	if forceRelay && !l.relayOnly && l.cfg.Pool.HasTURN() {
		l.relayOnly = true
		l.reconfigureLocked()
	}
	if l.cfg.Initiator {
		l.restartLocked("peer requested restart")
	}
}

// Close tears the link down. Idempotent; the terminal state is Closed.
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateClosed {
		return nil
	}
	l.gen++
	l.cancelTimersLocked()
	l.pending = nil
	l.outbound = nil
	var err error
	if l.tr != nil {
		err = l.tr.Close()
	}
	l.setStateLocked(StateClosed, "")
	return err
}

func (l *Link) acquireMedia() ([]webrtc.TrackLocal, error) {
	if l.cfg.AcquireMedia == nil {
		return nil, nil
	}
	return l.cfg.AcquireMedia()
}

func (l *Link) openTransportLocked(tracks []webrtc.TrackLocal) error {
	tr, err := l.cfg.Factory(TransportConfig{
		ICEServers: l.cfg.Pool.Full(),
		RelayOnly:  false,
		Initiator:  l.cfg.Initiator,
		Tracks:     tracks,
	}, TransportEvents{
		OnLocalCandidate: l.onLocalCandidate,
		OnStateChange:    l.onTransportState,
		OnControl:        l.onControl,
	})
	if err != nil {
		return err
	}
	l.tr = tr
	return nil
}

func (l *Link) onLocalCandidate(c protocol.Candidate) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.Terminal() {
		return
	}
	if l.holdOutbound {
		l.outbound = append(l.outbound, c)
		return
	}
	if err := l.cfg.Send(protocol.NewCandidate(l.cfg.Peer, c)); err != nil {
		l.log.Warn("send candidate failed", "error", err)
	}
}

func (l *Link) onTransportState(ts TransportState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.Terminal() {
		return
	}

	switch ts {
	case TransportConnected:
		l.gen++
		l.cancelTimersLocked()
		l.attempt = 0
		l.hbMisses = 0
		l.setStateLocked(StateConnected, "")
		l.scheduleHeartbeatLocked()
	case TransportDisconnected:
		if l.state == StateConnected {
			l.enterDegradedLocked("transport disconnected")
		}
	case TransportFailed:
		switch l.state {
		case StateConnected, StateNegotiatingICE:
			l.enterDegradedLocked("transport failed")
		}
	}
}

func (l *Link) setStateLocked(s State, reason string) {
	if l.state == s {
		return
	}
	l.state = s
	l.log.Info("link state", "state", s.String(), "reason", reason)
	if l.cfg.OnEvent != nil {
		l.cfg.OnEvent(Event{Peer: l.cfg.Peer, State: s, Reason: reason})
	}
}

// enterDegradedLocked arms the whole escalation ladder at once. Each rung
// checks the generation before acting, so reconnecting disarms everything.
func (l *Link) enterDegradedLocked(reason string) {
	l.gen++
	l.cancelTimersLocked()
	l.setStateLocked(StateDegraded, reason)

	g := l.gen
	p := l.cfg.Policy
	l.timers = append(l.timers,
		l.cfg.Scheduler.AfterFunc(p.TransportWait, func() { l.beginRestarts(g) }),
		l.cfg.Scheduler.AfterFunc(p.RelayOnlyAfter, func() { l.escalateRelayOnly(g) }),
		l.cfg.Scheduler.AfterFunc(p.EmergencyAfter, func() { l.escalateEmergency(g) }),
	)
}

func (l *Link) beginRestarts(g uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.gen != g || l.state != StateDegraded {
		return
	}
	l.setStateLocked(StateRecovering, "ice restart")
	l.attempt = 1
	l.restartLocked("transport wait elapsed")
	l.timers = append(l.timers,
		l.cfg.Scheduler.AfterFunc(l.cfg.Policy.backoff(1), func() { l.nextRestart(g, 2) }))
}

func (l *Link) nextRestart(g uint64, attempt int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.gen != g || l.state != StateRecovering {
		return
	}
	if attempt > l.cfg.Policy.MaxRestartAttempts {
		l.failLocked("restart attempts exhausted")
		return
	}
	l.attempt = attempt
	// While relay-only, every attempt tries the next TURN server so a single
	// unreachable relay cannot burn through all remaining attempts. Emergency
	// mode pins one server and stops rotating.
	if l.relayOnly && !l.emergency && l.cfg.Pool.HasTURN() {
		l.cfg.Pool.Rotate()
		l.reconfigureLocked()
	}
	l.restartLocked(fmt.Sprintf("restart attempt %d", attempt))
	l.timers = append(l.timers,
		l.cfg.Scheduler.AfterFunc(l.cfg.Policy.backoff(attempt), func() { l.nextRestart(g, attempt+1) }))
}

func (l *Link) escalateRelayOnly(g uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.gen != g || !l.state.Live() {
		return
	}
	if !l.cfg.Pool.HasTURN() {
		l.log.Warn("relay-only escalation skipped, no TURN servers configured")
		return
	}
	l.relayOnly = true
	l.cfg.Pool.Rotate()
	l.reconfigureLocked()
	l.restartLocked("relay-only escalation")
}

func (l *Link) escalateEmergency(g uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.gen != g || !l.state.Live() {
		return
	}
	if !l.cfg.Pool.HasTURN() {
		return
	}
	l.emergency = true
	l.relayOnly = true
	l.reconfigureLocked()
	l.restartLocked("emergency fallback")
}

func (l *Link) reconfigureLocked() {
	servers := l.cfg.Pool.Full()
	switch {
	case l.emergency:
		servers = l.cfg.Pool.Emergency()
	case l.relayOnly:
		servers = l.cfg.Pool.RelayOnly()
	}
	if err := l.tr.Reconfigure(TransportConfig{
		ICEServers: servers,
		RelayOnly:  l.relayOnly,
		Initiator:  l.cfg.Initiator,
	}); err != nil {
		l.log.Warn("transport reconfigure failed", "error", err)
	}
}

// restartLocked performs one recovery step. The initiator restarts ICE by
// sending a restart offer; the responder asks the initiator to do so.
func (l *Link) restartLocked(reason string) {
	if l.tr == nil {
		return
	}
	l.log.Info("ice restart", "reason", reason, "attempt", l.attempt, "relay_only", l.relayOnly, "emergency", l.emergency)

	if !l.cfg.Initiator {
		if err := l.cfg.Send(protocol.ICERestart(l.cfg.Peer, l.relayOnly)); err != nil {
			l.log.Warn("send restart request failed", "error", err)
		}
		return
	}

	sdp, err := l.tr.CreateOffer(true)
	if err != nil {
		l.log.Warn("restart offer failed", "error", err)
		return
	}
	if err := l.cfg.Send(protocol.Offer(l.cfg.Peer, sdp, nil)); err != nil {
		l.log.Warn("send restart offer failed", "error", err)
	}
}

func (l *Link) failLocked(reason string) {
	l.gen++
	l.cancelTimersLocked()
	l.pending = nil
	l.outbound = nil
	if l.tr != nil {
		_ = l.tr.Close()
	}
	l.setStateLocked(StateFailed, reason)
}

func (l *Link) cancelTimersLocked() {
	for _, t := range l.timers {
		t.Stop()
	}
	l.timers = nil
}
