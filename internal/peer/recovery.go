package peer

import (
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
)

// RecoveryPolicy is the escalation ladder applied when a connected link
// degrades. All timers are measured from the moment of degradation.
type RecoveryPolicy struct {
	// OfferGraceDelay holds the first offer briefly so early local
	// candidates accumulate behind it. Bounded; the offer always goes out.
	OfferGraceDelay time.Duration

	// TransportWait is how long to let ICE sort itself out before the first
	// restart attempt.
	TransportWait time.Duration

	// RestartBackoffStart is the delay after the first restart attempt;
	// each further attempt doubles it.
	RestartBackoffStart time.Duration

	// MaxRestartAttempts bounds restart attempts before declaring failure.
	MaxRestartAttempts int

	// RelayOnlyAfter forces the relay-only transport policy and rotates the
	// TURN pool once the link has been down this long.
	RelayOnlyAfter time.Duration

	// EmergencyAfter collapses the ICE configuration to a single TURN
	// server as a last resort.
	EmergencyAfter time.Duration

	// HeartbeatInterval paces control-channel pings while the link is live.
	HeartbeatInterval time.Duration

	// HeartbeatMisses is how many unanswered pings degrade the link even
	// when ICE still reports connected.
	HeartbeatMisses int
}

func (p RecoveryPolicy) WithDefaults() RecoveryPolicy {
	if p.OfferGraceDelay <= 0 {
		p.OfferGraceDelay = 200 * time.Millisecond
	}
	if p.TransportWait <= 0 {
		p.TransportWait = 2 * time.Second
	}
	if p.RestartBackoffStart <= 0 {
		p.RestartBackoffStart = 3 * time.Second
	}
	if p.MaxRestartAttempts <= 0 {
		p.MaxRestartAttempts = 4
	}
	if p.RelayOnlyAfter <= 0 {
		p.RelayOnlyAfter = 5 * time.Second
	}
	if p.EmergencyAfter <= 0 {
		p.EmergencyAfter = 15 * time.Second
	}
	if p.HeartbeatInterval <= 0 {
		p.HeartbeatInterval = 3 * time.Second
	}
	if p.HeartbeatMisses <= 0 {
		p.HeartbeatMisses = 3
	}
	return p
}

// backoff returns the delay to wait after restart attempt n (1-based).
func (p RecoveryPolicy) backoff(attempt int) time.Duration {
	d := p.RestartBackoffStart
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

// Scheduler abstracts time.AfterFunc so recovery timing is testable.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type Timer interface {
	Stop() bool
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// RealScheduler schedules on the process clock.
func RealScheduler() Scheduler { return realScheduler{} }

// ServerPool manages the ICE server list across recovery escalations. The
// zero rotation serves the full list; each Rotate moves to the next TURN
// server so successive restarts try different relays.
type ServerPool struct {
	stun []webrtc.ICEServer
	turn []webrtc.ICEServer
	idx  int
}

func NewServerPool(servers []webrtc.ICEServer) *ServerPool {
	p := &ServerPool{}
	for _, s := range servers {
		if serverHasTURN(s) {
			p.turn = append(p.turn, s)
		} else {
			p.stun = append(p.stun, s)
		}
	}
	return p
}

// Full returns every configured server, STUN first.
func (p *ServerPool) Full() []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(p.stun)+len(p.turn))
	out = append(out, p.stun...)
	out = append(out, p.turn...)
	return out
}

// RelayOnly returns the currently selected TURN server.
func (p *ServerPool) RelayOnly() []webrtc.ICEServer {
	if len(p.turn) == 0 {
		return nil
	}
	return []webrtc.ICEServer{p.turn[p.idx%len(p.turn)]}
}

// Rotate advances to the next TURN server.
func (p *ServerPool) Rotate() {
	if len(p.turn) > 1 {
		p.idx++
	}
}

// Emergency returns the single first-configured TURN server, the fixed last
// resort regardless of rotation state.
func (p *ServerPool) Emergency() []webrtc.ICEServer {
	if len(p.turn) == 0 {
		return nil
	}
	return []webrtc.ICEServer{p.turn[0]}
}

// HasTURN reports whether relay-only escalation is possible at all.
func (p *ServerPool) HasTURN() bool { return len(p.turn) > 0 }

func serverHasTURN(s webrtc.ICEServer) bool {
	for _, raw := range s.URLs {
		u := strings.ToLower(strings.TrimSpace(raw))
		if strings.HasPrefix(u, "turn:") || strings.HasPrefix(u, "turns:") {
			return true
		}
	}
	return false
}
