package peer

import (
	"github.com/pion/webrtc/v4"

	"github.com/callmesh/callmesh/internal/protocol"
)

// Transport abstracts the WebRTC peer connection underneath a Link so the
// state machine can be exercised without networking.
//
// Implementations must be safe for concurrent use; the Link calls in from its
// own lock, from signaling handlers and from recovery timers.
type Transport interface {
	// CreateOffer sets a new local description and returns it. With
	// iceRestart it generates fresh ICE credentials so negotiation starts
	// over on the existing session.
	CreateOffer(iceRestart bool) (protocol.SessionDescription, error)

	// HandleOffer applies a remote offer and returns the local answer.
	HandleOffer(sdp protocol.SessionDescription) (protocol.SessionDescription, error)

	// HandleAnswer applies a remote answer.
	HandleAnswer(sdp protocol.SessionDescription) error

	// AddCandidate feeds one remote ICE candidate. Callers must only do so
	// after a remote description has been applied.
	AddCandidate(c protocol.Candidate) error

	// Reconfigure replaces the ICE server set and transport policy ahead of
	// an ICE restart.
	Reconfigure(cfg TransportConfig) error

	// SendControl ships one frame over the control data channel.
	SendControl(data []byte) error

	Close() error
}

// TransportState is the subset of connection states the Link reacts to.
type TransportState int

const (
	TransportNew TransportState = iota
	TransportConnecting
	TransportConnected
	TransportDisconnected
	TransportFailed
	TransportClosed
)

func (s TransportState) String() string {
	switch s {
	case TransportNew:
		return "new"
	case TransportConnecting:
		return "connecting"
	case TransportConnected:
		return "connected"
	case TransportDisconnected:
		return "disconnected"
	case TransportFailed:
		return "failed"
	case TransportClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// TransportConfig selects the ICE servers and policy for a transport.
type TransportConfig struct {
	ICEServers []webrtc.ICEServer

	// RelayOnly forces ICETransportPolicyRelay so only TURN paths are
	// considered. Used by the recovery escalation.
	RelayOnly bool

	// Initiator decides which side opens the control data channel.
	Initiator bool

	// Tracks are the local media tracks to attach.
	Tracks []webrtc.TrackLocal
}

// TransportEvents are callbacks a transport fires from its own goroutines.
type TransportEvents struct {
	OnLocalCandidate func(protocol.Candidate)
	OnStateChange    func(TransportState)
	OnControl        func(data []byte)
}

// TransportFactory builds a fresh transport for a link.
type TransportFactory func(cfg TransportConfig, ev TransportEvents) (Transport, error)
