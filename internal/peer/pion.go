package peer

import (
	"errors"
	"sync"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"

	"github.com/callmesh/callmesh/internal/protocol"
)

// NewAPI builds the shared WebRTC API with pion's logging routed at the given
// level. One API serves every link in the process.
func NewAPI(level logging.LogLevel) *webrtc.API {
	factory := logging.NewDefaultLoggerFactory()
	factory.DefaultLogLevel = level

	settings := webrtc.SettingEngine{LoggerFactory: factory}
	return webrtc.NewAPI(webrtc.WithSettingEngine(settings))
}

// NewPionFactory returns the production TransportFactory.
func NewPionFactory(api *webrtc.API) TransportFactory {
	return func(cfg TransportConfig, ev TransportEvents) (Transport, error) {
		pc, err := api.NewPeerConnection(pionConfiguration(cfg))
		if err != nil {
			return nil, err
		}
		t := &pionTransport{pc: pc, ev: ev}

		for _, track := range cfg.Tracks {
			if _, err := pc.AddTrack(track); err != nil {
				_ = pc.Close()
				return nil, err
			}
		}

		pc.OnICECandidate(func(c *webrtc.ICECandidate) {
			if c == nil || ev.OnLocalCandidate == nil {
				return
			}
			ev.OnLocalCandidate(protocol.CandidateFromPion(c.ToJSON()))
		})
		pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
			if ev.OnStateChange != nil {
				ev.OnStateChange(mapPionState(s))
			}
		})

		if cfg.Initiator {
			dc, err := pc.CreateDataChannel("ctl", nil)
			if err != nil {
				_ = pc.Close()
				return nil, err
			}
			t.bindControl(dc)
		} else {
			pc.OnDataChannel(func(dc *webrtc.DataChannel) {
				if dc.Label() == "ctl" {
					t.bindControl(dc)
				}
			})
		}

		return t, nil
	}
}

type pionTransport struct {
	pc *webrtc.PeerConnection
	ev TransportEvents

	mu  sync.Mutex
	ctl *webrtc.DataChannel
}

func (t *pionTransport) bindControl(dc *webrtc.DataChannel) {
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if t.ev.OnControl != nil {
			t.ev.OnControl(msg.Data)
		}
	})
	t.mu.Lock()
	t.ctl = dc
	t.mu.Unlock()
}

func (t *pionTransport) CreateOffer(iceRestart bool) (protocol.SessionDescription, error) {
	var opts *webrtc.OfferOptions
	if iceRestart {
		opts = &webrtc.OfferOptions{ICERestart: true}
	}
	offer, err := t.pc.CreateOffer(opts)
	if err != nil {
		return protocol.SessionDescription{}, err
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return protocol.SessionDescription{}, err
	}
	return protocol.SDPFromPion(offer), nil
}

func (t *pionTransport) HandleOffer(sdp protocol.SessionDescription) (protocol.SessionDescription, error) {
	remote, err := sdp.ToPion()
	if err != nil {
		return protocol.SessionDescription{}, err
	}
	if err := t.pc.SetRemoteDescription(remote); err != nil {
		return protocol.SessionDescription{}, err
	}
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return protocol.SessionDescription{}, err
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return protocol.SessionDescription{}, err
	}
	return protocol.SDPFromPion(answer), nil
}

func (t *pionTransport) HandleAnswer(sdp protocol.SessionDescription) error {
	remote, err := sdp.ToPion()
	if err != nil {
		return err
	}
	return t.pc.SetRemoteDescription(remote)
}

func (t *pionTransport) AddCandidate(c protocol.Candidate) error {
	return t.pc.AddICECandidate(c.ToPion())
}

func (t *pionTransport) Reconfigure(cfg TransportConfig) error {
	return t.pc.SetConfiguration(pionConfiguration(cfg))
}

func (t *pionTransport) SendControl(data []byte) error {
	t.mu.Lock()
	dc := t.ctl
	t.mu.Unlock()
	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return errors.New("peer: control channel not open")
	}
	return dc.Send(data)
}

func (t *pionTransport) Close() error {
	return t.pc.Close()
}

func pionConfiguration(cfg TransportConfig) webrtc.Configuration {
	policy := webrtc.ICETransportPolicyAll
	if cfg.RelayOnly {
		policy = webrtc.ICETransportPolicyRelay
	}
	return webrtc.Configuration{
		ICEServers:         cfg.ICEServers,
		ICETransportPolicy: policy,
	}
}

func mapPionState(s webrtc.PeerConnectionState) TransportState {
	switch s {
	case webrtc.PeerConnectionStateNew:
		return TransportNew
	case webrtc.PeerConnectionStateConnecting:
		return TransportConnecting
	case webrtc.PeerConnectionStateConnected:
		return TransportConnected
	case webrtc.PeerConnectionStateDisconnected:
		return TransportDisconnected
	case webrtc.PeerConnectionStateFailed:
		return TransportFailed
	default:
		return TransportClosed
	}
}
