// Package protocol defines the signaling wire contract shared by the relay
// and the client-side room controller.
//
// The relay treats payloads as opaque; only the envelope fields (type, source,
// target) participate in routing. Validation here is strict so that a
// malformed envelope is rejected at the edge instead of half-handled deeper
// in the stack.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/pion/webrtc/v4"
)

// Type enumerates every envelope kind the relay will route. The set is
// closed: parsing rejects unknown values so every handling site can switch
// exhaustively.
type Type string

const (
	TypeJoin        Type = "join"
	TypeLeave       Type = "leave"
	TypeOffer       Type = "offer"
	TypeAnswer      Type = "answer"
	TypeCandidate   Type = "candidate"
	TypeICERestart  Type = "ice-restart"
	TypeAudioToggle Type = "audio-toggle"
	TypeVideoToggle Type = "video-toggle"
	TypeChat        Type = "chat"
)

// Known reports whether t is one of the closed envelope kinds.
func (t Type) Known() bool {
	switch t {
	case TypeJoin, TypeLeave, TypeOffer, TypeAnswer, TypeCandidate,
		TypeICERestart, TypeAudioToggle, TypeVideoToggle, TypeChat:
		return true
	}
	return false
}

// SessionDescription is a minimal JSON representation of an SDP offer/answer.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

func SDPFromPion(desc webrtc.SessionDescription) SessionDescription {
	return SessionDescription{Type: desc.Type.String(), SDP: desc.SDP}
}

func (s SessionDescription) ToPion() (webrtc.SessionDescription, error) {
	var t webrtc.SDPType
	switch s.Type {
	case "offer":
		t = webrtc.SDPTypeOffer
	case "answer":
		t = webrtc.SDPTypeAnswer
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("unsupported sdp type %q", s.Type)
	}
	return webrtc.SessionDescription{Type: t, SDP: s.SDP}, nil
}

// Candidate is one proposed network path, mirroring the browser's
// RTCIceCandidateInit shape.
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

func CandidateFromPion(init webrtc.ICECandidateInit) Candidate {
	return Candidate{
		Candidate:        init.Candidate,
		SDPMid:           init.SDPMid,
		SDPMLineIndex:    init.SDPMLineIndex,
		UsernameFragment: init.UsernameFragment,
	}
}

func (c Candidate) ToPion() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

// MediaFlags carries the presentation-only audio/video state of a participant.
type MediaFlags struct {
	Audio bool `json:"audio"`
	Video bool `json:"video"`
}

// Envelope is the unit of signaling traffic.
//
// Source is stamped by the relay from the authenticated connection; a value
// supplied by the sender is overwritten and never trusted. Target selects
// directed delivery; when empty the relay broadcasts to every other
// participant in the room.
type Envelope struct {
	Type   Type   `json:"type"`
	Source string `json:"source,omitempty"`
	Target string `json:"target,omitempty"`

	SDP        *SessionDescription `json:"sdp,omitempty"`
	Candidate  *Candidate          `json:"candidate,omitempty"`
	MediaFlags *MediaFlags         `json:"mediaFlags,omitempty"`
	Enabled    *bool               `json:"enabled,omitempty"`
	ForceRelay bool                `json:"forceRelay,omitempty"`
	Message    string              `json:"message,omitempty"`
}

// Parse decodes and validates a single envelope. Unknown fields, unknown
// types and trailing data are all rejected.
func Parse(data []byte) (Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var env Envelope
	if err := dec.Decode(&env); err != nil {
		return Envelope{}, err
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Envelope{}, fmt.Errorf("unexpected trailing data")
	}
	return env, nil
}

// Encode marshals the envelope for the wire.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Validate checks that the envelope carries the fields its type requires and
// none that would be meaningless for it.
func (e Envelope) Validate() error {
	switch e.Type {
	case TypeJoin, TypeLeave:
		if e.Target != "" {
			return fmt.Errorf("%s envelope must not be directed", e.Type)
		}
		if e.SDP != nil || e.Candidate != nil || e.Enabled != nil || e.Message != "" {
			return fmt.Errorf("%s envelope has unexpected payload", e.Type)
		}
	case TypeOffer:
		if e.SDP == nil {
			return fmt.Errorf("offer envelope missing sdp")
		}
		if e.SDP.Type != "offer" {
			return fmt.Errorf("offer envelope has sdp.type=%q", e.SDP.Type)
		}
		if e.Target == "" {
			return fmt.Errorf("offer envelope missing target")
		}
	case TypeAnswer:
		if e.SDP == nil {
			return fmt.Errorf("answer envelope missing sdp")
		}
		if e.SDP.Type != "answer" {
			return fmt.Errorf("answer envelope has sdp.type=%q", e.SDP.Type)
		}
		if e.Target == "" {
			return fmt.Errorf("answer envelope missing target")
		}
	case TypeCandidate:
		if e.Candidate == nil {
			return fmt.Errorf("candidate envelope missing candidate")
		}
		if e.Target == "" {
			return fmt.Errorf("candidate envelope missing target")
		}
	case TypeICERestart:
		if e.Target == "" {
			return fmt.Errorf("ice-restart envelope missing target")
		}
		if e.SDP != nil || e.Candidate != nil || e.Enabled != nil || e.Message != "" {
			return fmt.Errorf("ice-restart envelope has unexpected payload")
		}
	case TypeAudioToggle, TypeVideoToggle:
		if e.Enabled == nil {
			return fmt.Errorf("%s envelope missing enabled", e.Type)
		}
		if e.Target != "" {
			return fmt.Errorf("%s envelope must not be directed", e.Type)
		}
	case TypeChat:
		if e.Message == "" {
			return fmt.Errorf("chat envelope missing message")
		}
		if e.Target != "" {
			return fmt.Errorf("chat envelope must not be directed")
		}
	default:
		return fmt.Errorf("unsupported envelope type %q", e.Type)
	}
	return nil
}

// Constructors for envelopes originated by the client or the relay.

func Join(clientID string) Envelope  { return Envelope{Type: TypeJoin, Source: clientID} }
func Leave(clientID string) Envelope { return Envelope{Type: TypeLeave, Source: clientID} }

func Offer(target string, sdp SessionDescription, flags *MediaFlags) Envelope {
	return Envelope{Type: TypeOffer, Target: target, SDP: &sdp, MediaFlags: flags}
}

func Answer(target string, sdp SessionDescription) Envelope {
	return Envelope{Type: TypeAnswer, Target: target, SDP: &sdp}
}

func NewCandidate(target string, cand Candidate) Envelope {
	return Envelope{Type: TypeCandidate, Target: target, Candidate: &cand}
}

func ICERestart(target string, forceRelay bool) Envelope {
	return Envelope{Type: TypeICERestart, Target: target, ForceRelay: forceRelay}
}

func AudioToggle(enabled bool) Envelope {
	return Envelope{Type: TypeAudioToggle, Enabled: &enabled}
}

func VideoToggle(enabled bool) Envelope {
	return Envelope{Type: TypeVideoToggle, Enabled: &enabled}
}

func Chat(message string) Envelope { return Envelope{Type: TypeChat, Message: message} }
