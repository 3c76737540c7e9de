package peer

// State is the lifecycle of one peer link.
//
// The happy path runs Idle, GatheringMedia, Offering or Answering,
// NegotiatingICE, Connected. Degraded and Recovering are entered when the
// transport falters; recovery either returns the link to Connected or ends in
// Failed. Closed is terminal and only reached through Close.
type State int

const (
	StateIdle State = iota
	StateGatheringMedia
	StateOffering
	StateAnswering
	StateNegotiatingICE
	StateConnected
	StateDegraded
	StateRecovering
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateGatheringMedia:
		return "gathering-media"
	case StateOffering:
		return "offering"
	case StateAnswering:
		return "answering"
	case StateNegotiatingICE:
		return "negotiating-ice"
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	case StateRecovering:
		return "recovering"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the link can never leave s.
func (s State) Terminal() bool {
	return s == StateFailed || s == StateClosed
}

// Live reports whether media may currently be flowing.
func (s State) Live() bool {
	return s == StateConnected || s == StateDegraded || s == StateRecovering
}
