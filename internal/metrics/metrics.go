package metrics

import "sync"

// Counter names used across the relay. Kept as plain strings so the registry
// stays a simple map; the Prometheus handler exposes them as an `event` label.
const (
	EnvelopeForwarded    = "envelope_forwarded"
	EnvelopeBroadcast    = "envelope_broadcast"
	EnvelopeUnroutable   = "envelope_unroutable"
	EnvelopeMalformed    = "envelope_malformed"
	ParticipantJoined    = "participant_joined"
	ParticipantLeft      = "participant_left"
	DuplicateParticipant = "duplicate_participant"
	RoomFull             = "room_full"
	AuthDenied           = "auth_denied"
	RateLimited          = "rate_limited"
	ChatRecorded         = "chat_recorded"
	ChatRecordFailed     = "chat_record_failed"
)

// Metrics is a minimal, concurrency-safe counter registry.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{m: make(map[string]uint64)}
}

func (m *Metrics) Inc(name string) { m.Add(name, 1) }

func (m *Metrics) Add(name string, delta uint64) {
	m.mu.Lock()
	if m.m == nil {
		m.m = make(map[string]uint64)
	}
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
