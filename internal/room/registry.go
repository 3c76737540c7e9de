// Package room tracks which participant connections belong to which named
// room. It is the single authority for call membership on a relay instance.
package room

import (
	"errors"
	"iter"
	"sync"
)

var (
	// ErrDuplicateParticipant is returned when a client identifier is already
	// registered in the room. The existing connection wins; the caller is
	// expected to pick a fresh identifier and retry.
	ErrDuplicateParticipant = errors.New("room: duplicate participant")

	// ErrRoomFull is returned when joining would exceed the configured room
	// size cap.
	ErrRoomFull = errors.New("room: room full")
)

// Registry maps room name -> client identifier -> connection handle.
//
// All mutation is internally synchronized; handler goroutines never touch the
// underlying maps directly. The registry stores handles opaquely and never
// calls into them, so delivery failures cannot deadlock membership changes.
type Registry[C any] struct {
	// MaxRoomSize caps participants per room. Zero means unlimited.
	MaxRoomSize int

	mu    sync.Mutex
	rooms map[string]map[string]C
}

func NewRegistry[C any](maxRoomSize int) *Registry[C] {
	return &Registry[C]{
		MaxRoomSize: maxRoomSize,
		rooms:       make(map[string]map[string]C),
	}
}

// Join registers conn under room/clientID. The room is created implicitly on
// first join.
func (r *Registry[C]) Join(room, clientID string, conn C) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]C)
		r.rooms[room] = members
	}
	if _, exists := members[clientID]; exists {
		return ErrDuplicateParticipant
	}
	if r.MaxRoomSize > 0 && len(members) >= r.MaxRoomSize {
		return ErrRoomFull
	}
	members[clientID] = conn
	return nil
}

// Leave removes the mapping. It is a no-op when the participant is already
// absent, so duplicate disconnect notifications are harmless. An emptied room
// is dropped from the registry.
func (r *Registry[C]) Leave(room, clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[room]
	if !ok {
		return
	}
	delete(members, clientID)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
}

// Lookup returns the connection registered for room/clientID.
func (r *Registry[C]) Lookup(room, clientID string) (C, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero C
	members, ok := r.rooms[room]
	if !ok {
		return zero, false
	}
	conn, ok := members[clientID]
	return conn, ok
}

// Others returns a restartable sequence of every connection in room except
// exceptClientID. Membership is snapshotted under the lock each time the
// sequence is ranged, so a concurrent leave cannot corrupt iteration; a
// participant that departs mid-broadcast may still receive the message, which
// callers tolerate (delivery to a closed connection is dropped).
func (r *Registry[C]) Others(room, exceptClientID string) iter.Seq2[string, C] {
	return func(yield func(string, C) bool) {
		r.mu.Lock()
		members := r.rooms[room]
		snapshot := make(map[string]C, len(members))
		for id, conn := range members {
			if id != exceptClientID {
				snapshot[id] = conn
			}
		}
		r.mu.Unlock()

		for id, conn := range snapshot {
			if !yield(id, conn) {
				return
			}
		}
	}
}

// Size reports the current membership count of room (0 when absent).
func (r *Registry[C]) Size(room string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms[room])
}

// RoomCount reports how many rooms currently exist.
func (r *Registry[C]) RoomCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}
