package controller

import "github.com/pion/webrtc/v4"

// MediaSource produces the local tracks shared by every link in the call.
// Tracks is called at most once per call; acquisition is not repeated when
// later peers join.
type MediaSource interface {
	Tracks() ([]webrtc.TrackLocal, error)
	Close() error
}

// NullSource is a media-less source for signaling-only or headless clients.
type NullSource struct{}

func (NullSource) Tracks() ([]webrtc.TrackLocal, error) { return nil, nil }
func (NullSource) Close() error                         { return nil }

// StaticSource serves pre-built tracks, used by tests and synthetic senders.
type StaticSource struct {
	Local []webrtc.TrackLocal
}

func (s StaticSource) Tracks() ([]webrtc.TrackLocal, error) { return s.Local, nil }
func (StaticSource) Close() error                           { return nil }
