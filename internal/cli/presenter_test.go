package cli

import (
	"strings"
	"testing"
	"time"

	"github.com/callmesh/callmesh/internal/peer"
	"github.com/callmesh/callmesh/internal/protocol"
)

func newTestPresenter() (*ConsolePresenter, *strings.Builder) {
	var sb strings.Builder
	p := NewConsolePresenter(&sb)
	p.now = func() time.Time { return time.Date(2026, 1, 2, 13, 37, 0, 0, time.UTC) }
	return p, &sb
}

func TestPresenterOutput(t *testing.T) {
	p, sb := newTestPresenter()

	p.PeerJoined("alice")
	p.PeerState("alice", peer.StateConnected, "")
	p.PeerState("alice", peer.StateRecovering, "ice restart")
	p.PeerAudio("alice", false)
	p.PeerVideo("alice", true)
	p.PeerMedia("alice", protocol.MediaFlags{Audio: true, Video: false})
	p.Chat("alice", "hello world")
	p.PeerLeft("alice")

	out := sb.String()
	for _, want := range []string{
		"13:37:00",
		"joined the room",
		"connected",
		"recovering",
		"(ice restart)",
		"muted their microphone",
		"enabled their camera",
		"media: audio=true video=false",
		"hello world",
		"left the room",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
