package cli

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/callmesh/callmesh/internal/peer"
	"github.com/callmesh/callmesh/internal/protocol"
)

var (
	peerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#22d3ee"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B"))
	errorStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#EF4444"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
	chatStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#F9FAFB"))
	stateStyles = map[peer.State]lipgloss.Style{
		peer.StateConnected:  okStyle,
		peer.StateDegraded:   warnStyle,
		peer.StateRecovering: warnStyle,
		peer.StateFailed:     errorStyle,
	}
)

// ConsolePresenter renders room events as styled log lines. It keeps no
// screen state, so output interleaves cleanly with the chat prompt.
type ConsolePresenter struct {
	mu  sync.Mutex
	out io.Writer
	now func() time.Time
}

func NewConsolePresenter(out io.Writer) *ConsolePresenter {
	return &ConsolePresenter{out: out, now: time.Now}
}

func (p *ConsolePresenter) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	stamp := mutedStyle.Render(p.now().Format("15:04:05"))
	fmt.Fprintf(p.out, "%s %s\n", stamp, fmt.Sprintf(format, args...))
}

func (p *ConsolePresenter) PeerJoined(peerID string) {
	p.printf("%s joined the room", peerStyle.Render(peerID))
}

func (p *ConsolePresenter) PeerLeft(peerID string) {
	p.printf("%s left the room", peerStyle.Render(peerID))
}

func (p *ConsolePresenter) PeerState(peerID string, state peer.State, reason string) {
	style, ok := stateStyles[state]
	if !ok {
		style = mutedStyle
	}
	line := fmt.Sprintf("%s is %s", peerStyle.Render(peerID), style.Render(state.String()))
	if reason != "" {
		line += mutedStyle.Render(" (" + reason + ")")
	}
	p.printf("%s", line)
}

func (p *ConsolePresenter) PeerMedia(peerID string, flags protocol.MediaFlags) {
	p.printf("%s media: audio=%v video=%v", peerStyle.Render(peerID), flags.Audio, flags.Video)
}

func (p *ConsolePresenter) PeerAudio(peerID string, enabled bool) {
	verb := "muted"
	if enabled {
		verb = "unmuted"
	}
	p.printf("%s %s their microphone", peerStyle.Render(peerID), verb)
}

func (p *ConsolePresenter) PeerVideo(peerID string, enabled bool) {
	verb := "disabled"
	if enabled {
		verb = "enabled"
	}
	p.printf("%s %s their camera", peerStyle.Render(peerID), verb)
}

func (p *ConsolePresenter) Chat(from, message string) {
	p.printf("%s %s", peerStyle.Render(from+":"), chatStyle.Render(message))
}
