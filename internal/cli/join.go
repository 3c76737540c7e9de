package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pion/logging"
	"github.com/spf13/cobra"

	"github.com/callmesh/callmesh/internal/controller"
	"github.com/callmesh/callmesh/internal/peer"
	"github.com/callmesh/callmesh/internal/protocol"
	"github.com/callmesh/callmesh/internal/sigclient"
)

var joinFlags struct {
	server  string
	name    string
	noAudio bool
	noVideo bool
	verbose bool
}

var joinCmd = &cobra.Command{
	Use:   "join <room>",
	Short: "Join a call room",
	Args:  cobra.ExactArgs(1),
	RunE:  runJoin,
}

func init() {
	joinCmd.Flags().StringVarP(&joinFlags.server, "server", "s", "http://127.0.0.1:8080", "Relay base URL")
	joinCmd.Flags().StringVarP(&joinFlags.name, "name", "n", "", "Client identifier (relay assigns one when empty)")
	joinCmd.Flags().BoolVar(&joinFlags.noAudio, "no-audio", false, "Join with the microphone muted")
	joinCmd.Flags().BoolVar(&joinFlags.noVideo, "no-video", false, "Join with the camera disabled")
	joinCmd.Flags().BoolVarP(&joinFlags.verbose, "verbose", "v", false, "Log link internals")
	rootCmd.AddCommand(joinCmd)
}

func runJoin(cmd *cobra.Command, args []string) error {
	room := args[0]

	level := slog.LevelWarn
	if joinFlags.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	sig, err := sigclient.Dial(dialCtx, joinFlags.server, room, joinFlags.name, logger)
	cancel()
	if err != nil {
		return err
	}

	iceCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	iceServers, err := FetchICEServers(iceCtx, joinFlags.server, sig.ClientID())
	cancel()
	if err != nil {
		sig.Close()
		return err
	}

	pionLevel := logging.LogLevelError
	if joinFlags.verbose {
		pionLevel = logging.LogLevelWarn
	}
	api := peer.NewAPI(pionLevel)

	presenter := NewConsolePresenter(os.Stdout)
	ctrl, err := controller.New(controller.Config{
		Logger:     logger,
		Signaling:  sig,
		Factory:    peer.NewPionFactory(api),
		ICEServers: iceServers,
		Media:      controller.NullSource{},
		Presenter:  presenter,
		MediaFlags: protocol.MediaFlags{Audio: !joinFlags.noAudio, Video: !joinFlags.noVideo},
	})
	if err != nil {
		sig.Close()
		return err
	}

	fmt.Printf("%s %s %s\n",
		okStyle.Render("joined"),
		peerStyle.Render(room),
		mutedStyle.Render("as "+sig.ClientID()))
	fmt.Println(mutedStyle.Render("type to chat; /mute /unmute /video /novideo /quit"))

	go readCommands(ctx, ctrl, os.Stdin)

	if err := ctrl.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	fmt.Println(mutedStyle.Render("left the room"))
	return nil
}

// readCommands turns stdin lines into chat or local media operations.
func readCommands(ctx context.Context, ctrl *controller.Controller, in io.Reader) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var err error
		switch line {
		case "/quit":
			err = ctrl.Leave()
		case "/mute":
			err = ctrl.SetAudio(false)
		case "/unmute":
			err = ctrl.SetAudio(true)
		case "/video":
			err = ctrl.SetVideo(true)
		case "/novideo":
			err = ctrl.SetVideo(false)
		default:
			err = ctrl.SendChat(line)
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, errorStyle.Render(err.Error()))
			return
		}
		if line == "/quit" {
			return
		}
	}
}
