package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/callmesh/callmesh/internal/chatlog"
	"github.com/callmesh/callmesh/internal/config"
	"github.com/callmesh/callmesh/internal/httpserver"
	"github.com/callmesh/callmesh/internal/metrics"
	"github.com/callmesh/callmesh/internal/relay"
	"github.com/callmesh/callmesh/internal/roomauth"
	"github.com/callmesh/callmesh/internal/turncred"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	// A local .env is a dev convenience; absence is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := config.NewLogger(os.Stderr, cfg)
	slog.SetDefault(logger)

	logger.Info("starting callmesh-relay",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"max_room_size", cfg.MaxRoomSize,
		"ws_idle_timeout", cfg.WSIdleTimeout,
		"room_auth", cfg.RoomAuthURL != "",
		"chat_log", cfg.ChatLogPath != "",
		"turn_rest", cfg.TURNREST.Enabled(),
		"ice_servers", len(cfg.ICEServers),
	)

	var turnCreds *turncred.Generator
	if cfg.TURNREST.Enabled() {
		turnCreds, err = turncred.NewGenerator(turncred.Config{
			SharedSecret: cfg.TURNREST.SharedSecret,
			TTL:          cfg.TURNREST.TTL,
			Prefix:       cfg.TURNREST.Prefix,
		})
		if err != nil {
			logger.Error("failed to configure TURN credentials", "err", err)
			os.Exit(2)
		}
	}

	var authorizer roomauth.Authorizer = roomauth.AllowAll{}
	if cfg.RoomAuthURL != "" {
		authorizer = roomauth.NewHTTPAuthorizer(cfg.RoomAuthURL, cfg.RoomAuthTimeout)
	} else {
		logger.Warn("room authorization disabled, every join is accepted")
	}

	var chatSink relay.ChatSink
	if cfg.ChatLogPath != "" {
		store, err := chatlog.Open(cfg.ChatLogPath)
		if err != nil {
			logger.Error("failed to open chat log", "err", err)
			os.Exit(2)
		}
		defer store.Close()
		chatSink = store
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	commit, built := resolveBuildInfo(buildCommit, buildTime)
	srv := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: built}, turnCreds)

	counters := metrics.New()
	relaySrv := relay.NewServer(relay.Options{
		Logger: logger,
		Config: relay.Config{
			IdleTimeout:          cfg.WSIdleTimeout,
			PingInterval:         cfg.WSPingInterval,
			MaxMessageBytes:      cfg.MaxMessageBytes,
			MaxMessagesPerSecond: cfg.MaxMessagesPerSecond,
		},
		MaxRoomSize: cfg.MaxRoomSize,
		Authorizer:  authorizer,
		AuthTimeout: cfg.RoomAuthTimeout,
		Chat:        chatSink,
		Metrics:     counters,
	})
	srv.Mux().Handle("GET /rooms/{room}/ws", srv.WithOriginPolicy(relaySrv.ServeHTTP))

	// Expose internal counters in Prometheus' text format.
	srv.Mux().Handle("GET /metrics", metrics.PrometheusHandler(counters))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

func resolveBuildInfo(commit, built string) (string, string) {
	// Prefer ldflags-injected values (production builds) but fall back to the
	// Go build info when available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if built == "" {
					built = s.Value
				}
			}
		}
	}
	return commit, built
}
