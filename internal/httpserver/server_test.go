package httpserver

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/callmesh/callmesh/internal/config"
	"github.com/callmesh/callmesh/internal/turncred"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, cfg config.Config, gen *turncred.Generator) *Server {
	t.Helper()
	s := New(cfg, testLogger(), BuildInfo{Commit: "abc", BuildTime: "now"}, gen)
	s.ready.Store(true)
	return s
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Content-Type = %q", ct)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, config.Config{}, nil)
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	decodeJSON(t, rec, &body)
	if body["ok"] != true {
		t.Errorf("body = %v", body)
	}
}

func TestReadyz(t *testing.T) {
	s := newTestServer(t, config.Config{}, nil)

	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("ready status = %d", rec.Code)
	}

	s.ready.Store(false)
	rec = httptest.NewRecorder()
	s.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("not-ready status = %d", rec.Code)
	}
}

func TestVersion(t *testing.T) {
	s := newTestServer(t, config.Config{}, nil)
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/version", nil))
	var body BuildInfo
	decodeJSON(t, rec, &body)
	if body.Commit != "abc" {
		t.Errorf("Commit = %q", body.Commit)
	}
}

func TestICE_Static(t *testing.T) {
	cfg := config.Config{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.example.com:3478"}},
			{URLs: []string{"turn:turn.example.com:3478"}, Username: "static", Credential: "pw"},
		},
	}
	s := newTestServer(t, cfg, nil)
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ice", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var body struct {
		ICEServers []webrtc.ICEServer `json:"iceServers"`
	}
	decodeJSON(t, rec, &body)
	if len(body.ICEServers) != 2 {
		t.Fatalf("got %d servers", len(body.ICEServers))
	}
	if body.ICEServers[1].Username != "static" {
		t.Errorf("static TURN credentials must pass through: %+v", body.ICEServers[1])
	}
}

func TestICE_TURNREST(t *testing.T) {
	gen, err := turncred.NewGenerator(turncred.Config{
		SharedSecret: "s3cret",
		TTL:          time.Hour,
		Prefix:       "callmesh",
	})
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	cfg := config.Config{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.example.com:3478"}},
			{URLs: []string{"turn:turn.example.com:3478"}},
		},
	}
	s := newTestServer(t, cfg, gen)

	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ice?client=alice", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var body struct {
		ICEServers []webrtc.ICEServer `json:"iceServers"`
	}
	decodeJSON(t, rec, &body)

	stun, turn := body.ICEServers[0], body.ICEServers[1]
	if stun.Username != "" {
		t.Errorf("STUN entry must not get credentials: %+v", stun)
	}
	username, ok := turn.Username, turn.Credential != nil
	if !ok || !strings.Contains(username, ":callmesh:alice") {
		t.Fatalf("TURN entry = %+v", turn)
	}
	cred, _ := turn.Credential.(string)
	if !turncred.Verify("s3cret", username, cred) {
		t.Errorf("credential does not verify against shared secret")
	}
}

func TestICE_TURNREST_BadClient(t *testing.T) {
	gen, err := turncred.NewGenerator(turncred.Config{
		SharedSecret: "s3cret",
		TTL:          time.Hour,
		Prefix:       "callmesh",
	})
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	s := newTestServer(t, config.Config{}, gen)

	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ice?client=a:b", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestOriginPolicy(t *testing.T) {
	cfg := config.Config{AllowedOrigins: []string{"https://app.example.com"}}
	s := newTestServer(t, cfg, nil)

	// No Origin header: allowed (CLI clients).
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ice", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("no-origin status = %d", rec.Code)
	}

	// Allowlisted origin gets CORS headers.
	req := httptest.NewRequest(http.MethodGet, "/ice", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec = httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("allowlisted status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}

	// Unknown origin is rejected.
	req = httptest.NewRequest(http.MethodGet, "/ice", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("evil-origin status = %d", rec.Code)
	}
}

func TestMiddleware_RequestID(t *testing.T) {
	s := newTestServer(t, config.Config{}, nil)
	handler := chain(s.mux, requestIDMiddleware())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Header().Get("X-Request-ID") == "" {
		t.Errorf("request id not generated")
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "caller-supplied")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "caller-supplied" {
		t.Errorf("X-Request-ID = %q", got)
	}
}

func TestMiddleware_Recover(t *testing.T) {
	panicking := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") })
	handler := chain(panicking, recoverMiddleware(testLogger()))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
}
