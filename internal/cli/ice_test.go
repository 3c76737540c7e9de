package cli

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFetchICEServers(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ice" {
			http.NotFound(w, r)
			return
		}
		if got := r.URL.Query().Get("client"); got != "alice" {
			t.Errorf("client = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"iceServers":[{"urls":["stun:stun.example.com"]},{"urls":["turn:turn.example.com"],"username":"u","credential":"p"}]}`))
	}))
	defer ts.Close()

	servers, err := FetchICEServers(context.Background(), ts.URL, "alice")
	if err != nil {
		t.Fatalf("FetchICEServers: %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("got %d servers", len(servers))
	}
	if servers[1].Username != "u" {
		t.Errorf("servers[1] = %+v", servers[1])
	}
}

func TestFetchICEServers_Errors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	if _, err := FetchICEServers(context.Background(), ts.URL, ""); err == nil {
		t.Fatalf("expected status error")
	}
	if _, err := FetchICEServers(context.Background(), "http://127.0.0.1:1", ""); err == nil {
		t.Fatalf("expected connection error")
	}
}
