package roomauth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPAuthorizer_Allow(t *testing.T) {
	var got authRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := NewHTTPAuthorizer(srv.URL, time.Second)
	if err := a.Authorize(context.Background(), "standup", "alice"); err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if got.Room != "standup" || got.ClientID != "alice" {
		t.Fatalf("request body = %+v", got)
	}
}

func TestHTTPAuthorizer_Deny(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	a := NewHTTPAuthorizer(srv.URL, time.Second)
	if err := a.Authorize(context.Background(), "standup", "mallory"); !errors.Is(err, ErrDenied) {
		t.Fatalf("got %v, want ErrDenied", err)
	}
}

func TestHTTPAuthorizer_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := NewHTTPAuthorizer(srv.URL, time.Second)
	err := a.Authorize(context.Background(), "standup", "alice")
	if err == nil || errors.Is(err, ErrDenied) {
		t.Fatalf("server errors must not be reported as denials; got %v", err)
	}
}
