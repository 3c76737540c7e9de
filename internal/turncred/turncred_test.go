package turncred

import (
	"strings"
	"testing"
	"time"
)

func fixedNow() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }

func TestGenerator_ForClient(t *testing.T) {
	g, err := NewGenerator(Config{
		SharedSecret: "s3cret",
		TTL:          time.Hour,
		Prefix:       "callmesh",
		Now:          fixedNow,
	})
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}

	creds, err := g.ForClient("alice")
	if err != nil {
		t.Fatalf("ForClient: %v", err)
	}

	wantExpiry := fixedNow().Add(time.Hour).Unix()
	if creds.ExpiryUnix != wantExpiry {
		t.Fatalf("expiry = %d, want %d", creds.ExpiryUnix, wantExpiry)
	}
	parts := strings.SplitN(creds.Username, ":", 3)
	if len(parts) != 3 || parts[1] != "callmesh" || parts[2] != "alice" {
		t.Fatalf("username = %q", creds.Username)
	}
	if !Verify("s3cret", creds.Username, creds.Credential) {
		t.Fatalf("credential does not verify")
	}
	if Verify("wrong", creds.Username, creds.Credential) {
		t.Fatalf("credential verified with wrong secret")
	}
}

func TestGenerator_RejectsColonInClientID(t *testing.T) {
	g, err := NewGenerator(Config{SharedSecret: "s", TTL: time.Minute, Prefix: "p"})
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	if _, err := g.ForClient("a:b"); err == nil {
		t.Fatalf("expected error for ':' in client id")
	}
}

func TestGenerator_RandomIDWhenEmpty(t *testing.T) {
	g, err := NewGenerator(Config{SharedSecret: "s", TTL: time.Minute, Prefix: "p"})
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	creds, err := g.ForClient("")
	if err != nil {
		t.Fatalf("ForClient: %v", err)
	}
	if !Verify("s", creds.Username, creds.Credential) {
		t.Fatalf("random-id credential does not verify")
	}
}

func TestNewGenerator_Validation(t *testing.T) {
	cases := []Config{
		{SharedSecret: "", TTL: time.Minute, Prefix: "p"},
		{SharedSecret: "s", TTL: 0, Prefix: "p"},
		{SharedSecret: "s", TTL: time.Minute, Prefix: ""},
		{SharedSecret: "s", TTL: time.Minute, Prefix: "a:b"},
	}
	for i, cfg := range cases {
		if _, err := NewGenerator(cfg); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}
