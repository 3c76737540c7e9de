// Package turncred mints coturn-compatible TURN REST credentials
// (draft-uberti-behave-turn-rest).
//
// The relay hands these to clients via GET /ice so that the recovery policy's
// relay-only escalation always has a TURN pool with valid, short-lived
// credentials:
//
//	username   = <unix_expiry>:<prefix>:<client_id>
//	credential = base64(hmac_sha1(shared_secret, username))
package turncred

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

type Credentials struct {
	Username   string
	Credential string
	ExpiryUnix int64
}

type Generator struct {
	sharedSecret []byte
	ttl          time.Duration
	prefix       string
	now          func() time.Time
}

type Config struct {
	SharedSecret string
	TTL          time.Duration
	Prefix       string
	Now          func() time.Time
}

func NewGenerator(cfg Config) (*Generator, error) {
	if cfg.SharedSecret == "" {
		return nil, errors.New("turncred: shared secret is required")
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("turncred: TTL must be > 0")
	}
	if cfg.Prefix == "" || strings.Contains(cfg.Prefix, ":") {
		return nil, errors.New("turncred: prefix is required and must not contain ':'")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Generator{
		sharedSecret: []byte(cfg.SharedSecret),
		ttl:          cfg.TTL,
		prefix:       cfg.Prefix,
		now:          cfg.Now,
	}, nil
}

// ForClient mints credentials tied to one client identifier. The identifier
// lands in the TURN username, which makes coturn logs attributable.
func (g *Generator) ForClient(clientID string) (Credentials, error) {
	if clientID == "" {
		var err error
		clientID, err = randomID()
		if err != nil {
			return Credentials{}, err
		}
	}
	if strings.Contains(clientID, ":") {
		return Credentials{}, errors.New("turncred: client id must not contain ':'")
	}

	expiry := g.now().UTC().Add(g.ttl).Unix()
	username := fmt.Sprintf("%d:%s:%s", expiry, g.prefix, clientID)

	mac := hmac.New(sha1.New, g.sharedSecret)
	_, _ = mac.Write([]byte(username))

	return Credentials{
		Username:   username,
		Credential: base64.StdEncoding.EncodeToString(mac.Sum(nil)),
		ExpiryUnix: expiry,
	}, nil
}

// Verify recomputes the HMAC for username against secret. Used by tests and
// by operators debugging coturn rejections.
func Verify(secret, username, credential string) bool {
	mac := hmac.New(sha1.New, []byte(secret))
	_, _ = mac.Write([]byte(username))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(credential))
}

func randomID() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}
