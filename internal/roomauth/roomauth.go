// Package roomauth is the boundary to the external authorization service
// that decides whether a caller may attach to a named room.
//
// Authentication itself is out of scope for the relay: participants arrive
// already holding a room name and an opaque client identifier issued
// elsewhere. This package only asks the external service "may this identity
// join this room".
package roomauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrDenied is returned when the external service rejects the join.
var ErrDenied = errors.New("roomauth: access denied")

// Authorizer answers the allow/deny question before a connection may attach.
type Authorizer interface {
	Authorize(ctx context.Context, room, clientID string) error
}

// AllowAll admits everyone. Used in dev mode and in tests.
type AllowAll struct{}

func (AllowAll) Authorize(ctx context.Context, room, clientID string) error { return nil }

// HTTPAuthorizer calls out to an external authorization endpoint.
//
// The endpoint receives {"room":...,"clientId":...} and must answer 200 to
// allow. 401/403 map to ErrDenied; anything else is a transport error and the
// attach is refused without being reported as a policy denial.
type HTTPAuthorizer struct {
	URL    string
	Client *http.Client
}

func NewHTTPAuthorizer(url string, timeout time.Duration) *HTTPAuthorizer {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPAuthorizer{
		URL:    url,
		Client: &http.Client{Timeout: timeout},
	}
}

type authRequest struct {
	Room     string `json:"room"`
	ClientID string `json:"clientId"`
}

func (a *HTTPAuthorizer) Authorize(ctx context.Context, room, clientID string) error {
	body, err := json.Marshal(authRequest{Room: room, ClientID: clientID})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.URL, strings.NewReader(string(body)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client().Do(req)
	if err != nil {
		return fmt.Errorf("roomauth: authorization request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrDenied
	default:
		return fmt.Errorf("roomauth: unexpected status %d", resp.StatusCode)
	}
}

func (a *HTTPAuthorizer) client() *http.Client {
	if a.Client != nil {
		return a.Client
	}
	return http.DefaultClient
}
