package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/pion/webrtc/v4"
)

// FetchICEServers asks the relay for its advertised ICE configuration. When
// TURN REST is enabled server-side the returned credentials are ephemeral and
// bound to clientID.
func FetchICEServers(ctx context.Context, serverURL, clientID string) ([]webrtc.ICEServer, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	u.Path = "/ice"
	if clientID != "" {
		u.RawQuery = url.Values{"client": []string{clientID}}.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch ice config: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch ice config: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		ICEServers []webrtc.ICEServer `json:"iceServers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("fetch ice config: %w", err)
	}
	return body.ICEServers, nil
}
