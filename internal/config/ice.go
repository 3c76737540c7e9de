package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

const (
	envICEServersJSON = "CALLMESH_ICE_SERVERS_JSON"
	envSTUNURLs       = "CALLMESH_STUN_URLS"
	envTURNURLs       = "CALLMESH_TURN_URLS"
	envTURNUsername   = "CALLMESH_TURN_USERNAME"
	envTURNCredential = "CALLMESH_TURN_CREDENTIAL"
)

type iceServerJSON struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// parseICEServers builds the advertised ICE server list. The JSON form is
// authoritative when set; otherwise the list is assembled from the simple
// STUN/TURN URL variables. Static TURN credentials here are overridden at
// serve time when TURN REST is enabled.
func parseICEServers(serversJSON, stunURLs, turnURLs, turnUsername, turnCredential string) ([]webrtc.ICEServer, error) {
	if strings.TrimSpace(serversJSON) != "" {
		return parseICEServersJSON(serversJSON)
	}

	var servers []webrtc.ICEServer
	if urls := splitCSV(stunURLs); len(urls) > 0 {
		for _, u := range urls {
			if !strings.HasPrefix(u, "stun:") && !strings.HasPrefix(u, "stuns:") {
				return nil, fmt.Errorf("invalid STUN URL %q (want stun: or stuns: scheme)", u)
			}
		}
		servers = append(servers, webrtc.ICEServer{URLs: urls})
	}
	if urls := splitCSV(turnURLs); len(urls) > 0 {
		for _, u := range urls {
			if !strings.HasPrefix(u, "turn:") && !strings.HasPrefix(u, "turns:") {
				return nil, fmt.Errorf("invalid TURN URL %q (want turn: or turns: scheme)", u)
			}
		}
		server := webrtc.ICEServer{URLs: urls}
		if turnUsername != "" {
			server.Username = turnUsername
			server.Credential = turnCredential
		}
		servers = append(servers, server)
	}
	return servers, nil
}

func parseICEServersJSON(raw string) ([]webrtc.ICEServer, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.DisallowUnknownFields()
	var parsed []iceServerJSON
	if err := dec.Decode(&parsed); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", envICEServersJSON, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("invalid %s: trailing data", envICEServersJSON)
	}

	servers := make([]webrtc.ICEServer, 0, len(parsed))
	for i, s := range parsed {
		if len(s.URLs) == 0 {
			return nil, fmt.Errorf("invalid %s: server %d has no urls", envICEServersJSON, i)
		}
		for _, u := range s.URLs {
			switch {
			case strings.HasPrefix(u, "stun:"), strings.HasPrefix(u, "stuns:"),
				strings.HasPrefix(u, "turn:"), strings.HasPrefix(u, "turns:"):
			default:
				return nil, fmt.Errorf("invalid %s: unsupported URL %q", envICEServersJSON, u)
			}
		}
		server := webrtc.ICEServer{URLs: s.URLs}
		if s.Username != "" {
			server.Username = s.Username
			server.Credential = s.Credential
		}
		servers = append(servers, server)
	}
	return servers, nil
}
