// Package rtc describes the ICE servers clients should use for their direct
// media connections. The relay never opens a peer connection itself.
package rtc

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

var ErrBadICEURL = errors.New("ice url must start with stun:, turn: or turns:")

var DefaultICEURLs = []string{"stun:stun.l.google.com:19302"}

// ICEServers builds the client ICE configuration. Credentials apply to the
// turn entries only.
func ICEServers(urls []string, username, credential string) ([]webrtc.ICEServer, error) {
	if len(urls) == 0 {
		urls = DefaultICEURLs
	}
	var stun, turn []string
	for _, u := range urls {
		switch {
		case strings.HasPrefix(u, "stun:"):
			stun = append(stun, u)
		case strings.HasPrefix(u, "turn:"), strings.HasPrefix(u, "turns:"):
			turn = append(turn, u)
		default:
			return nil, fmt.Errorf("%q: %w", u, ErrBadICEURL)
		}
	}
	var out []webrtc.ICEServer
	if len(stun) > 0 {
		out = append(out, webrtc.ICEServer{URLs: stun})
	}
	if len(turn) > 0 {
		out = append(out, webrtc.ICEServer{
			URLs:           turn,
			Username:       username,
			Credential:     credential,
			CredentialType: webrtc.ICECredentialTypePassword,
		})
	}
	return out, nil
}
