// Package proxy implements the shared pool of forward-proxy endpoints with
// exclusive round-robin allocation, dynamic blocking, and file-backed
// reload of the proxy and block lists.
package proxy

import (
	"strings"
	"time"
)

// Endpoint is one forward-proxy address plus optional credentials.
type Endpoint struct {
	Address    string
	Username   string
	Password   string
	IsBlocked  bool
	LastUsedAt time.Time
	Failures   int
}

// HasAuth reports whether the endpoint carries credentials.
func (e Endpoint) HasAuth() bool {
	return e.Username != ""
}

// parseEndpoint accepts the two supported list formats:
//
//	user:pass@host:port
//	host:port:user:pass  (password optional)
//
// Anything else is treated as a bare host:port address.
func parseEndpoint(entry string) Endpoint {
	if at := strings.Index(entry, "@"); at >= 0 {
		auth, server := entry[:at], entry[at+1:]
		ep := Endpoint{Address: server}
		if auth != "" {
			ep.Username, ep.Password = splitCredentials(auth)
		}
		return ep
	}

	parts := strings.Split(entry, ":")
	if len(parts) >= 3 {
		ep := Endpoint{Address: parts[0] + ":" + parts[1]}
		ep.Username = parts[2]
		if len(parts) > 3 {
			ep.Password = strings.Join(parts[3:], ":")
		}
		return ep
	}

	return Endpoint{Address: entry}
}

func splitCredentials(auth string) (user, pass string) {
	if idx := strings.Index(auth, ":"); idx >= 0 {
		return auth[:idx], auth[idx+1:]
	}
	return auth, ""
}
