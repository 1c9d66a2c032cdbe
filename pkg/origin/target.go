package origin

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// DefaultPort is used when the authority names no port.
const DefaultPort = 80

// Target is where a request is sent.
type Target struct {
	// Host is the authority exactly as the client gave it; it is sent
	// back to the origin in the Host header.
	Host string

	// Addr is the host part that is dialed.
	Addr string

	Port int
}

// ParseTarget splits a Host header value on ':'. Without a colon the whole
// authority is dialed on DefaultPort.
func ParseTarget(authority string) (Target, error) {
	authority = strings.TrimSpace(authority)
	if authority == "" {
		return Target{}, fmt.Errorf("empty host")
	}

	addr, port, hasPort := strings.Cut(authority, ":")
	if strings.HasPrefix(authority, "[") {
		h, p, err := net.SplitHostPort(authority)
		if err != nil {
			h, p = strings.Trim(authority, "[]"), ""
		}
		addr, port, hasPort = h, p, p != ""
	}
	if addr == "" {
		return Target{}, fmt.Errorf("empty host in %q", authority)
	}

	t := Target{Host: authority, Addr: addr, Port: DefaultPort}
	if hasPort {
		n, err := strconv.Atoi(port)
		if err != nil || n < 1 || n > 65535 {
			return Target{}, fmt.Errorf("invalid port in %q", authority)
		}
		t.Port = n
	}
	return t, nil
}

// Address returns the dial address.
func (t Target) Address() string {
	return net.JoinHostPort(t.Addr, strconv.Itoa(t.Port))
}
