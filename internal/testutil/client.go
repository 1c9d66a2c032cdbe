package testutil

import (
	"fmt"
	"io"
	"net"
	"time"

	"github.com/Sternrassler/web-cache/pkg/message"
)

// SendRaw writes raw to addr and reads until the peer closes.
func SendRaw(addr, raw string, timeout time.Duration) ([]byte, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(timeout))

	if _, err := conn.Write([]byte(raw)); err != nil {
		return nil, err
	}
	return io.ReadAll(conn)
}

// ProxyGet sends a GET for path on origin through the proxy at addr.
func ProxyGet(addr string, origin *MockOrigin, path string) (*message.Response, error) {
	raw := fmt.Sprintf("GET %s HTTP/1.1\r\nHost: %s\r\n\r\n", path, origin.Addr())
	out, err := SendRaw(addr, raw, 5*time.Second)
	if err != nil {
		return nil, err
	}
	return message.ParseResponse(out)
}
