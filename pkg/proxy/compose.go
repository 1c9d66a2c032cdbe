package proxy

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Sternrassler/web-cache/pkg/cache"
)

// ServerName is sent in the Server header of every reply.
const ServerName = "WebCache"

// ErrUnsupportedStatus is returned by Compose for a code outside the table.
var ErrUnsupportedStatus = errors.New("unsupported status")

// reasons is the fixed status table. 403 and 500 are common origin
// statuses relayed as-is; 501 to 505 also serve the proxy's own error replies.
var reasons = map[int]string{
	200: "OK",
	301: "Moved Permanently",
	302: "Found",
	304: "Not Modified",
	400: "Bad Request",
	403: "Forbidden",
	404: "Not Found",
	500: "Internal Server Error",
	501: "Not Implemented",
	502: "Bad Gateway",
	503: "Service Unavailable",
	504: "Gateway Timeout",
	505: "HTTP Version Not Supported",
}

// Reason returns the reason phrase for code.
func Reason(code int) (string, bool) {
	r, ok := reasons[code]
	return r, ok
}

// Compose renders a reply: status line, Date and Server headers, body.
func Compose(body []byte, status int, now time.Time) ([]byte, error) {
	reason, ok := reasons[status]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedStatus, status)
	}

	var b bytes.Buffer
	b.Grow(len(body) + 96)
	b.WriteString("HTTP/1.1 " + strconv.Itoa(status) + " " + reason + "\r\n")
	b.WriteString("Date: " + cache.FormatDate(now) + "\r\n")
	b.WriteString("Server: " + ServerName + "\r\n")
	b.WriteString("\r\n")
	b.Write(body)
	return b.Bytes(), nil
}
