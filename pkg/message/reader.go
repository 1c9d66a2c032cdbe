package message

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// BodyMode selects how the body is delimited when no Content-Length is declared.
type BodyMode int

const (
	// BodyByLength reads a body only when Content-Length is declared.
	// Used for client requests.
	BodyByLength BodyMode = iota

	// BodyUntilClose reads until the peer closes the connection.
	// Used for origin responses sent with "Connection: close".
	BodyUntilClose
)

// Limits bounds how much ReadMessage buffers.
type Limits struct {
	MaxHeaderBytes int
	MaxBodyBytes   int64
}

// DefaultLimits returns the limits used by the proxy.
func DefaultLimits() Limits {
	return Limits{
		MaxHeaderBytes: 64 << 10,
		MaxBodyBytes:   64 << 20,
	}
}

// ErrTooLarge is returned when a message exceeds Limits.
var ErrTooLarge = fmt.Errorf("%w: message too large", ErrMalformedMessage)

// ReadMessage reads one complete message from r: the header block up to
// CRLFCRLF, then the body according to Content-Length or mode. The returned
// bytes can be handed to ParseRequest or ParseResponse.
func ReadMessage(r io.Reader, mode BodyMode, limits Limits) ([]byte, error) {
	br := bufio.NewReader(r)

	var buf bytes.Buffer
	for !bytes.HasSuffix(buf.Bytes(), crlfCRLF) {
		line, err := br.ReadSlice('\n')
		buf.Write(line)
		if limits.MaxHeaderBytes > 0 && buf.Len() > limits.MaxHeaderBytes {
			return nil, ErrTooLarge
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("%w: connection closed before end of header", ErrMalformedMessage)
			}
			return nil, err
		}
	}

	length, declared, err := contentLength(buf.Bytes())
	if err != nil {
		return nil, err
	}
	if limits.MaxBodyBytes > 0 && length > limits.MaxBodyBytes {
		return nil, ErrTooLarge
	}

	switch {
	case declared:
		if _, err := io.CopyN(&buf, br, length); err != nil {
			// A closing origin ends the body early, as for a 304 that
			// advertises the length of the entity it does not send.
			if errors.Is(err, io.EOF) && mode == BodyUntilClose {
				break
			}
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("%w: body shorter than Content-Length", ErrMalformedMessage)
			}
			return nil, err
		}
	case mode == BodyUntilClose:
		src := io.Reader(br)
		if limits.MaxBodyBytes > 0 {
			src = io.LimitReader(br, limits.MaxBodyBytes+1)
		}
		n, err := io.Copy(&buf, src)
		if err != nil {
			return nil, err
		}
		if limits.MaxBodyBytes > 0 && n > limits.MaxBodyBytes {
			return nil, ErrTooLarge
		}
	}

	return buf.Bytes(), nil
}

// contentLength finds a Content-Length header in a raw header block.
func contentLength(head []byte) (int64, bool, error) {
	lines := bytes.Split(bytes.TrimSuffix(head, crlfCRLF), crlf)
	v, ok := Header(toStrings(lines[1:])).Lookup("Content-Length")
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || n < 0 {
		return 0, false, fmt.Errorf("%w: bad Content-Length %q", ErrMalformedMessage, v)
	}
	return n, true, nil
}

func toStrings(lines [][]byte) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = string(l)
	}
	return out
}
