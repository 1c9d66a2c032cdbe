// Package message frames and parses the HTTP/1.1 subset spoken between the
// proxy, its clients and origin servers.
package message

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedMessage is returned when a request or response violates framing.
var ErrMalformedMessage = errors.New("malformed message")

var (
	crlf     = []byte("\r\n")
	crlfCRLF = []byte("\r\n\r\n")
)

// Header is an ordered list of raw header lines, names kept as received.
type Header []string

// Get returns the value of the first header line whose name matches,
// compared case-insensitively. Every line is scanned.
func (h Header) Get(name string) string {
	v, _ := h.Lookup(name)
	return v
}

// Lookup is like Get but reports whether the header was present.
func (h Header) Lookup(name string) (string, bool) {
	for _, line := range h {
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(k), name) {
			return strings.TrimSpace(v), true
		}
	}
	return "", false
}

// Request is a parsed client request.
type Request struct {
	Method  string
	Target  string
	Version string
	Header  Header
	Body    []byte
}

// Response is a parsed origin response.
type Response struct {
	Version    string
	StatusCode int
	Reason     string
	Header     Header
	Body       []byte
}

// Date returns the first Date header value, or "".
func (r *Response) Date() string { return r.Header.Get("Date") }

// LastModified returns the first Last-Modified header value, or "".
func (r *Response) LastModified() string { return r.Header.Get("Last-Modified") }

// ParseRequest parses a fully buffered request.
func ParseRequest(raw []byte) (*Request, error) {
	first, header, body, err := split(raw)
	if err != nil {
		return nil, err
	}

	tokens := strings.Fields(first)
	if len(tokens) != 3 {
		return nil, fmt.Errorf("%w: request line %q", ErrMalformedMessage, first)
	}

	return &Request{
		Method:  tokens[0],
		Target:  tokens[1],
		Version: tokens[2],
		Header:  header,
		Body:    body,
	}, nil
}

// ParseResponse parses a fully buffered response. The reason phrase may
// contain spaces; it is kept but carries no meaning.
func ParseResponse(raw []byte) (*Response, error) {
	first, header, body, err := split(raw)
	if err != nil {
		return nil, err
	}

	tokens := strings.SplitN(strings.TrimSpace(first), " ", 3)
	if len(tokens) != 3 {
		return nil, fmt.Errorf("%w: status line %q", ErrMalformedMessage, first)
	}

	code, err := strconv.Atoi(tokens[1])
	if err != nil || code < 100 || code > 999 {
		return nil, fmt.Errorf("%w: status code %q", ErrMalformedMessage, tokens[1])
	}

	return &Response{
		Version:    tokens[0],
		StatusCode: code,
		Reason:     tokens[2],
		Header:     header,
		Body:       body,
	}, nil
}

// split separates the first line, the header lines and the body.
func split(raw []byte) (string, Header, []byte, error) {
	head, body, ok := bytes.Cut(raw, crlfCRLF)
	if !ok {
		return "", nil, nil, fmt.Errorf("%w: missing header terminator", ErrMalformedMessage)
	}

	lines := bytes.Split(head, crlf)
	header := make(Header, 0, len(lines)-1)
	for _, line := range lines[1:] {
		if len(line) == 0 {
			continue
		}
		header = append(header, string(line))
	}

	return string(lines[0]), header, body, nil
}
