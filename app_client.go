package pilot

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"
)

// ClientConn sends requests over one stream and reads their responses,
// strictly one at a time.
type ClientConn struct {
	stream Stream
	reader *bufio.Reader
	host   string
	limits Limits
}

// NewClientConn wraps an established stream. host is used for requests that
// do not carry a Host header.
func NewClientConn(s Stream, host string, limits Limits) *ClientConn {
	return &ClientConn{
		stream: s,
		reader: bufio.NewReaderSize(s, BUFFER_SIZE),
		host:   host,
		limits: limits,
	}
}

// RoundTrip writes req and decodes the response to it. Missing Host and
// Content-Length headers are filled in.
func (cc *ClientConn) RoundTrip(req *Request) (*Response, error) {
	if req.Version == (Version{}) {
		req.Version = HTTP11
	}
	if !req.Headers.Has("Host") {
		req.Headers.Add("Host", cc.host)
	}
	if !req.Headers.Has("Content-Length") && !req.Headers.Has("Transfer-Encoding") &&
		(len(req.Body) > 0 || req.Method.allowsBody()) {
		req.Headers.Add("Content-Length", strconv.Itoa(len(req.Body)))
	}
	if err := EncodeRequest(cc.stream, req); err != nil {
		return nil, err
	}
	return DecodeResponse(cc.reader, req.Method, cc.limits)
}

func (cc *ClientConn) Close() error {
	return cc.stream.Close()
}

// Client performs single requests against absolute http and https URLs,
// using a fresh connection per request.
type Client struct {
	TLS       *tls.Config
	Limits    Limits
	UserAgent string
	Timeout   time.Duration
}

func NewClient() *Client {
	return &Client{
		Limits:    DefaultLimits(),
		UserAgent: "pilot-client/1.0",
		Timeout:   30 * time.Second,
	}
}

// Do sends one request and returns the decoded response. headers are sent
// after the Host and User-Agent headers the client adds itself.
func (c *Client) Do(ctx context.Context, method HttpMethod, rawURL string, headers Headers, body []byte) (*Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	var config *tls.Config
	port := "80"
	switch u.Scheme {
	case "http":
	case "https":
		port = "443"
		if c.TLS != nil {
			config = c.TLS.Clone()
		} else {
			config = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		if config.ServerName == "" {
			config.ServerName = u.Hostname()
		}
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("url %q has no host", rawURL)
	}
	if u.Port() != "" {
		port = u.Port()
	}

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	s, err := Dial(ctx, net.JoinHostPort(u.Hostname(), port), config)
	if err != nil {
		return nil, err
	}
	if dl, ok := ctx.Deadline(); ok {
		s.SetDeadline(dl)
	}
	cc := NewClientConn(s, u.Host, c.Limits)
	defer cc.Close()

	req := &Request{
		Method:  method,
		Target:  u.RequestURI(),
		Version: HTTP11,
		Body:    body,
	}
	if !headers.Has("Host") {
		req.Headers.Add("Host", u.Host)
	}
	if c.UserAgent != "" && !headers.Has("User-Agent") {
		req.Headers.Add("User-Agent", c.UserAgent)
	}
	req.Headers = append(req.Headers, headers...)
	if !req.Headers.Has("Connection") {
		req.Headers.Add("Connection", "close")
	}
	return cc.RoundTrip(req)
}
