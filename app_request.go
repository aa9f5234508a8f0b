package pilot

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Version is an HTTP protocol version. Only major version 1 is spoken.
type Version struct {
	Major int
	Minor int
}

var (
	HTTP10 = Version{Major: 1, Minor: 0}
	HTTP11 = Version{Major: 1, Minor: 1}
)

func (v Version) String() string {
	return "HTTP/" + strconv.Itoa(v.Major) + "." + strconv.Itoa(v.Minor)
}

// ParseVersion parses "HTTP/x.y" with single digit components.
func ParseVersion(s string) (Version, error) {
	if len(s) != 8 || !strings.HasPrefix(s, "HTTP/") || s[6] != '.' ||
		s[5] < '0' || s[5] > '9' || s[7] < '0' || s[7] > '9' {
		return Version{}, newParseError(ErrMalformedStartLine, "bad version "+strconv.Quote(s), nil)
	}
	v := Version{Major: int(s[5] - '0'), Minor: int(s[7] - '0')}
	if v.Major != 1 {
		return Version{}, newParseError(ErrUnsupportedVersion, s, nil)
	}
	return v, nil
}

// Request is a fully delimited HTTP request. Body is always completely read
// (and de-chunked) before a handler sees the request.
//
// Fields:
//   - Method: the request method
//   - Target: the request-target exactly as sent
//   - RawPath: the path portion of Target, still percent-encoded
//   - Path: RawPath with percent-encoding removed
//   - QueryString: everything after the first '?', without the '?'
//   - Headers: header fields in arrival order
//   - Trailers: trailer fields of a chunked body
//   - Params: route captures, filled in by the router
//   - IpAddress: remote address of the connection that sent the request
type Request struct {
	Method      HttpMethod
	Target      string
	RawPath     string
	Path        string
	QueryString string
	Version     Version
	Headers     Headers
	Body        []byte
	Trailers    Headers
	Params      Params
	IpAddress   string
	Context     context.Context

	_tempMap map[string]string
}

// NewRequest builds an outgoing HTTP/1.1 request for target, which must be
// in origin-form ("/path?query").
func NewRequest(method HttpMethod, target string, body []byte) *Request {
	req := &Request{
		Method:  method,
		Target:  target,
		Version: HTTP11,
		Body:    body,
	}
	req.RawPath, req.QueryString, _ = strings.Cut(target, "?")
	req.Path, _ = url.PathUnescape(req.RawPath)
	return req
}

// RequestURI renders the origin-form target from the path and query.
func (req *Request) RequestURI() string {
	path := req.RawPath
	if path == "" {
		path = (&url.URL{Path: req.Path}).EscapedPath()
	}
	if path == "" {
		path = "/"
	}
	if req.QueryString != "" {
		return path + "?" + req.QueryString
	}
	return path
}

// Header returns the first value of the named request header.
func (req *Request) Header(name string) string {
	return req.Headers.Get(name)
}

// Param returns a route capture, or "" when the route has no such capture.
func (req *Request) Param(name string) string {
	return req.Params.Get(name)
}

// KeepAlive reports whether the client asked for the connection to persist.
// HTTP/1.1 persists unless "close" is listed; HTTP/1.0 only with "keep-alive".
func (req *Request) KeepAlive() bool {
	if req.Headers.ContainsToken("Connection", "close") {
		return false
	}
	if req.Version.Minor == 0 {
		return req.Headers.ContainsToken("Connection", "keep-alive")
	}
	return true
}

// QueryMap parses the query string into a map of key-value pairs with URL decoding.
// When a key repeats, the last value wins.
func (req *Request) QueryMap() map[string]string {
	res := make(map[string]string)
	for _, pair := range strings.Split(req.QueryString, "&") {
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(k)
		if err != nil {
			continue
		}
		value, err := url.QueryUnescape(v)
		if err != nil {
			continue
		}
		res[key] = value
	}
	return res
}

func (req *Request) query(key string) (string, bool) {
	if req._tempMap == nil {
		req._tempMap = req.QueryMap()
	}
	val, ok := req._tempMap[key]
	return val, ok
}

// QueryGetInt32 extracts a query parameter as a 32-bit signed integer.
// Returns nil if parameter is missing or cannot be parsed as int32.
func (req *Request) QueryGetInt32(key string) *int32 {
	val, ok := req.query(key)
	if !ok {
		return nil
	}
	num, err := strconv.ParseInt(val, 10, 32)
	if err != nil {
		return nil
	}
	v := int32(num)
	return &v
}

// QueryGetInt64 extracts a query parameter as a 64-bit signed integer.
// Returns nil if parameter is missing or cannot be parsed as int64.
func (req *Request) QueryGetInt64(key string) *int64 {
	val, ok := req.query(key)
	if !ok {
		return nil
	}
	num, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return nil
	}
	return &num
}

// QueryGetString extracts a query parameter as a URL-decoded string.
// Returns nil if parameter is missing, but returns pointer to empty string for empty parameters.
func (req *Request) QueryGetString(key string) *string {
	val, ok := req.query(key)
	if !ok {
		return nil
	}
	return &val
}

// QueryGetUUID extracts and validates a query parameter as a UUID.
// Returns nil if parameter is missing or not a valid UUID format.
func (req *Request) QueryGetUUID(key string) *uuid.UUID {
	val, ok := req.query(key)
	if !ok {
		return nil
	}
	g, err := uuid.Parse(val)
	if err != nil {
		return nil
	}
	return &g
}

// Dump outputs a formatted representation of the HTTP request for debugging.
func (req *Request) Dump() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s\n", req.Method, req.Target, req.Version)
	for _, h := range req.Headers {
		fmt.Fprintf(&b, "%s: %s\n", h.Name, h.Value)
	}
	if len(req.Body) > 0 {
		fmt.Fprintf(&b, "\n%s\n", req.Body)
	}
	return b.String()
}
