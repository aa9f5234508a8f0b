package pilot

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// ParseErrorKind classifies why a message could not be decoded (or encoded).
// Every kind is itself an error so callers can match with errors.Is against
// a *ParseError returned from the codec.
type ParseErrorKind int

const (
	ErrMalformedStartLine ParseErrorKind = iota + 1
	ErrUnsupportedMethod
	ErrUnsupportedVersion
	ErrInvalidHeader
	ErrHeadersTooLarge
	ErrInvalidContentLength
	ErrConflictingFraming
	ErrUnsupportedTransferCoding
	ErrMalformedChunk
	ErrBodyTooLarge
	ErrConnectionClosed
	ErrBodyLengthMismatch
)

func (k ParseErrorKind) Error() string {
	switch k {
	case ErrMalformedStartLine:
		return "malformed start line"
	case ErrUnsupportedMethod:
		return "unsupported method"
	case ErrUnsupportedVersion:
		return "unsupported protocol version"
	case ErrInvalidHeader:
		return "invalid header"
	case ErrHeadersTooLarge:
		return "headers too large"
	case ErrInvalidContentLength:
		return "invalid content length"
	case ErrConflictingFraming:
		return "conflicting framing: both Content-Length and Transfer-Encoding present"
	case ErrUnsupportedTransferCoding:
		return "unsupported transfer coding"
	case ErrMalformedChunk:
		return "malformed chunk"
	case ErrBodyTooLarge:
		return "body too large"
	case ErrConnectionClosed:
		return "connection closed before message was delimited"
	case ErrBodyLengthMismatch:
		return "body length does not match Content-Length"
	default:
		return "unknown parse error"
	}
}

// Status maps the kind to the response status sent before closing.
func (k ParseErrorKind) Status() StatusCode {
	switch k {
	case ErrUnsupportedMethod, ErrUnsupportedTransferCoding:
		return StatusNotImplemented
	case ErrUnsupportedVersion:
		return StatusHTTPVersionNotSupported
	case ErrHeadersTooLarge:
		return StatusRequestHeaderFieldsTooLarge
	case ErrBodyTooLarge:
		return StatusPayloadTooLarge
	case ErrBodyLengthMismatch:
		return StatusInternalServerError
	default:
		return StatusBadRequest
	}
}

// ParseError is returned by the codec for any message it refuses.
type ParseError struct {
	Kind   ParseErrorKind
	Detail string
	err    error
}

func newParseError(kind ParseErrorKind, detail string, cause error) *ParseError {
	return &ParseError{Kind: kind, Detail: detail, err: cause}
}

func (e *ParseError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.err != nil {
		b.WriteString(": ")
		b.WriteString(e.err.Error())
	}
	return b.String()
}

func (e *ParseError) Unwrap() error { return e.err }

func (e *ParseError) Is(target error) bool {
	kind, ok := target.(ParseErrorKind)
	return ok && kind == e.Kind
}

func (e *ParseError) Status() StatusCode { return e.Kind.Status() }

// TransportError is the single error kind surfaced by a Stream for anything
// other than a clean end of stream. Plain socket failures and TLS record or
// handshake failures look the same to the layers above.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Timeout reports whether the failure was a deadline expiring.
func (e *TransportError) Timeout() bool {
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}

var (
	// ErrNoMatch is returned by Router.Resolve when no route matches the path.
	ErrNoMatch = errors.New("no route matches path")
	// ErrRouterFrozen is returned when registering after the application started.
	ErrRouterFrozen = errors.New("router is frozen")
	// ErrBodyTruncated is returned by the encoder when the body source ends or
	// fails after the head was written. The message on the wire is incomplete
	// and the connection cannot carry another one.
	ErrBodyTruncated = errors.New("body truncated after head was written")
)

// MethodNotAllowedError is returned when a route matched the path but none
// of the matching routes accept the method.
type MethodNotAllowedError struct {
	Method  HttpMethod
	Allowed []HttpMethod
}

func (e *MethodNotAllowedError) Error() string {
	return fmt.Sprintf("method %s not allowed (allowed: %s)", e.Method, e.AllowHeader())
}

// AllowHeader renders the Allow header value for a 405 response.
func (e *MethodNotAllowedError) AllowHeader() string {
	names := make([]string, len(e.Allowed))
	for i, m := range e.Allowed {
		names[i] = string(m)
	}
	return strings.Join(names, ", ")
}
