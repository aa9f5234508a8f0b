package pilot

import (
	"bufio"
	"encoding/json"
	"io"
	"strconv"

	"github.com/rs/zerolog/log"
)

// genericResponse represents the standard JSON response format used by framework response helpers.
//
// JSON Output Example:
//
//	{"status": true, "message": "Operation completed successfully"}
//	{"status": false, "message": "Invalid input provided"}
type genericResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
}

// Response is an HTTP response ready for encoding.
//
// Fields:
//   - StatusCode: HTTP status code using type-safe enum
//   - Reason: reason phrase; empty means the canonical phrase for StatusCode
//   - Version: protocol version; zero means HTTP/1.1
//   - Headers: ordered response headers
//   - Body: response content (used when Stream is nil)
//   - Stream: streaming body source (optional)
//   - StreamSize: length of Stream, or -1 when unknown (sent chunked)
//   - Trailers: trailer fields, only sent with a chunked body
type Response struct {
	StatusCode StatusCode
	Reason     string
	Version    Version
	Headers    Headers
	Body       []byte
	Stream     io.Reader
	StreamSize int64
	Trailers   Headers
}

// NewHttpResponse creates a new Response with default values.
// Returns a response with 200 OK status and empty headers/body.
func NewHttpResponse() *Response {
	return &Response{
		StatusCode: StatusOK,
		Body:       []byte{},
	}
}

// NewResponse creates a response with the given status and body and no headers.
func NewResponse(status StatusCode, body []byte) *Response {
	res := NewHttpResponse()
	res.StatusCode = status
	if body != nil {
		res.Body = body
	}
	return res
}

// StringResponse creates a plain text HTTP response.
// Returns a 200 OK response with "text/plain" content type.
func StringResponse(body string) *Response {
	res := NewResponse(StatusOK, []byte(body))
	res.SetHeader("Content-Type", "text/plain; charset=utf-8")
	return res
}

// StatusResponse creates a plain text response whose body is the status line text.
func StatusResponse(status StatusCode) *Response {
	res := StringResponse(status.String())
	res.StatusCode = status
	return res
}

// NoContentResponse creates an empty 204 response.
func NoContentResponse() *Response {
	return NewResponse(StatusNoContent, nil)
}

// JsonResponse creates a JSON HTTP response from any serializable Go data.
// Returns a 200 OK response with "application/json" content type.
func JsonResponse(body any) *Response {
	res := NewHttpResponse()
	res.SetHeader("Content-Type", "application/json")
	encoded, err := json.Marshal(body)
	if err != nil {
		return ErrorResponse(err)
	}
	res.Body = encoded
	return res
}

func messageResponse(status StatusCode, message string) *Response {
	res := JsonResponse(genericResponse{
		Status:  status.IsSuccess(),
		Message: message,
	})
	res.StatusCode = status
	return res
}

// ErrorResponse creates a 500 Internal Server Error response from an error.
// Logs the actual error for debugging but sends a generic message to prevent information leakage.
func ErrorResponse(body error) *Response {
	log.Error().Err(body).Msg("handler error")
	return messageResponse(StatusInternalServerError, "An error occurred and your request could not be completed.")
}

// BadRequestResponse creates a 400 Bad Request response with a custom error message.
func BadRequestResponse(message string) *Response {
	return messageResponse(StatusBadRequest, message)
}

// UnauthorizedResponse creates a 401 response.
func UnauthorizedResponse(message string) *Response {
	return messageResponse(StatusUnauthorized, message)
}

// ForbiddenResponse creates a 403 Forbidden response.
func ForbiddenResponse(message string) *Response {
	return messageResponse(StatusForbidden, message)
}

// NotFoundResponse creates a 404 Not Found response.
func NotFoundResponse(message string) *Response {
	return messageResponse(StatusNotFound, message)
}

// SuccessStringResponse creates a standardized JSON success response with a message.
func SuccessStringResponse(message string) *Response {
	return messageResponse(StatusOK, message)
}

// BufferedResponse creates a streaming HTTP response for large content.
// A negative length sends the body chunked.
func BufferedResponse(reader *bufio.Reader, length int64) *Response {
	res := NewHttpResponse()
	res.Stream = reader
	res.StreamSize = length
	return res
}

// SetHeader adds or replaces an HTTP response header.
func (res *Response) SetHeader(key string, value string) {
	res.Headers.Set(key, value)
}

// SetStatus updates the HTTP status code for this response.
func (res *Response) SetStatus(status StatusCode) {
	res.StatusCode = status
}

// ApplyCors adds CORS headers to the response. Nothing is added when origin is empty.
func (res *Response) ApplyCors(origin, headers, methods string) {
	if origin == "" {
		return
	}
	res.SetHeader("Access-Control-Allow-Origin", origin)
	res.SetHeader("Access-Control-Allow-Headers", headers)
	res.SetHeader("Access-Control-Allow-Methods", methods)
}

// PrepareFraming makes sure a response that carries a body declares exactly
// one framing. Framing the caller already set is left untouched. A body of
// unknown length is sent chunked to HTTP/1.1 peers; for HTTP/1.0 peers it is
// left unframed and delimited by closing the connection.
func (res *Response) PrepareFraming(peer Version) error {
	hasLength := res.Headers.Has("Content-Length")
	hasCoding := res.Headers.Has("Transfer-Encoding")
	if hasLength && hasCoding {
		return newParseError(ErrConflictingFraming, "", nil)
	}
	if res.StatusCode.bodyless() || hasLength || hasCoding {
		return nil
	}
	switch {
	case res.Stream == nil:
		res.Headers.Add("Content-Length", strconv.Itoa(len(res.Body)))
	case res.StreamSize >= 0:
		res.Headers.Add("Content-Length", strconv.FormatInt(res.StreamSize, 10))
	case peer.Minor > 0:
		res.Headers.Add("Transfer-Encoding", "chunked")
	}
	return nil
}

// Framed reports whether the receiver can find the end of this response
// without the connection closing.
func (res *Response) Framed() bool {
	if res.StatusCode.bodyless() || res.Headers.Has("Content-Length") {
		return true
	}
	return lastToken(res.Headers.Values("Transfer-Encoding")) == "chunked"
}

// Write encodes the response onto w.
func (res *Response) Write(w io.Writer) error {
	return EncodeResponse(w, res)
}
