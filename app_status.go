package pilot

import "strconv"

type StatusCode int

const (
	StatusContinue                    StatusCode = 100
	StatusSwitchingProtocols          StatusCode = 101
	StatusOK                          StatusCode = 200
	StatusCreated                     StatusCode = 201
	StatusAccepted                    StatusCode = 202
	StatusNoContent                   StatusCode = 204
	StatusPartialContent              StatusCode = 206
	StatusMovedPermanently            StatusCode = 301
	StatusFound                       StatusCode = 302
	StatusSeeOther                    StatusCode = 303
	StatusNotModified                 StatusCode = 304
	StatusTemporaryRedirect           StatusCode = 307
	StatusPermanentRedirect           StatusCode = 308
	StatusBadRequest                  StatusCode = 400
	StatusUnauthorized                StatusCode = 401
	StatusForbidden                   StatusCode = 403
	StatusNotFound                    StatusCode = 404
	StatusMethodNotAllowed            StatusCode = 405
	StatusRequestTimeout              StatusCode = 408
	StatusLengthRequired              StatusCode = 411
	StatusPayloadTooLarge             StatusCode = 413
	StatusURITooLong                  StatusCode = 414
	StatusRangeNotSatisfiable         StatusCode = 416
	StatusRequestHeaderFieldsTooLarge StatusCode = 431
	StatusInternalServerError         StatusCode = 500
	StatusNotImplemented              StatusCode = 501
	StatusBadGateway                  StatusCode = 502
	StatusServiceUnavailable          StatusCode = 503
	StatusHTTPVersionNotSupported     StatusCode = 505
)

var StatusCodeDescriptions = map[StatusCode]string{
	StatusContinue:                    "Continue",
	StatusSwitchingProtocols:          "Switching Protocols",
	StatusOK:                          "OK",
	StatusCreated:                     "Created",
	StatusAccepted:                    "Accepted",
	StatusNoContent:                   "No Content",
	StatusPartialContent:              "Partial Content",
	StatusMovedPermanently:            "Moved Permanently",
	StatusFound:                       "Found",
	StatusSeeOther:                    "See Other",
	StatusNotModified:                 "Not Modified",
	StatusTemporaryRedirect:           "Temporary Redirect",
	StatusPermanentRedirect:           "Permanent Redirect",
	StatusBadRequest:                  "Bad Request",
	StatusUnauthorized:                "Unauthorized",
	StatusForbidden:                   "Forbidden",
	StatusNotFound:                    "Not Found",
	StatusMethodNotAllowed:            "Method Not Allowed",
	StatusRequestTimeout:              "Request Timeout",
	StatusLengthRequired:              "Length Required",
	StatusPayloadTooLarge:             "Payload Too Large",
	StatusURITooLong:                  "URI Too Long",
	StatusRangeNotSatisfiable:         "Range Not Satisfiable",
	StatusRequestHeaderFieldsTooLarge: "Request Header Fields Too Large",
	StatusInternalServerError:         "Internal Server Error",
	StatusNotImplemented:              "Not Implemented",
	StatusBadGateway:                  "Bad Gateway",
	StatusServiceUnavailable:          "Service Unavailable",
	StatusHTTPVersionNotSupported:     "HTTP Version Not Supported",
}

// Reason returns the canonical reason phrase, or "Unknown" for unmapped codes.
func (s StatusCode) Reason() string {
	if desc, ok := StatusCodeDescriptions[s]; ok {
		return desc
	}
	return "Unknown"
}

func (s StatusCode) String() string {
	return strconv.Itoa(int(s)) + " " + s.Reason()
}

// bodyless reports whether responses with this status never carry a body.
func (s StatusCode) bodyless() bool {
	return (s >= 100 && s < 200) || s == StatusNoContent || s == StatusNotModified
}

func (s StatusCode) IsSuccess() bool     { return s >= 200 && s < 300 }
func (s StatusCode) IsClientError() bool { return s >= 400 && s < 500 }
func (s StatusCode) IsServerError() bool { return s >= 500 && s < 600 }
