package pilot

// HttpMethod represents the HTTP request method/verb used for routing and handler dispatch.
// Only the methods listed below are accepted by the request parser; any other
// well-formed token fails with ErrUnsupportedMethod.
type HttpMethod string

// HTTP method constants representing all supported request verbs.
const (
	Get     HttpMethod = "GET"
	Head    HttpMethod = "HEAD"
	Post    HttpMethod = "POST"
	Put     HttpMethod = "PUT"
	Patch   HttpMethod = "PATCH"
	Delete  HttpMethod = "DELETE"
	Options HttpMethod = "OPTIONS"
	Connect HttpMethod = "CONNECT"
	Trace   HttpMethod = "TRACE"
)

// HttpMethods provides string-to-HttpMethod mapping for request parsing.
// Lookups are case-sensitive: method tokens are case-sensitive on the wire.
var HttpMethods = map[string]HttpMethod{
	"GET":     Get,
	"HEAD":    Head,
	"POST":    Post,
	"PUT":     Put,
	"PATCH":   Patch,
	"DELETE":  Delete,
	"OPTIONS": Options,
	"CONNECT": Connect,
	"TRACE":   Trace,
}

func (m HttpMethod) String() string {
	return string(m)
}

// ParseMethod converts a request-line method token into an HttpMethod.
func ParseMethod(token string) (HttpMethod, error) {
	if token == "" || !isToken(token) {
		return "", newParseError(ErrMalformedStartLine, "invalid method token", nil)
	}
	m, ok := HttpMethods[token]
	if !ok {
		return "", newParseError(ErrUnsupportedMethod, token, nil)
	}
	return m, nil
}

// allowsBody reports whether a request with this method conventionally carries a body.
// Used by the client to decide whether an empty body still needs Content-Length: 0.
func (m HttpMethod) allowsBody() bool {
	switch m {
	case Post, Put, Patch:
		return true
	}
	return false
}
