package pilot

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHeadersLookup(t *testing.T) {
	h := Headers{
		{"Content-Type", "text/html"},
		{"set-cookie", "a=1"},
		{"Set-Cookie", "b=2"},
	}
	assert.Equal(t, "text/html", h.Get("content-type"))
	assert.Equal(t, "", h.Get("X-Missing"))
	assert.Equal(t, []string{"a=1", "b=2"}, h.Values("SET-COOKIE"))
	assert.True(t, h.Has("Set-Cookie"))
	assert.False(t, h.Has("Cookie"))
}

func TestHeadersMutation(t *testing.T) {
	var h Headers
	h.Add("X-A", "1")
	h.Add("X-B", "2")
	h.Add("x-a", "3")

	h.Set("X-A", "replaced")
	assert.Equal(t, Headers{{"X-A", "replaced"}, {"X-B", "2"}}, h)

	h.Set("X-C", "new")
	assert.Equal(t, Headers{{"X-A", "replaced"}, {"X-B", "2"}, {"X-C", "new"}}, h)

	h.Del("x-b")
	assert.Equal(t, Headers{{"X-A", "replaced"}, {"X-C", "new"}}, h)

	clone := h.Clone()
	clone.Set("X-A", "other")
	assert.Equal(t, "replaced", h.Get("X-A"))
}

func TestHeadersContainsToken(t *testing.T) {
	h := Headers{{"Connection", "Upgrade, Keep-Alive"}, {"Connection", "close"}}
	assert.True(t, h.ContainsToken("connection", "keep-alive"))
	assert.True(t, h.ContainsToken("Connection", "CLOSE"))
	assert.False(t, h.ContainsToken("Connection", "alive"))
	assert.False(t, h.ContainsToken("Transfer-Encoding", "chunked"))
}

func TestCanonicalHeaderName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"content-length", "Content-Length"},
		{"x-REQUEST-id", "X-Request-Id"},
		{"HOST", "Host"},
		{"www-authenticate", "Www-Authenticate"},
		{"bad name", "bad name"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, CanonicalHeaderName(tt.in))
		})
	}

	h := Headers{{"content-type", "a"}, {"x-trace-id", "b"}}
	h.Canonicalize()
	assert.Equal(t, Headers{{"Content-Type", "a"}, {"X-Trace-Id", "b"}}, h)
}

func TestLastToken(t *testing.T) {
	assert.Equal(t, "chunked", lastToken([]string{"gzip", "Chunked"}))
	assert.Equal(t, "gzip", lastToken([]string{"chunked, gzip , "}))
	assert.Equal(t, "", lastToken(nil))
}
