package pilot

import (
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathListFromString(t *testing.T) {
	tests := []struct {
		name string
		path string
		want []string
	}{
		{
			name: "empty",
			path: "/",
			want: []string{""},
		},
		{
			name: "single",
			path: "/hello",
			want: []string{"hello"},
		},
		{
			name: "multiple with slash",
			path: "/hello/world/test/",
			want: []string{"hello", "world", "test"},
		},
		{
			name: "multiple",
			path: "/hello/world/test",
			want: []string{"hello", "world", "test"},
		},
		{
			name: "identical slashes",
			path: "/hello/test/test",
			want: []string{"hello", "test", "test"},
		},
		{
			name: "double slash keeps empty segment",
			path: "/a//b",
			want: []string{"a", "", "b"},
		},
		{
			name: "no path",
			path: "",
			want: []string{""},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PathListFromString(tt.path); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("PathListFromString() = %v, want %v", got, tt.want)
			}
		})
	}
}

func named(name string) HandlerFunc {
	return func(req *Request) *Response {
		return StringResponse(name)
	}
}

func resolveName(t *testing.T, r *Router, method HttpMethod, path string) (string, Params) {
	t.Helper()
	h, params, err := r.Resolve(method, path)
	require.NoError(t, err)
	return string(h.Handle(&Request{}).Body), params
}

func TestRouterRegistrationOrderWins(t *testing.T) {
	r := NewRouter()
	require.NoError(t, r.Get("/users/:id", named("by-id")))
	require.NoError(t, r.Get("/users/all", named("all")))

	name, params := resolveName(t, r, Get, "/users/all")
	assert.Equal(t, "by-id", name)
	assert.Equal(t, "all", params.Get("id"))
}

func TestRouterMatching(t *testing.T) {
	r := NewRouter()
	require.NoError(t, r.Get("/", named("root")))
	require.NoError(t, r.Get("/users/all", named("all")))
	require.NoError(t, r.Get("/users/:id", named("user")))
	require.NoError(t, r.Get("/users/:id/posts/:post", named("post")))
	require.NoError(t, r.Get("/files/*path", named("files")))
	require.NoError(t, r.RegisterRegexp(`/orders/(?P<id>[0-9]+)`, []HttpMethod{Get}, named("order")))

	tests := []struct {
		name   string
		path   string
		want   string
		params Params
	}{
		{"root", "/", "root", Params{}},
		{"literal", "/users/all", "all", Params{}},
		{"trailing slash ignored", "/users/all/", "all", Params{}},
		{"capture", "/users/42", "user", Params{"id": "42"}},
		{"two captures", "/users/7/posts/9", "post", Params{"id": "7", "post": "9"}},
		{"decoded capture", "/users/j%C3%BCrgen", "user", Params{"id": "jürgen"}},
		{"encoded slash stays in segment", "/users/a%2Fb", "user", Params{"id": "a/b"}},
		{"wildcard", "/files/a/b/c.txt", "files", Params{"path": "a/b/c.txt"}},
		{"empty wildcard", "/files", "files", Params{"path": ""}},
		{"regexp", "/orders/123", "order", Params{"id": "123"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, params := resolveName(t, r, Get, tt.path)
			assert.Equal(t, tt.want, name)
			assert.Equal(t, tt.params, params)
		})
	}
}

func TestRouterNoMatch(t *testing.T) {
	r := NewRouter()
	require.NoError(t, r.Get("/users/:id", named("user")))
	require.NoError(t, r.RegisterRegexp(`/orders/[0-9]+`, nil, named("order")))

	for _, path := range []string{"/users", "/users/1/extra", "/orders/abc", "/nope"} {
		_, _, err := r.Resolve(Get, path)
		assert.ErrorIs(t, err, ErrNoMatch, path)
	}
}

func TestRouterAsteriskMatchesNothing(t *testing.T) {
	r := NewRouter()
	require.NoError(t, r.Register("/", nil, named("root")))

	_, _, err := r.Resolve(Options, "*")
	assert.ErrorIs(t, err, ErrNoMatch)
	_, _, err = r.Resolve(Options, "")
	assert.ErrorIs(t, err, ErrNoMatch)

	h, _, err := r.Resolve(Options, "/")
	require.NoError(t, err)
	assert.NotNil(t, h)
}

func TestRouterMethodNotAllowed(t *testing.T) {
	r := NewRouter()
	require.NoError(t, r.Get("/items/:id", named("get")))
	require.NoError(t, r.Delete("/items/:id", named("delete")))

	_, _, err := r.Resolve(Post, "/items/1")
	var notAllowed *MethodNotAllowedError
	require.True(t, errors.As(err, &notAllowed))
	assert.Equal(t, []HttpMethod{Get, Delete, Head}, notAllowed.Allowed)
	assert.Equal(t, "GET, DELETE, HEAD", notAllowed.AllowHeader())
	assert.False(t, errors.Is(err, ErrNoMatch))
}

func TestRouterHeadFallsBackToGet(t *testing.T) {
	r := NewRouter()
	require.NoError(t, r.Get("/page", named("get")))
	require.NoError(t, r.Head("/page", named("head")))
	require.NoError(t, r.Get("/other", named("other-get")))

	name, _ := resolveName(t, r, Head, "/page")
	assert.Equal(t, "head", name)
	name, _ = resolveName(t, r, Head, "/other")
	assert.Equal(t, "other-get", name)
}

func TestRouterAnyMethod(t *testing.T) {
	r := NewRouter()
	require.NoError(t, r.Register("/any", nil, named("any")))
	for _, m := range []HttpMethod{Get, Post, Patch, Options} {
		name, _ := resolveName(t, r, m, "/any")
		assert.Equal(t, "any", name)
	}
}

func TestRouterRejectsBadPatterns(t *testing.T) {
	r := NewRouter()
	assert.Error(t, r.Get("users", named("x")))
	assert.Error(t, r.Get("/a/*rest/b", named("x")))
	assert.Error(t, r.Get("/a/:/b", named("x")))
	assert.Error(t, r.Get("/a/:id/:id", named("x")))
	assert.Error(t, r.RegisterRegexp(`/a/(`, nil, named("x")))
	assert.Error(t, r.Register("/a", nil, nil))
	assert.Empty(t, r.Routes())
}

func TestRouterFrozen(t *testing.T) {
	r := NewRouter()
	require.NoError(t, r.Get("/a", named("a")))
	r.Freeze()
	assert.ErrorIs(t, r.Get("/b", named("b")), ErrRouterFrozen)
	assert.Len(t, r.Routes(), 1)
}

func TestRouterMiddleware(t *testing.T) {
	r := NewRouter()
	var calls []string
	deny := func(req *Request) *Response {
		calls = append(calls, "deny")
		if req.Header("X-Allow") == "" {
			return ForbiddenResponse("no")
		}
		return nil
	}
	require.NoError(t, r.Get("/guarded", func(req *Request) *Response {
		calls = append(calls, "handler")
		return StringResponse("ok")
	}, deny))

	h, _, err := r.Resolve(Get, "/guarded")
	require.NoError(t, err)

	res := h.Handle(&Request{})
	assert.Equal(t, StatusForbidden, res.StatusCode)
	assert.Equal(t, []string{"deny"}, calls)

	calls = nil
	res = h.Handle(&Request{Headers: Headers{{Name: "X-Allow", Value: "1"}}})
	assert.Equal(t, StatusOK, res.StatusCode)
	assert.Equal(t, []string{"deny", "handler"}, calls)
}

func TestAddRouteGroup(t *testing.T) {
	r := NewRouter()
	tag := func(name string) MiddlewareFn {
		return func(req *Request) *Response {
			req.Headers.Add("X-Seen", name)
			return nil
		}
	}
	group := NewRouteGroup(
		GetRoute("/profile", func(req *Request) *Response {
			return StringResponse(req.Headers.Get("X-Seen"))
		}, tag("route")),
		PostRoute("settings", named("settings")),
		DeleteRoute("/:id", named("delete")),
	).Use(tag("group"))
	require.NoError(t, r.AddRouteGroup("user", group))

	h, _, err := r.Resolve(Get, "/user/profile")
	require.NoError(t, err)
	req := &Request{}
	h.Handle(req)
	assert.Equal(t, []string{"group", "route"}, req.Headers.Values("X-Seen"))

	name, _ := resolveName(t, r, Post, "/user/settings")
	assert.Equal(t, "settings", name)
	_, params := resolveName(t, r, Delete, "/user/12")
	assert.Equal(t, "12", params.Get("id"))
}
