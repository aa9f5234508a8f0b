package pilot

import (
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"strings"
	"sync/atomic"
)

// Handler produces the response for one request. Implementations must be
// safe to call from many workers at once.
type Handler interface {
	Handle(req *Request) *Response
}

// HandlerFunc adapts an ordinary function to the Handler interface.
type HandlerFunc func(req *Request) *Response

func (f HandlerFunc) Handle(req *Request) *Response { return f(req) }

// MiddlewareFn runs before a route's handler. Returning nil continues to the
// next middleware or the handler; returning a response stops processing and
// sends that response instead.
type MiddlewareFn func(req *Request) *Response

// Params holds the values captured by a route pattern, already percent-decoded.
type Params map[string]string

// Get returns the captured value, or "" when the pattern had no such capture.
func (p Params) Get(name string) string { return p[name] }

func (p Params) Has(name string) bool {
	_, ok := p[name]
	return ok
}

type segmentKind int

const (
	segmentLiteral segmentKind = iota
	segmentCapture
	segmentWildcard
)

type segment struct {
	kind  segmentKind
	value string
}

// Route is one compiled pattern bound to the methods it accepts and its handler.
//
// A pattern is a list of '/' separated segments:
//   - "users" matches the segment "users" verbatim
//   - ":id" matches any single segment and captures it as "id"
//   - "*rest" (last segment only) matches the remainder of the path, possibly
//     empty, and captures it as "rest"
//
// A route registered with RegisterRegexp instead matches the whole decoded
// path against an anchored regular expression; named groups become captures.
type Route struct {
	Pattern string
	Methods []HttpMethod

	handler  Handler
	segments []segment
	expr     *regexp.Regexp
}

func (r *Route) String() string {
	methods := "*"
	if len(r.Methods) > 0 {
		names := make([]string, len(r.Methods))
		for i, m := range r.Methods {
			names[i] = string(m)
		}
		methods = strings.Join(names, ", ")
	}
	return fmt.Sprintf("%s [%s]", r.Pattern, methods)
}

// accepts reports whether the route serves method. A route with no methods
// serves all of them.
func (r *Route) accepts(method HttpMethod) bool {
	return len(r.Methods) == 0 || slices.Contains(r.Methods, method)
}

func (r *Route) match(segs []string, path string) (Params, bool) {
	if r.expr != nil {
		m := r.expr.FindStringSubmatch(path)
		if m == nil {
			return nil, false
		}
		params := Params{}
		for i, name := range r.expr.SubexpNames() {
			if name != "" {
				params[name] = m[i]
			}
		}
		return params, true
	}

	params := Params{}
	for i, seg := range r.segments {
		if seg.kind == segmentWildcard {
			params[seg.value] = strings.Join(segs[min(i, len(segs)):], "/")
			return params, true
		}
		if i >= len(segs) {
			return nil, false
		}
		switch seg.kind {
		case segmentLiteral:
			if segs[i] != seg.value {
				return nil, false
			}
		case segmentCapture:
			params[seg.value] = segs[i]
		}
	}
	if len(segs) != len(r.segments) {
		return nil, false
	}
	return params, true
}

// Router is an ordered route list. Routes are tried in registration order
// and the first one whose pattern matches the path and which accepts the
// method wins, so a more specific pattern has to be registered before a
// broader one that would also match.
//
// Registration happens before the application starts. Once Freeze is called
// (Application.Start does this) the list never changes and is read by every
// worker without locking.
type Router struct {
	routes []*Route
	frozen atomic.Bool
}

func NewRouter() *Router {
	return &Router{}
}

// Freeze stops further registration.
func (r *Router) Freeze() {
	r.frozen.Store(true)
}

// Routes returns the registered routes in match order.
func (r *Router) Routes() []*Route {
	return r.routes
}

// Register compiles a segment pattern. An empty methods list accepts every method.
func (r *Router) Register(pattern string, methods []HttpMethod, h Handler, middleware ...MiddlewareFn) error {
	if !strings.HasPrefix(pattern, "/") {
		return fmt.Errorf("pattern %q must start with /", pattern)
	}
	parts := PathListFromString(pattern)
	segments := make([]segment, len(parts))
	seen := map[string]bool{}
	for i, part := range parts {
		switch {
		case strings.HasPrefix(part, ":"):
			segments[i] = segment{kind: segmentCapture, value: part[1:]}
		case strings.HasPrefix(part, "*"):
			if i != len(parts)-1 {
				return fmt.Errorf("pattern %q: wildcard must be the last segment", pattern)
			}
			segments[i] = segment{kind: segmentWildcard, value: part[1:]}
		default:
			segments[i] = segment{kind: segmentLiteral, value: part}
			continue
		}
		name := segments[i].value
		if segments[i].kind == segmentCapture && name == "" {
			return fmt.Errorf("pattern %q: empty capture name", pattern)
		}
		if seen[name] {
			return fmt.Errorf("pattern %q: duplicate capture %q", pattern, name)
		}
		seen[name] = true
	}
	return r.add(&Route{Pattern: pattern, Methods: methods, segments: segments}, h, middleware)
}

// RegisterRegexp compiles expr as a route matched against the whole decoded
// path. The expression is anchored at both ends.
func (r *Router) RegisterRegexp(expr string, methods []HttpMethod, h Handler, middleware ...MiddlewareFn) error {
	re, err := regexp.Compile(`^(?:` + expr + `)$`)
	if err != nil {
		return fmt.Errorf("route expression %q: %w", expr, err)
	}
	return r.add(&Route{Pattern: expr, Methods: methods, expr: re}, h, middleware)
}

func (r *Router) add(route *Route, h Handler, middleware []MiddlewareFn) error {
	if r.frozen.Load() {
		return ErrRouterFrozen
	}
	if h == nil {
		return fmt.Errorf("route %s: nil handler", route.Pattern)
	}
	route.handler = withMiddleware(h, middleware)
	r.routes = append(r.routes, route)
	return nil
}

func withMiddleware(h Handler, middleware []MiddlewareFn) Handler {
	if len(middleware) == 0 {
		return h
	}
	return HandlerFunc(func(req *Request) *Response {
		for _, mw := range middleware {
			if res := mw(req); res != nil {
				return res
			}
		}
		return h.Handle(req)
	})
}

// AddRoute registers fn for a single method.
func (r *Router) AddRoute(method HttpMethod, pattern string, fn HandlerFunc, middleware ...MiddlewareFn) error {
	return r.Register(pattern, []HttpMethod{method}, fn, middleware...)
}

func (r *Router) Get(pattern string, fn HandlerFunc, middleware ...MiddlewareFn) error {
	return r.AddRoute(Get, pattern, fn, middleware...)
}

func (r *Router) Post(pattern string, fn HandlerFunc, middleware ...MiddlewareFn) error {
	return r.AddRoute(Post, pattern, fn, middleware...)
}

func (r *Router) Put(pattern string, fn HandlerFunc, middleware ...MiddlewareFn) error {
	return r.AddRoute(Put, pattern, fn, middleware...)
}

func (r *Router) Patch(pattern string, fn HandlerFunc, middleware ...MiddlewareFn) error {
	return r.AddRoute(Patch, pattern, fn, middleware...)
}

func (r *Router) Delete(pattern string, fn HandlerFunc, middleware ...MiddlewareFn) error {
	return r.AddRoute(Delete, pattern, fn, middleware...)
}

func (r *Router) Head(pattern string, fn HandlerFunc, middleware ...MiddlewareFn) error {
	return r.AddRoute(Head, pattern, fn, middleware...)
}

func (r *Router) Options(pattern string, fn HandlerFunc, middleware ...MiddlewareFn) error {
	return r.AddRoute(Options, pattern, fn, middleware...)
}

// AddRouteGroup registers all routes from a RouteGroup under a common prefix.
//
// The method handles path normalization:
//   - Ensures the prefix starts with "/"
//   - Ensures the prefix ends with "/"
//   - Removes leading "/" from individual routes to prevent double slashes
//
// Example:
//
//	userRoutes := pilot.NewRouteGroup(
//	    pilot.GetRoute("/profile", getUserProfile),
//	    pilot.PostRoute("/settings", updateSettings),
//	)
//	router.AddRouteGroup("/user", userRoutes)
//	// Creates: /user/profile, /user/settings
func (r *Router) AddRouteGroup(prefix string, rg *RouteGroup) error {
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	for _, route := range rg.Routes {
		path := prefix + strings.TrimPrefix(route.Route, "/")
		if err := r.AddRoute(route.Method, path, route.Handler, slices.Concat(rg.Middleware, route.Middleware)...); err != nil {
			return err
		}
	}
	return nil
}

// Resolve finds the handler for method on rawPath, the still percent-encoded
// path of the request target. The path is split on '/' first and each
// segment decoded afterwards, so an encoded slash stays inside its segment.
//
// A HEAD request falls back to the first matching GET route when no
// matching route lists HEAD itself. When some route matched the path but
// none accepted the method the error is a *MethodNotAllowedError; when no
// route matched at all it is ErrNoMatch, as it is for any path that is not
// origin form, such as the asterisk target.
func (r *Router) Resolve(method HttpMethod, rawPath string) (Handler, Params, error) {
	if !strings.HasPrefix(rawPath, "/") {
		return nil, nil, ErrNoMatch
	}
	raw := PathListFromString(rawPath)
	segs := make([]string, len(raw))
	for i, s := range raw {
		dec, err := url.PathUnescape(s)
		if err != nil {
			return nil, nil, ErrNoMatch
		}
		segs[i] = dec
	}
	path, err := url.PathUnescape(rawPath)
	if err != nil {
		return nil, nil, ErrNoMatch
	}

	var (
		fallback       *Route
		fallbackParams Params
		allowed        []HttpMethod
		matched        bool
	)
	for _, route := range r.routes {
		params, ok := route.match(segs, path)
		if !ok {
			continue
		}
		matched = true
		if route.accepts(method) {
			return route.handler, params, nil
		}
		if method == Head && fallback == nil && route.accepts(Get) {
			fallback, fallbackParams = route, params
		}
		for _, m := range route.Methods {
			if !slices.Contains(allowed, m) {
				allowed = append(allowed, m)
			}
		}
	}
	if fallback != nil {
		return fallback.handler, fallbackParams, nil
	}
	if !matched {
		return nil, nil, ErrNoMatch
	}
	if slices.Contains(allowed, Get) && !slices.Contains(allowed, Head) {
		allowed = append(allowed, Head)
	}
	return nil, nil, &MethodNotAllowedError{Method: method, Allowed: allowed}
}
