package pilot

import (
	"bufio"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/url"
	"os"
	"slices"
	"strings"
)

// BasicAuth guards handlers with HTTP Basic authentication.
//
// Example:
//
//	auth := pilot.NewBasicAuth(map[string]string{"user": "passwd"})
//	app.Routes.Get("/secret", secretHandler, auth.Middleware())
type BasicAuth struct {
	users         map[string]string
	requiredUsers []string
}

// NewBasicAuth accepts any of the given user/password pairs.
func NewBasicAuth(users map[string]string) *BasicAuth {
	copied := make(map[string]string, len(users))
	for u, p := range users {
		copied[u] = p
	}
	return &BasicAuth{users: copied}
}

// BasicAuthFromFile reads one "user password" pair per line, separated by
// whitespace. Blank lines are skipped.
func BasicAuthFromFile(path string) (*BasicAuth, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open auth file: %w", err)
	}
	defer f.Close()

	users := map[string]string{}
	scanner := bufio.NewScanner(f)
	for line := 1; scanner.Scan(); line++ {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 2 {
			return nil, fmt.Errorf("auth file %s:%d: expected \"user password\"", path, line)
		}
		users[fields[0]] = fields[1]
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read auth file: %w", err)
	}
	return &BasicAuth{users: users}, nil
}

// RequireUser restricts access to the listed users. Without any required
// user every known user is let through.
func (a *BasicAuth) RequireUser(user ...string) *BasicAuth {
	a.requiredUsers = append(a.requiredUsers, user...)
	return a
}

// Check reports whether the Authorization header value grants access.
func (a *BasicAuth) Check(header string) bool {
	user, pass, ok := parseBasicAuth(header)
	if !ok {
		return false
	}
	if len(a.requiredUsers) > 0 && !slices.Contains(a.requiredUsers, user) {
		return false
	}
	want, known := a.users[user]
	return known && subtle.ConstantTimeCompare([]byte(want), []byte(pass)) == 1
}

// Middleware answers 401 for requests without valid credentials.
func (a *BasicAuth) Middleware() MiddlewareFn {
	return func(req *Request) *Response {
		if a.Check(req.Header("Authorization")) {
			return nil
		}
		res := UnauthorizedResponse("Authentication required.")
		res.SetHeader("WWW-Authenticate", `Basic realm="pilot"`)
		return res
	}
}

// Wrap guards a single handler.
func (a *BasicAuth) Wrap(h Handler) Handler {
	return withMiddleware(h, []MiddlewareFn{a.Middleware()})
}

func parseBasicAuth(header string) (user, pass string, ok bool) {
	scheme, payload, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Basic") {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return "", "", false
	}
	user, pass, _ = strings.Cut(string(decoded), ":")
	if user, err = url.PathUnescape(user); err != nil {
		return "", "", false
	}
	if pass, err = url.PathUnescape(pass); err != nil {
		return "", "", false
	}
	return user, pass, true
}
