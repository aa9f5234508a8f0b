package pilot

// PathListFromString splits a URL path into its '/' separated components for routing.
//
// The function handles edge cases like:
//   - Leading forward slash removal
//   - Empty path components (consecutive slashes are kept as "")
//   - Root path ("/") handling
//   - Trailing slash normalization
//
// Examples:
//   - "/api/users/123" → ["api", "users", "123"]
//   - "/users" → ["users"]
//   - "/" → [""] (single empty component)
//   - "/api/users/" → ["api", "users"]
//   - "/a//b" → ["a", "", "b"]
//
// The components are not percent-decoded; the router decodes each one after
// splitting so an encoded slash cannot create a new segment.
func PathListFromString(path string) []string {
	if len(path) <= 1 {
		return []string{""}
	}
	route := []string{}
	start := 1
	end := 1
	for end < len(path) {
		if path[end] == '/' {
			route = append(route, path[start:end])
			start = end + 1
		}
		end++
	}
	if start != end {
		route = append(route, path[start:end])
	}
	return route
}
