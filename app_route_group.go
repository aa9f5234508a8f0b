package pilot

// RouteGroup represents a collection of related routes that can be mounted together
// under a common path prefix. This enables modular route organization for feature
// areas or API versions.
//
// Fields:
//   - Routes: grouped routes with their methods, paths, handlers, and middleware
//   - Middleware: run before every route's own middleware when the group is mounted
//
// Example:
//
//	userRoutes := pilot.NewRouteGroup(
//	    pilot.GetRoute("/profile", getUserProfile),
//	    pilot.PostRoute("/settings", updateSettings, validationMiddleware),
//	)
//	userRoutes.Use(auth.Middleware())
//	router.AddRouteGroup("/user", userRoutes)
type RouteGroup struct {
	Routes     []GroupedRoute
	Middleware []MiddlewareFn
}

// NewRouteGroup creates a new route group from a variable number of grouped routes.
func NewRouteGroup(routes ...GroupedRoute) *RouteGroup {
	return &RouteGroup{
		Routes: routes,
	}
}

// Use appends middleware applied to every route in the group.
func (rg *RouteGroup) Use(middleware ...MiddlewareFn) *RouteGroup {
	rg.Middleware = append(rg.Middleware, middleware...)
	return rg
}

// GroupedRoute represents a single route definition within a route group.
// It is typically created with GetRoute, PostRoute and friends rather than
// constructed directly.
//
// Example:
//
//	// This GroupedRoute definition:
//	GetRoute("/:id", getUserHandler, authMiddleware)
//
//	// Becomes this when mounted at "/api/users":
//	// GET /api/users/:id with middleware: [authMiddleware] -> getUserHandler
type GroupedRoute struct {
	Route      string
	Method     HttpMethod
	Handler    HandlerFunc
	Middleware []MiddlewareFn
}

func groupedRoute(method HttpMethod, path string, handler HandlerFunc, middleware []MiddlewareFn) GroupedRoute {
	return GroupedRoute{
		Route:      path,
		Method:     method,
		Handler:    handler,
		Middleware: middleware,
	}
}

// GetRoute creates a GET route configuration for use in route groups.
func GetRoute(path string, handler HandlerFunc, middleware ...MiddlewareFn) GroupedRoute {
	return groupedRoute(Get, path, handler, middleware)
}

// PostRoute creates a POST route configuration for use in route groups.
func PostRoute(path string, handler HandlerFunc, middleware ...MiddlewareFn) GroupedRoute {
	return groupedRoute(Post, path, handler, middleware)
}

// PutRoute creates a PUT route configuration for use in route groups.
func PutRoute(path string, handler HandlerFunc, middleware ...MiddlewareFn) GroupedRoute {
	return groupedRoute(Put, path, handler, middleware)
}

// PatchRoute creates a PATCH route configuration for use in route groups.
func PatchRoute(path string, handler HandlerFunc, middleware ...MiddlewareFn) GroupedRoute {
	return groupedRoute(Patch, path, handler, middleware)
}

// DeleteRoute creates a DELETE route configuration for use in route groups.
func DeleteRoute(path string, handler HandlerFunc, middleware ...MiddlewareFn) GroupedRoute {
	return groupedRoute(Delete, path, handler, middleware)
}
