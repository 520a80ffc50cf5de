package http

import (
	"net/http"
)

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Router is the routing surface the route tables are written against.
// Route-level middleware is applied in order, the first one outermost.
type Router interface {
	GET(path string, handler http.HandlerFunc, middlewares ...Middleware)
	POST(path string, handler http.HandlerFunc, middlewares ...Middleware)
	PUT(path string, handler http.HandlerFunc, middlewares ...Middleware)
	DELETE(path string, handler http.HandlerFunc, middlewares ...Middleware)

	// Group mounts fn's routes under prefix behind the given middleware.
	Group(prefix string, fn func(Router), middlewares ...Middleware)

	// Use installs middleware for every route. It must be called before
	// any route is registered.
	Use(middlewares ...Middleware)

	// With returns a Router whose routes run behind the given middleware.
	With(middlewares ...Middleware) Router

	Handler() http.Handler

	// Walk visits every registered route.
	Walk(fn func(method, path string, handler http.Handler) error) error
}
