package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// chiRouter implements Router on top of chi.
type chiRouter struct {
	mux chi.Router
}

var _ Router = (*chiRouter)(nil)

// NewChiRouter creates a chi-backed Router. Client IPs are taken from
// X-Real-IP / X-Forwarded-For, and paths are cleaned before matching so
// "/api/v1/registrations/" and "/api/v1//registrations" hit the same route.
func NewChiRouter() Router {
	r := chi.NewRouter()
	r.Use(chimw.RealIP, chimw.CleanPath, chimw.StripSlashes)
	return &chiRouter{mux: r}
}

func (r *chiRouter) GET(path string, handler http.HandlerFunc, middlewares ...Middleware) {
	r.mux.Get(path, wrap(handler, middlewares))
}

func (r *chiRouter) POST(path string, handler http.HandlerFunc, middlewares ...Middleware) {
	r.mux.Post(path, wrap(handler, middlewares))
}

func (r *chiRouter) PUT(path string, handler http.HandlerFunc, middlewares ...Middleware) {
	r.mux.Put(path, wrap(handler, middlewares))
}

func (r *chiRouter) DELETE(path string, handler http.HandlerFunc, middlewares ...Middleware) {
	r.mux.Delete(path, wrap(handler, middlewares))
}

func (r *chiRouter) Group(prefix string, fn func(Router), middlewares ...Middleware) {
	r.mux.Route(prefix, func(sub chi.Router) {
		sub.Use(toChi(middlewares)...)
		fn(&chiRouter{mux: sub})
	})
}

func (r *chiRouter) Use(middlewares ...Middleware) {
	r.mux.Use(toChi(middlewares)...)
}

func (r *chiRouter) With(middlewares ...Middleware) Router {
	return &chiRouter{mux: r.mux.With(toChi(middlewares)...)}
}

func (r *chiRouter) Handler() http.Handler {
	return r.mux
}

func (r *chiRouter) Walk(fn func(method, path string, handler http.Handler) error) error {
	return chi.Walk(r.mux, func(method, route string, handler http.Handler, _ ...func(http.Handler) http.Handler) error {
		// chi registers "/*" for mounted subrouters.
		if route == "/*" {
			return nil
		}
		return fn(method, route, handler)
	})
}

func wrap(h http.HandlerFunc, middlewares []Middleware) http.HandlerFunc {
	if len(middlewares) == 0 {
		return h
	}
	var handler http.Handler = h
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return handler.ServeHTTP
}

func toChi(middlewares []Middleware) []func(http.Handler) http.Handler {
	out := make([]func(http.Handler) http.Handler, len(middlewares))
	for i, mw := range middlewares {
		out[i] = mw
	}
	return out
}
