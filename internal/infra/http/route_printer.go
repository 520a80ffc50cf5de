package http

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"runtime"
	"sort"
	"strings"
)

// RouteInfo holds information about a registered route.
type RouteInfo struct {
	Method  string `json:"method"`
	Path    string `json:"path"`
	Handler string `json:"handler"`
}

// CollectRoutes walks the router and returns its routes sorted by path, then method.
func CollectRoutes(router Router) []RouteInfo {
	var routes []RouteInfo
	_ = router.Walk(func(method, path string, handler http.Handler) error {
		routes = append(routes, RouteInfo{
			Method:  method,
			Path:    path,
			Handler: handlerName(handler),
		})
		return nil
	})

	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Path == routes[j].Path {
			return routes[i].Method < routes[j].Method
		}
		return routes[i].Path < routes[j].Path
	})
	return routes
}

// handlerName resolves the handler's function name, falling back to its type.
func handlerName(handler http.Handler) string {
	v := reflect.ValueOf(handler)
	if v.Kind() == reflect.Func {
		if fn := runtime.FuncForPC(v.Pointer()); fn != nil {
			name := fn.Name()
			if i := strings.LastIndexByte(name, '/'); i >= 0 {
				name = name[i+1:]
			}
			return strings.TrimSuffix(name, "-fm")
		}
	}
	return fmt.Sprintf("%T", handler)
}

// PrintRoutes writes routes as "table" (default), "json" or "simple".
func PrintRoutes(w io.Writer, routes []RouteInfo, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(routes)
	case "simple":
		for _, r := range routes {
			if _, err := fmt.Fprintf(w, "%-8s %s\n", r.Method, r.Path); err != nil {
				return err
			}
		}
		return nil
	default:
		fmt.Fprintf(w, "%-8s %-45s %s\n", "METHOD", "PATH", "HANDLER")
		fmt.Fprintln(w, strings.Repeat("-", 100))
		for _, r := range routes {
			fmt.Fprintf(w, "%-8s %-45s %s\n", r.Method, r.Path, r.Handler)
		}
		_, err := fmt.Fprintf(w, "\n%d routes\n", len(routes))
		return err
	}
}
