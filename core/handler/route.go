package handler

import (
	"fmt"

	"github.com/searchktools/wind/core/http"
)

// Route is one (handler, pattern, methods) entry of an application's route table
type Route struct {
	Pattern string
	Methods []http.Method
	Handler Handler
}

// Path builds a Route. Without methods the route serves GET and HEAD.
func Path(h Handler, pattern string, methods ...http.Method) Route {
	return Route{Pattern: pattern, Methods: methods, Handler: h}
}

// PathNamed is Path with method names in any case ("get", "Post")
func PathNamed(h Handler, pattern string, methods ...string) (Route, error) {
	parsed := make([]http.Method, 0, len(methods))
	for _, name := range methods {
		m, ok := http.ParseMethod(name)
		if !ok {
			return Route{}, fmt.Errorf("route %s: unsupported method %q", pattern, name)
		}
		parsed = append(parsed, m)
	}
	return Path(h, pattern, parsed...), nil
}

func (r Route) String() string {
	return fmt.Sprintf("%v %s -> %s", r.Methods, r.Pattern, r.Handler.Name())
}
