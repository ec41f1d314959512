package router

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/searchktools/wind/core/http"
)

var (
	// ErrNotFound is returned when no pattern matches the path
	ErrNotFound = errors.New("route not found")
	// ErrMethodNotAllowed is matched by *MethodNotAllowedError
	ErrMethodNotAllowed = errors.New("method not allowed")
	// ErrRouteConflict is returned by Add for a duplicate pattern and method
	ErrRouteConflict = errors.New("route conflict")
	// ErrInvalidPattern is returned by Add for malformed patterns
	ErrInvalidPattern = errors.New("invalid route pattern")
	// ErrFrozen is returned by Add once the router is frozen
	ErrFrozen = errors.New("router is frozen")
)

// MethodNotAllowedError reports the methods the matched paths do allow
type MethodNotAllowedError struct {
	Method  http.Method
	Path    string
	Allowed []http.Method
}

func (e *MethodNotAllowedError) Error() string {
	return fmt.Sprintf("%s %s: method not allowed (allow: %s)", e.Method, e.Path, e.Allow())
}

func (e *MethodNotAllowedError) Is(target error) bool {
	return target == ErrMethodNotAllowed
}

// Allow renders the Allow header value
func (e *MethodNotAllowedError) Allow() string {
	names := make([]string, len(e.Allowed))
	for i, m := range e.Allowed {
		names[i] = m.String()
	}
	return strings.Join(names, ", ")
}

// Route is one registered pattern
type Route[H any] struct {
	Pattern string
	Methods []http.Method
	Handler H

	segments []segment
	params   int
	prefix   int // leading literal segments
	allowed  map[http.Method]bool
}

// Allows reports whether the route accepts method
func (r *Route[H]) Allows(method http.Method) bool {
	return r.allowed[method]
}

// Match is the result of a successful Resolve
type Match[H any] struct {
	Route   *Route[H]
	Handler H
	Params  map[string]string
	// Fallback is set when a HEAD request was matched by a GET route
	Fallback bool
}

// Router maps request paths to handlers of type H. It is not safe for
// concurrent mutation; after Freeze it is read-only.
type Router[H any] struct {
	root   *node[H]
	shapes map[string][]*Route[H]
	routes []*Route[H]
	frozen bool
}

// New creates an empty router
func New[H any]() *Router[H] {
	return &Router[H]{
		root:   newNode[H](),
		shapes: make(map[string][]*Route[H]),
	}
}

// Add registers h for pattern. A route with no methods accepts GET and HEAD.
func (r *Router[H]) Add(pattern string, methods []http.Method, h H) error {
	if r.frozen {
		return fmt.Errorf("add %s: %w", pattern, ErrFrozen)
	}

	segs, err := parsePattern(pattern)
	if err != nil {
		return err
	}

	if len(methods) == 0 {
		methods = []http.Method{http.MethodGet, http.MethodHead}
	}
	allowed := make(map[http.Method]bool, len(methods))
	for _, m := range methods {
		if !m.Valid() {
			return invalidPattern(pattern, fmt.Sprintf("bad method %q", m))
		}
		allowed[m] = true
	}

	key := shapeKey(segs)
	for _, existing := range r.shapes[key] {
		for m := range allowed {
			if existing.allowed[m] {
				return fmt.Errorf("%w: %s %s overlaps %s", ErrRouteConflict, m, pattern, existing.Pattern)
			}
		}
	}

	route := &Route[H]{
		Pattern:  pattern,
		Methods:  sortMethods(allowed),
		Handler:  h,
		segments: segs,
		allowed:  allowed,
	}
	counting := true
	for _, seg := range segs {
		if seg.kind == param {
			route.params++
			counting = false
		} else if counting {
			route.prefix++
		}
	}

	r.shapes[key] = append(r.shapes[key], route)
	r.routes = append(r.routes, route)
	r.root.insert(route)
	return nil
}

// Freeze makes the route set immutable
func (r *Router[H]) Freeze() {
	r.frozen = true
}

// Frozen reports whether Freeze was called
func (r *Router[H]) Frozen() bool {
	return r.frozen
}

// Routes returns the registered routes in registration order
func (r *Router[H]) Routes() []*Route[H] {
	return r.routes
}

// Resolve finds the most specific route for path that accepts method.
// HEAD falls back to GET routes when no matching route accepts HEAD.
func (r *Router[H]) Resolve(method http.Method, path string) (Match[H], error) {
	var zero Match[H]

	parts := splitPath(path)
	candidates := r.root.collect(parts, nil)
	if len(candidates) == 0 {
		return zero, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return moreSpecific(candidates[i], candidates[j])
	})

	route, fallback := pick(candidates, method)
	if route == nil {
		allowed := make(map[http.Method]bool)
		for _, c := range candidates {
			for m := range c.allowed {
				allowed[m] = true
			}
		}
		if allowed[http.MethodGet] {
			allowed[http.MethodHead] = true
		}
		return zero, &MethodNotAllowedError{Method: method, Path: path, Allowed: sortMethods(allowed)}
	}

	return Match[H]{
		Route:    route,
		Handler:  route.Handler,
		Params:   bindParams(route.segments, parts),
		Fallback: fallback,
	}, nil
}

func pick[H any](candidates []*Route[H], method http.Method) (*Route[H], bool) {
	for _, c := range candidates {
		if c.allowed[method] {
			return c, false
		}
	}
	if method == http.MethodHead {
		for _, c := range candidates {
			if c.allowed[http.MethodGet] {
				return c, true
			}
		}
	}
	return nil, false
}

// moreSpecific orders by fewest parameters, then longest literal prefix,
// then pattern text.
func moreSpecific[H any](a, b *Route[H]) bool {
	if a.params != b.params {
		return a.params < b.params
	}
	if a.prefix != b.prefix {
		return a.prefix > b.prefix
	}
	return a.Pattern < b.Pattern
}

func bindParams(segs []segment, parts []string) map[string]string {
	var params map[string]string
	for i, seg := range segs {
		if seg.kind != param {
			continue
		}
		if params == nil {
			params = make(map[string]string)
		}
		params[seg.value] = parts[i]
	}
	return params
}

func sortMethods(set map[http.Method]bool) []http.Method {
	out := make([]http.Method, 0, len(set))
	for _, m := range http.Methods {
		if set[m] {
			out = append(out, m)
		}
	}
	// Extension methods go last, alphabetically.
	var extra []http.Method
	for m := range set {
		if !m.Known() {
			extra = append(extra, m)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	return append(out, extra...)
}

func invalidPattern(pattern, reason string) error {
	return fmt.Errorf("%w %q: %s", ErrInvalidPattern, pattern, reason)
}
