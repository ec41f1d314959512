package handler

import (
	"reflect"

	"github.com/searchktools/wind/core/http"
)

// Method interfaces a resource type implements on its pointer receiver.
// Each call gets a fresh value.
type (
	GetHandler interface {
		HandleGet(ctx http.Context) error
	}
	PostHandler interface {
		HandlePost(ctx http.Context) error
	}
	PutHandler interface {
		HandlePut(ctx http.Context) error
	}
	DeleteHandler interface {
		HandleDelete(ctx http.Context) error
	}
	HeadHandler interface {
		HandleHead(ctx http.Context) error
	}
	PatchHandler interface {
		HandlePatch(ctx http.Context) error
	}
	OptionsHandler interface {
		HandleOptions(ctx http.Context) error
	}
)

// Initializer runs before the method handler of a fresh resource value
type Initializer interface {
	Initialize(ctx http.Context)
}

type methodFunc func(v any, ctx http.Context) error

type resourceType struct {
	name    string
	newFn   func() any
	init    bool
	methods map[http.Method]methodFunc
	allowed []http.Method
}

// Resource builds a handler that creates a new *T per request and calls the
// HandleXxx method matching the request method. The method table comes from
// *T's method set; no T value is created until a request arrives.
func Resource[T any]() Handler {
	var zero any = (*T)(nil)

	rt := &resourceType{
		name:    reflect.TypeOf(zero).Elem().String(),
		newFn:   func() any { return new(T) },
		methods: make(map[http.Method]methodFunc),
	}
	_, rt.init = zero.(Initializer)

	if _, ok := zero.(GetHandler); ok {
		rt.methods[http.MethodGet] = func(v any, ctx http.Context) error { return v.(GetHandler).HandleGet(ctx) }
	}
	if _, ok := zero.(PostHandler); ok {
		rt.methods[http.MethodPost] = func(v any, ctx http.Context) error { return v.(PostHandler).HandlePost(ctx) }
	}
	if _, ok := zero.(PutHandler); ok {
		rt.methods[http.MethodPut] = func(v any, ctx http.Context) error { return v.(PutHandler).HandlePut(ctx) }
	}
	if _, ok := zero.(DeleteHandler); ok {
		rt.methods[http.MethodDelete] = func(v any, ctx http.Context) error { return v.(DeleteHandler).HandleDelete(ctx) }
	}
	if _, ok := zero.(HeadHandler); ok {
		rt.methods[http.MethodHead] = func(v any, ctx http.Context) error { return v.(HeadHandler).HandleHead(ctx) }
	}
	if _, ok := zero.(PatchHandler); ok {
		rt.methods[http.MethodPatch] = func(v any, ctx http.Context) error { return v.(PatchHandler).HandlePatch(ctx) }
	}
	if _, ok := zero.(OptionsHandler); ok {
		rt.methods[http.MethodOptions] = func(v any, ctx http.Context) error { return v.(OptionsHandler).HandleOptions(ctx) }
	}

	for _, m := range http.Methods {
		if _, ok := rt.lookup(m); ok {
			rt.allowed = append(rt.allowed, m)
		}
	}

	return Handler{kind: KindResource, resource: rt}
}

// lookup finds the method handler; HEAD is served by HandleGet when the
// resource has no HandleHead.
func (rt *resourceType) lookup(method http.Method) (methodFunc, bool) {
	if fn, ok := rt.methods[method]; ok {
		return fn, true
	}
	if method == http.MethodHead {
		fn, ok := rt.methods[http.MethodGet]
		return fn, ok
	}
	return nil, false
}

// Methods returns the methods a resource handler implements, nil for the
// function variants
func (h Handler) Methods() []http.Method {
	if h.kind != KindResource || h.resource == nil {
		return nil
	}
	return h.resource.allowed
}
