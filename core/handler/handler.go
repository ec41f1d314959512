// Package handler defines the handler variants routes point at and the
// dispatcher that invokes them.
package handler

import (
	"fmt"

	"google.golang.org/protobuf/proto"

	"github.com/searchktools/wind/core/http"
)

// Kind tags the variant a Handler holds
type Kind uint8

const (
	KindInvalid Kind = iota
	KindFunc
	KindSimple
	KindResource
)

func (k Kind) String() string {
	switch k {
	case KindFunc:
		return "func"
	case KindSimple:
		return "simple"
	case KindResource:
		return "resource"
	}
	return "invalid"
}

// Handler is a tagged variant over the handler contracts. The zero value is
// invalid.
type Handler struct {
	kind     Kind
	fn       func(http.Context)
	simple   func(*http.Request) (any, error)
	resource *resourceType
}

// Func wraps a handler that writes its response through the context
func Func(fn func(ctx http.Context)) Handler {
	return Handler{kind: KindFunc, fn: fn}
}

// Simple wraps a handler that returns the response body. Strings and byte
// slices are written as is, proto messages as protobuf, anything else as
// JSON. A nil value sends an empty body.
func Simple(fn func(req *http.Request) (any, error)) Handler {
	return Handler{kind: KindSimple, simple: fn}
}

// Kind returns the variant tag
func (h Handler) Kind() Kind {
	return h.kind
}

// Valid reports whether h wraps a handler
func (h Handler) Valid() bool {
	switch h.kind {
	case KindFunc:
		return h.fn != nil
	case KindSimple:
		return h.simple != nil
	case KindResource:
		return h.resource != nil
	}
	return false
}

// Name describes the handler for logs
func (h Handler) Name() string {
	if h.kind == KindResource && h.resource != nil {
		return h.resource.name
	}
	return h.kind.String()
}

// Implements reports whether h can serve method. Function variants serve every method.
func (h Handler) Implements(method http.Method) bool {
	if h.kind != KindResource {
		return h.Valid()
	}
	_, ok := h.resource.lookup(method)
	return ok
}

// StatusError is returned by handlers to answer with a specific status
// instead of a handler failure
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%d %s", e.Code, e.Message)
}

// Errorf builds a *StatusError
func Errorf(code int, format string, args ...any) error {
	return &StatusError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func writeValue(ctx http.Context, v any) error {
	switch body := v.(type) {
	case nil:
		return nil
	case string:
		_, err := ctx.WriteString(body)
		return err
	case []byte:
		_, err := ctx.Write(body)
		return err
	case proto.Message:
		return ctx.Protobuf(body)
	default:
		return ctx.JSON(body)
	}
}
