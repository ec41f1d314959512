package http

import (
	"strings"

	"golang.org/x/net/http/httpguts"
)

// Method is an HTTP request method token
type Method string

const (
	MethodGet     Method = "GET"
	MethodHead    Method = "HEAD"
	MethodPost    Method = "POST"
	MethodPut     Method = "PUT"
	MethodPatch   Method = "PATCH"
	MethodDelete  Method = "DELETE"
	MethodOptions Method = "OPTIONS"
	MethodConnect Method = "CONNECT"
	MethodTrace   Method = "TRACE"
)

// Methods lists the methods the core knows by name
var Methods = []Method{
	MethodGet, MethodHead, MethodPost, MethodPut, MethodPatch,
	MethodDelete, MethodOptions, MethodConnect, MethodTrace,
}

// ParseMethod normalizes s ("get", "Get") to a known method
func ParseMethod(s string) (Method, bool) {
	m := Method(strings.ToUpper(s))
	return m, m.Known()
}

// Known reports whether m is one of Methods
func (m Method) Known() bool {
	switch m {
	case MethodGet, MethodHead, MethodPost, MethodPut, MethodPatch,
		MethodDelete, MethodOptions, MethodConnect, MethodTrace:
		return true
	}
	return false
}

// Valid reports whether m is a syntactically valid token
func (m Method) Valid() bool {
	return m != "" && httpguts.ValidHeaderFieldName(string(m))
}

func (m Method) String() string {
	return string(m)
}
