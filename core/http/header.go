package http

import (
	"strings"

	"golang.org/x/net/http/httpguts"
)

// Header holds request headers keyed by lower-cased name. Repeated fields
// keep every value in arrival order.
type Header map[string][]string

// Add appends a value for key
func (h Header) Add(key, value string) {
	k := strings.ToLower(key)
	h[k] = append(h[k], value)
}

// Set replaces all values of key
func (h Header) Set(key, value string) {
	h[strings.ToLower(key)] = []string{value}
}

// Get returns the last value of key, "" when absent
func (h Header) Get(key string) string {
	v := h[strings.ToLower(key)]
	if len(v) == 0 {
		return ""
	}
	return v[len(v)-1]
}

// Values returns every value of key
func (h Header) Values(key string) []string {
	return h[strings.ToLower(key)]
}

// Has reports whether key is present
func (h Header) Has(key string) bool {
	_, ok := h[strings.ToLower(key)]
	return ok
}

// Del removes key
func (h Header) Del(key string) {
	delete(h, strings.ToLower(key))
}

// ContainsToken reports whether the comma-separated values of key contain
// token, case-insensitively (e.g. "Connection: keep-alive, Upgrade").
func (h Header) ContainsToken(key, token string) bool {
	return httpguts.HeaderValuesContainsToken(h.Values(key), token)
}

// Field is one response header line
type Field struct {
	Name  string
	Value string
}

// ResponseHeader keeps response fields in insertion order with the casing
// the handler used. Lookups are case-insensitive.
type ResponseHeader struct {
	fields []Field
}

// Set replaces every field named name
func (h *ResponseHeader) Set(name, value string) {
	for i := range h.fields {
		if strings.EqualFold(h.fields[i].Name, name) {
			h.fields[i].Value = value
			h.removeAfter(i+1, name)
			return
		}
	}
	h.fields = append(h.fields, Field{Name: name, Value: value})
}

// Add appends a field, keeping existing ones
func (h *ResponseHeader) Add(name, value string) {
	h.fields = append(h.fields, Field{Name: name, Value: value})
}

// Get returns the last value of name
func (h *ResponseHeader) Get(name string) string {
	for i := len(h.fields) - 1; i >= 0; i-- {
		if strings.EqualFold(h.fields[i].Name, name) {
			return h.fields[i].Value
		}
	}
	return ""
}

// Has reports whether name is present
func (h *ResponseHeader) Has(name string) bool {
	for i := range h.fields {
		if strings.EqualFold(h.fields[i].Name, name) {
			return true
		}
	}
	return false
}

// Del removes every field named name
func (h *ResponseHeader) Del(name string) {
	h.removeAfter(0, name)
}

// Fields returns the fields in order. The slice must not be modified.
func (h *ResponseHeader) Fields() []Field {
	return h.fields
}

// Reset drops all fields, keeping capacity
func (h *ResponseHeader) Reset() {
	h.fields = h.fields[:0]
}

func (h *ResponseHeader) removeAfter(start int, name string) {
	kept := h.fields[:start]
	for _, f := range h.fields[start:] {
		if !strings.EqualFold(f.Name, name) {
			kept = append(kept, f)
		}
	}
	h.fields = kept
}
