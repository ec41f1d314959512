package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"mime"
	"mime/multipart"
	"net/url"
	"strings"
)

// Request is one parsed HTTP request. It is built once per completed parse
// and does not reference the connection it arrived on.
type Request struct {
	Method Method
	// Target is the raw request-target from the request line
	Target string
	// Path is the decoded path without the query string
	Path     string
	RawQuery string
	Query    map[string]string

	Proto      string
	ProtoMinor int

	Header Header
	Body   []byte

	// ContentLength is the declared length, -1 for chunked bodies
	ContentLength int64
	Chunked       bool

	// Params holds path parameters bound by the router
	Params map[string]string

	form *Form
}

// Form holds decoded body parameters
type Form struct {
	Values url.Values
	Files  map[string][]*multipart.FileHeader
}

// Get returns the last value for key, matching Query semantics
func (f *Form) Get(key string) string {
	v := f.Values[key]
	if len(v) == 0 {
		return ""
	}
	return v[len(v)-1]
}

// Content types understood by ParseForm
const (
	ContentTypeForm      = "application/x-www-form-urlencoded"
	ContentTypeMultipart = "multipart/form-data"
)

// ErrNotForm is returned by ParseForm for bodies of other content types
var ErrNotForm = errors.New("request body is not a form")

// KeepAlive reports whether the connection may carry another request after
// this one: HTTP/1.1 unless "Connection: close", HTTP/1.0 only with
// "Connection: keep-alive".
func (r *Request) KeepAlive() bool {
	if r.Header.ContainsToken("connection", "close") {
		return false
	}
	if r.ProtoMinor == 0 {
		return r.Header.ContainsToken("connection", "keep-alive")
	}
	return true
}

// Param returns a path parameter
func (r *Request) Param(key string) string {
	return r.Params[key]
}

// Bind decodes a JSON body into v
func (r *Request) Bind(v any) error {
	return json.Unmarshal(r.Body, v)
}

// ParseForm decodes an urlencoded or multipart body. The result is cached.
func (r *Request) ParseForm() (*Form, error) {
	if r.form != nil {
		return r.form, nil
	}

	mediaType, params, err := mime.ParseMediaType(r.Header.Get("content-type"))
	if err != nil {
		return nil, ErrNotForm
	}

	form := &Form{Values: url.Values{}}
	switch mediaType {
	case ContentTypeForm:
		values, err := url.ParseQuery(string(r.Body))
		if err != nil {
			return nil, err
		}
		form.Values = values

	case ContentTypeMultipart:
		boundary := params["boundary"]
		if boundary == "" {
			return nil, errors.New("multipart body has no boundary")
		}
		mr := multipart.NewReader(bytes.NewReader(r.Body), boundary)
		// The body is already in memory; keep parts there too.
		mf, err := mr.ReadForm(int64(len(r.Body)) + 1<<20)
		if err != nil {
			return nil, err
		}
		form.Values = mf.Value
		form.Files = mf.File

	default:
		return nil, ErrNotForm
	}

	r.form = form
	return form, nil
}

// parseTarget splits the request-target into Path, RawQuery and Query
func (r *Request) parseTarget() *ProtocolError {
	target := r.Target
	if target == "*" {
		if r.Method != MethodOptions {
			return malformed("asterisk target with %s", r.Method)
		}
		r.Path = "*"
		return nil
	}

	u, err := url.ParseRequestURI(target)
	if err != nil {
		return malformed("bad request target %q", target)
	}
	if !strings.HasPrefix(target, "/") && (u.Scheme == "" || u.Host == "") {
		return malformed("bad request target %q", target)
	}

	r.Path = u.Path
	if r.Path == "" {
		r.Path = "/"
	}
	r.RawQuery = u.RawQuery
	if u.RawQuery != "" {
		// Malformed pairs are skipped, the rest is kept.
		values, _ := url.ParseQuery(u.RawQuery)
		r.Query = make(map[string]string, len(values))
		for k, v := range values {
			r.Query[k] = v[len(v)-1]
		}
	}
	return nil
}
