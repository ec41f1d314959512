package http

import (
	"strconv"
	"strings"
	"time"
)

// Version is reported in the Server header
const Version = "0.3.0"

// ServerName is the default Server header value
const ServerName = "wind/" + Version

// DefaultContentType is sent when a handler does not set one
const DefaultContentType = "text/html; charset=UTF-8"

const (
	StatusOK                          = 200
	StatusCreated                     = 201
	StatusAccepted                    = 202
	StatusNoContent                   = 204
	StatusMovedPermanently            = 301
	StatusFound                       = 302
	StatusNotModified                 = 304
	StatusBadRequest                  = 400
	StatusUnauthorized                = 401
	StatusForbidden                   = 403
	StatusNotFound                    = 404
	StatusMethodNotAllowed            = 405
	StatusRequestTimeout              = 408
	StatusConflict                    = 409
	StatusLengthRequired              = 411
	StatusRequestEntityTooLarge       = 413
	StatusUnsupportedMediaType        = 415
	StatusTooManyRequests             = 429
	StatusRequestHeaderFieldsTooLarge = 431
	StatusInternalServerError         = 500
	StatusNotImplemented              = 501
	StatusServiceUnavailable          = 503
	StatusGatewayTimeout              = 504
)

// StatusText returns the reason phrase for code
func StatusText(code int) string {
	switch code {
	case 200:
		return "OK"
	case 201:
		return "Created"
	case 202:
		return "Accepted"
	case 204:
		return "No Content"
	case 301:
		return "Moved Permanently"
	case 302:
		return "Found"
	case 304:
		return "Not Modified"
	case 400:
		return "Bad Request"
	case 401:
		return "Unauthorized"
	case 403:
		return "Forbidden"
	case 404:
		return "Not Found"
	case 405:
		return "Method Not Allowed"
	case 408:
		return "Request Timeout"
	case 409:
		return "Conflict"
	case 411:
		return "Length Required"
	case 413:
		return "Request Entity Too Large"
	case 415:
		return "Unsupported Media Type"
	case 429:
		return "Too Many Requests"
	case 431:
		return "Request Header Fields Too Large"
	case 500:
		return "Internal Server Error"
	case 501:
		return "Not Implemented"
	case 503:
		return "Service Unavailable"
	case 504:
		return "Gateway Timeout"
	default:
		return "Status " + strconv.Itoa(code)
	}
}

// bodyForbidden reports statuses that never carry a body or Content-Length
func bodyForbidden(code int) bool {
	return (code >= 100 && code < 200) || code == StatusNoContent || code == StatusNotModified
}

const dateLayout = "Mon, 02 Jan 2006 15:04:05 GMT"

// Head describes a response status line and header block
type Head struct {
	Status int
	Header *ResponseHeader
	// ContentLength is written unless Chunked is set or the status forbids a body
	ContentLength int
	Chunked       bool
	// UntilClose omits all framing; the body ends when the connection closes
	UntilClose bool
	Close      bool
	// KeepAlive announces a persistent connection to HTTP/1.0 clients
	KeepAlive bool
	Now       time.Time
}

// AppendHead serializes the status line and the header block, adding Date,
// Server, Content-Type, framing and Connection fields the handler did not set.
func AppendHead(dst []byte, h Head) []byte {
	status := h.Status
	if status == 0 {
		status = StatusOK
	}

	dst = append(dst, "HTTP/1.1 "...)
	dst = strconv.AppendInt(dst, int64(status), 10)
	dst = append(dst, ' ')
	dst = append(dst, StatusText(status)...)
	dst = append(dst, "\r\n"...)

	var hdr *ResponseHeader
	if h.Header != nil {
		hdr = h.Header
		for _, f := range hdr.Fields() {
			if isFramingField(f.Name) {
				continue
			}
			dst = appendField(dst, f.Name, f.Value)
		}
	} else {
		hdr = &ResponseHeader{}
	}

	if !hdr.Has("Date") {
		now := h.Now
		if now.IsZero() {
			now = time.Now()
		}
		dst = append(dst, "Date: "...)
		dst = now.UTC().AppendFormat(dst, dateLayout)
		dst = append(dst, "\r\n"...)
	}
	if !hdr.Has("Server") {
		dst = appendField(dst, "Server", ServerName)
	}

	if !bodyForbidden(status) {
		if !hdr.Has("Content-Type") {
			dst = appendField(dst, "Content-Type", DefaultContentType)
		}
		switch {
		case h.UntilClose:
		case h.Chunked:
			dst = appendField(dst, "Transfer-Encoding", "chunked")
		default:
			dst = append(dst, "Content-Length: "...)
			dst = strconv.AppendInt(dst, int64(h.ContentLength), 10)
			dst = append(dst, "\r\n"...)
		}
	}
	if h.Close || h.UntilClose {
		dst = appendField(dst, "Connection", "close")
	} else if h.KeepAlive {
		dst = appendField(dst, "Connection", "keep-alive")
	}

	return append(dst, "\r\n"...)
}

// AppendChunk frames p as one chunk of a chunked body
func AppendChunk(dst, p []byte) []byte {
	if len(p) == 0 {
		return dst
	}
	dst = strconv.AppendInt(dst, int64(len(p)), 16)
	dst = append(dst, "\r\n"...)
	dst = append(dst, p...)
	return append(dst, "\r\n"...)
}

// LastChunk terminates a chunked body
const LastChunk = "0\r\n\r\n"

// BodyAllowed reports whether a response with code to a method carries body bytes
func BodyAllowed(method Method, code int) bool {
	return method != MethodHead && !bodyForbidden(code)
}

func isFramingField(name string) bool {
	switch len(name) {
	case 10:
		return strings.EqualFold(name, "Connection")
	case 14:
		return strings.EqualFold(name, "Content-Length")
	case 17:
		return strings.EqualFold(name, "Transfer-Encoding")
	}
	return false
}

func appendField(dst []byte, name, value string) []byte {
	dst = append(dst, name...)
	dst = append(dst, ": "...)
	dst = append(dst, value...)
	return append(dst, "\r\n"...)
}
