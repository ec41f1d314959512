package http

import (
	"bytes"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// Limits bounds the memory a single request may pin
type Limits struct {
	// MaxHeaderBytes caps the request line plus the header block
	MaxHeaderBytes int
	// MaxHeaderLine caps any single line, including chunk size lines
	MaxHeaderLine int
	// MaxBodyBytes caps the decoded body
	MaxBodyBytes int64
}

// DefaultLimits returns conservative defaults
func DefaultLimits() Limits {
	return Limits{
		MaxHeaderBytes: 16 << 10,
		MaxHeaderLine:  8 << 10,
		MaxBodyBytes:   4 << 20,
	}
}

type parseState uint8

const (
	stateRequestLine parseState = iota
	stateHeaders
	stateBody
	stateChunkSize
	stateChunkData
	stateChunkDataEnd
	stateTrailers
)

// Phase is the externally visible progress of the parser
type Phase uint8

const (
	PhaseRequestLine Phase = iota
	PhaseHeaders
	PhaseBody
)

// Parser is an incremental HTTP/1.x request parser. It can be fed any
// split of the byte stream and yields the same request.
type Parser struct {
	limits Limits
	state  parseState

	req         *Request
	headerBytes int
	remaining   int64 // body or chunk bytes still expected
	body        []byte
}

// NewParser creates a parser enforcing limits
func NewParser(limits Limits) *Parser {
	if limits.MaxHeaderBytes <= 0 || limits.MaxHeaderLine <= 0 || limits.MaxBodyBytes < 0 {
		limits = DefaultLimits()
	}
	return &Parser{limits: limits}
}

// Phase reports which part of a request the parser is waiting for
func (p *Parser) Phase() Phase {
	switch p.state {
	case stateRequestLine:
		return PhaseRequestLine
	case stateHeaders:
		return PhaseHeaders
	default:
		return PhaseBody
	}
}

// Idle reports whether no partial request is buffered in the parser
func (p *Parser) Idle() bool {
	return p.state == stateRequestLine && p.req == nil
}

// Reset discards any partial request
func (p *Parser) Reset() {
	p.state = stateRequestLine
	p.req = nil
	p.headerBytes = 0
	p.remaining = 0
	p.body = nil
}

// Parse consumes bytes from data. It returns the number of bytes consumed and,
// once the last byte of a request has been consumed, the request. Bytes after
// n belong to the next request and must be passed in again on the next call.
// A non-nil error is a *ProtocolError and leaves the parser unusable.
func (p *Parser) Parse(data []byte) (req *Request, n int, err error) {
	for {
		switch p.state {
		case stateRequestLine, stateHeaders, stateChunkSize, stateTrailers:
			line, used, perr := p.nextLine(data[n:])
			if perr != nil {
				return nil, n, perr
			}
			if used == 0 {
				return nil, n, nil
			}
			n += used

			var done bool
			switch p.state {
			case stateRequestLine:
				perr = p.requestLine(line)
			case stateHeaders:
				done, perr = p.headerLine(line)
			case stateChunkSize:
				done, perr = p.chunkSize(line)
			case stateTrailers:
				done, perr = p.trailerLine(line)
			}
			if perr != nil {
				return nil, n, perr
			}
			if done {
				return p.complete(), n, nil
			}

		case stateBody, stateChunkData:
			avail := data[n:]
			if len(avail) == 0 {
				return nil, n, nil
			}
			take := int64(len(avail))
			if take > p.remaining {
				take = p.remaining
			}
			p.body = append(p.body, avail[:take]...)
			p.remaining -= take
			n += int(take)
			if p.remaining > 0 {
				return nil, n, nil
			}
			if p.state == stateBody {
				return p.complete(), n, nil
			}
			p.state = stateChunkDataEnd

		case stateChunkDataEnd:
			avail := data[n:]
			if len(avail) < 2 {
				if len(avail) == 1 && avail[0] != '\r' && avail[0] != '\n' {
					return nil, n, malformed("missing CRLF after chunk data")
				}
				if len(avail) == 1 && avail[0] == '\n' {
					n++
					p.state = stateChunkSize
					continue
				}
				return nil, n, nil
			}
			switch {
			case avail[0] == '\r' && avail[1] == '\n':
				n += 2
			case avail[0] == '\n':
				n++
			default:
				return nil, n, malformed("missing CRLF after chunk data")
			}
			p.state = stateChunkSize
		}
	}
}

// nextLine returns the next LF-terminated line without its terminator.
// used is 0 when the line is incomplete.
func (p *Parser) nextLine(data []byte) (line []byte, used int, err *ProtocolError) {
	idx := bytes.IndexByte(data, '\n')
	inHead := p.state == stateRequestLine || p.state == stateHeaders || p.state == stateTrailers

	if idx < 0 {
		if len(data) > p.limits.MaxHeaderLine {
			return nil, 0, p.lineTooLong()
		}
		if inHead && p.headerBytes+len(data) > p.limits.MaxHeaderBytes {
			return nil, 0, tooLarge(StatusRequestHeaderFieldsTooLarge, "header block exceeds %d bytes", p.limits.MaxHeaderBytes)
		}
		return nil, 0, nil
	}

	used = idx + 1
	line = data[:idx]
	if len(line) > 0 && line[len(line)-1] == '\r' {
		line = line[:len(line)-1]
	}
	if len(line) > p.limits.MaxHeaderLine {
		return nil, 0, p.lineTooLong()
	}
	if inHead {
		p.headerBytes += used
		if p.headerBytes > p.limits.MaxHeaderBytes {
			return nil, 0, tooLarge(StatusRequestHeaderFieldsTooLarge, "header block exceeds %d bytes", p.limits.MaxHeaderBytes)
		}
	}
	return line, used, nil
}

func (p *Parser) lineTooLong() *ProtocolError {
	if p.state == stateChunkSize {
		return malformed("chunk size line exceeds %d bytes", p.limits.MaxHeaderLine)
	}
	return tooLarge(StatusRequestHeaderFieldsTooLarge, "line exceeds %d bytes", p.limits.MaxHeaderLine)
}

func (p *Parser) requestLine(line []byte) *ProtocolError {
	// Empty lines before a request line are ignored (RFC 9112 2.2).
	if len(line) == 0 {
		p.headerBytes = 0
		return nil
	}

	sp1 := bytes.IndexByte(line, ' ')
	if sp1 <= 0 {
		return malformed("bad request line")
	}
	sp2 := bytes.IndexByte(line[sp1+1:], ' ')
	if sp2 <= 0 {
		return malformed("bad request line")
	}
	sp2 += sp1 + 1

	method := Method(line[:sp1])
	target := string(line[sp1+1 : sp2])
	proto := string(line[sp2+1:])

	if !method.Valid() {
		return malformed("bad method %q", method)
	}
	var minor int
	switch proto {
	case "HTTP/1.1":
		minor = 1
	case "HTTP/1.0":
		minor = 0
	default:
		return malformed("unsupported protocol %q", proto)
	}

	req := &Request{
		Method:     method,
		Target:     target,
		Proto:      proto,
		ProtoMinor: minor,
		Header:     make(Header, 8),
	}
	if err := req.parseTarget(); err != nil {
		return err
	}

	p.req = req
	p.state = stateHeaders
	return nil
}

func (p *Parser) headerLine(line []byte) (bool, *ProtocolError) {
	if len(line) == 0 {
		return p.endOfHeaders()
	}
	if line[0] == ' ' || line[0] == '\t' {
		return false, malformed("obsolete header line folding")
	}

	colon := bytes.IndexByte(line, ':')
	if colon <= 0 {
		return false, malformed("header line without colon")
	}
	name := string(line[:colon])
	if !httpguts.ValidHeaderFieldName(name) {
		return false, malformed("bad header name %q", name)
	}
	value := string(bytes.Trim(line[colon+1:], " \t"))
	if !httpguts.ValidHeaderFieldValue(value) {
		return false, malformed("bad value for header %q", name)
	}

	p.req.Header.Add(name, value)
	return false, nil
}

// endOfHeaders decides body framing once the header block is complete
func (p *Parser) endOfHeaders() (bool, *ProtocolError) {
	req := p.req
	h := req.Header

	if te := h.Values("transfer-encoding"); len(te) > 0 {
		if h.Has("content-length") {
			return false, malformed("both Transfer-Encoding and Content-Length")
		}
		codings := strings.Split(te[len(te)-1], ",")
		if !strings.EqualFold(strings.TrimSpace(codings[len(codings)-1]), "chunked") {
			return false, malformed("unsupported transfer coding %q", te[len(te)-1])
		}
		req.Chunked = true
		req.ContentLength = -1
		p.state = stateChunkSize
		return false, nil
	}

	length, perr := contentLength(h.Values("content-length"))
	if perr != nil {
		return false, perr
	}
	if length > p.limits.MaxBodyBytes {
		return false, tooLarge(StatusRequestEntityTooLarge, "declared body of %d bytes exceeds %d", length, p.limits.MaxBodyBytes)
	}
	req.ContentLength = length
	if length == 0 {
		return true, nil
	}

	p.remaining = length
	p.body = make([]byte, 0, length)
	p.state = stateBody
	return false, nil
}

func contentLength(values []string) (int64, *ProtocolError) {
	if len(values) == 0 {
		return 0, nil
	}
	length := int64(-1)
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			n, ok := parseDecimal(part)
			if !ok {
				return 0, malformed("bad Content-Length %q", v)
			}
			if length >= 0 && n != length {
				return 0, malformed("conflicting Content-Length values")
			}
			length = n
		}
	}
	return length, nil
}

func parseDecimal(s string) (int64, bool) {
	if s == "" || len(s) > 18 {
		return 0, false
	}
	var n int64
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int64(c-'0')
	}
	return n, true
}

func (p *Parser) chunkSize(line []byte) (bool, *ProtocolError) {
	// Chunk extensions are ignored.
	if semi := bytes.IndexByte(line, ';'); semi >= 0 {
		line = line[:semi]
	}
	sizeText := strings.TrimSpace(string(line))
	if sizeText == "" || len(sizeText) > 15 {
		return false, malformed("bad chunk size %q", sizeText)
	}
	size, err := strconv.ParseUint(sizeText, 16, 64)
	if err != nil {
		return false, malformed("bad chunk size %q", sizeText)
	}

	if size == 0 {
		p.state = stateTrailers
		return false, nil
	}
	if int64(len(p.body))+int64(size) > p.limits.MaxBodyBytes {
		return false, tooLarge(StatusRequestEntityTooLarge, "chunked body exceeds %d bytes", p.limits.MaxBodyBytes)
	}
	p.remaining = int64(size)
	p.state = stateChunkData
	return false, nil
}

// trailerLine discards trailer fields up to the terminating empty line
func (p *Parser) trailerLine(line []byte) (bool, *ProtocolError) {
	if len(line) == 0 {
		return true, nil
	}
	if bytes.IndexByte(line, ':') <= 0 {
		return false, malformed("bad trailer line")
	}
	return false, nil
}

func (p *Parser) complete() *Request {
	req := p.req
	if len(p.body) > 0 {
		req.Body = p.body
	}
	p.Reset()
	return req
}
