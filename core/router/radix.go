package router

import "strings"

type segmentKind uint8

const (
	literal segmentKind = iota // default
	param                      // {name}
)

type segment struct {
	kind  segmentKind
	value string // literal text or parameter name
}

// node is one level of the segment tree. Literal children are looked up by
// segment text, a single param child matches any non-empty segment.
type node[H any] struct {
	literals map[string]*node[H]
	param    *node[H]
	routes   []*Route[H]
}

func newNode[H any]() *node[H] {
	return &node[H]{}
}

func (n *node[H]) insert(r *Route[H]) {
	for _, seg := range r.segments {
		switch seg.kind {
		case literal:
			if n.literals == nil {
				n.literals = make(map[string]*node[H])
			}
			child, ok := n.literals[seg.value]
			if !ok {
				child = newNode[H]()
				n.literals[seg.value] = child
			}
			n = child
		case param:
			if n.param == nil {
				n.param = newNode[H]()
			}
			n = n.param
		}
	}
	n.routes = append(n.routes, r)
}

// collect appends every route whose pattern matches parts
func (n *node[H]) collect(parts []string, dst []*Route[H]) []*Route[H] {
	if len(parts) == 0 {
		return append(dst, n.routes...)
	}
	head, rest := parts[0], parts[1:]
	if child, ok := n.literals[head]; ok {
		dst = child.collect(rest, dst)
	}
	if n.param != nil && head != "" {
		dst = n.param.collect(rest, dst)
	}
	return dst
}

// splitPath turns "/a/b" into ["a" "b"]; "/" has no segments
func splitPath(path string) []string {
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func parsePattern(pattern string) ([]segment, error) {
	if !strings.HasPrefix(pattern, "/") {
		return nil, invalidPattern(pattern, "must begin with '/'")
	}

	parts := splitPath(pattern)
	segs := make([]segment, 0, len(parts))
	seen := make(map[string]bool)
	for _, part := range parts {
		if strings.HasPrefix(part, "{") && strings.HasSuffix(part, "}") {
			name := part[1 : len(part)-1]
			if name == "" || strings.ContainsAny(name, "{}") {
				return nil, invalidPattern(pattern, "bad parameter "+part)
			}
			if seen[name] {
				return nil, invalidPattern(pattern, "duplicate parameter "+name)
			}
			seen[name] = true
			segs = append(segs, segment{kind: param, value: name})
			continue
		}
		if strings.ContainsAny(part, "{}") {
			return nil, invalidPattern(pattern, "parameters must span a whole segment")
		}
		segs = append(segs, segment{kind: literal, value: part})
	}
	return segs, nil
}

// shapeKey identifies a pattern up to parameter names
func shapeKey(segs []segment) string {
	var b strings.Builder
	for _, seg := range segs {
		b.WriteByte('/')
		if seg.kind == param {
			b.WriteString("{}")
			continue
		}
		b.WriteString(seg.value)
	}
	return b.String()
}
